package model

import (
	"encoding/json"
	"fmt"
)

// AttributeType is the declared type of a schema attribute.
type AttributeType uint8

const (
	TypeString AttributeType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeStringArray
)

func (t AttributeType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int64"
	case TypeFloat:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeStringArray:
		return "[]string"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseAttributeType parses an attribute type name. Aliases from older
// schema payloads ("integer", "float", "boolean", "array<string>") are
// accepted alongside the canonical names.
func ParseAttributeType(s string) (AttributeType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "int64", "int", "integer":
		return TypeInt, nil
	case "float64", "float", "double":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "[]string", "array<string>", "list-of-string", "list<string>":
		return TypeStringArray, nil
	default:
		return 0, fmt.Errorf("unsupported attribute type: %q", s)
	}
}

func (t AttributeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *AttributeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAttributeType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Matches reports whether a value conforms to the attribute type. Null
// always conforms (missing attribute).
func (t AttributeType) Matches(v Value) bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return t == TypeString
	case KindInt:
		// Whole JSON numbers decode as int; accept for float columns.
		return t == TypeInt || t == TypeFloat
	case KindFloat:
		return t == TypeFloat
	case KindBool:
		return t == TypeBool
	case KindStringArray:
		return t == TypeStringArray
	default:
		return false
	}
}

// FullText configures the analyzer for a full-text-searchable attribute.
// The zero value means full-text search is disabled.
type FullText struct {
	Enabled         bool   `json:"enabled"`
	Language        string `json:"language,omitempty"`
	Stemming        bool   `json:"stemming,omitempty"`
	RemoveStopwords bool   `json:"remove_stopwords,omitempty"`
	CaseSensitive   bool   `json:"case_sensitive,omitempty"`
	ASCIIFolding    bool   `json:"ascii_folding,omitempty"`
	MaxTokenLength  int    `json:"max_token_length,omitempty"`
}

// SimpleFullText is the "simple" preset: English, lowercase, no stemming.
func SimpleFullText() FullText {
	return FullText{Enabled: true, Language: "english"}
}

// UnmarshalJSON accepts either a bare bool ("full_text": true means the
// simple preset) or the full advanced object.
func (f *FullText) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*f = SimpleFullText()
		} else {
			*f = FullText{}
		}
		return nil
	}
	type alias FullText
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = FullText(a)
	return nil
}

// AttributeSchema describes one declared attribute.
type AttributeSchema struct {
	Type     AttributeType `json:"type"`
	Indexed  bool          `json:"indexed,omitempty"`
	FullText FullText      `json:"full_text,omitempty"`
}

// Schema is the immutable namespace schema.
type Schema struct {
	VectorDim    int                        `json:"vector_dim"`
	VectorMetric Metric                     `json:"vector_metric"`
	Attributes   map[string]AttributeSchema `json:"attributes"`
}

// Validate checks internal consistency of the schema itself.
func (s *Schema) Validate() error {
	if s.VectorDim <= 0 {
		return fmt.Errorf("vector_dim must be positive, got %d", s.VectorDim)
	}
	for name, attr := range s.Attributes {
		if name == "" {
			return fmt.Errorf("attribute name must not be empty")
		}
		if attr.FullText.Enabled && attr.Type != TypeString {
			return fmt.Errorf("attribute %q: full_text requires string type, got %s", name, attr.Type)
		}
	}
	return nil
}

// ValidateDocument checks a document against the schema. Undeclared
// attribute keys are not an error; the ingest path drops them silently.
func (s *Schema) ValidateDocument(doc *Document) error {
	if doc.Vector != nil && len(doc.Vector) != s.VectorDim {
		return fmt.Errorf("document %d: vector dimension mismatch: expected %d, got %d",
			doc.ID, s.VectorDim, len(doc.Vector))
	}
	for name, value := range doc.Attributes {
		attr, ok := s.Attributes[name]
		if !ok {
			continue
		}
		if !attr.Type.Matches(value) {
			return fmt.Errorf("document %d: attribute %q: value does not conform to declared type %s",
				doc.ID, name, attr.Type)
		}
	}
	return nil
}

// DropUndeclared removes attribute keys not present in the schema.
func (s *Schema) DropUndeclared(doc *Document) {
	for name := range doc.Attributes {
		if _, ok := s.Attributes[name]; !ok {
			delete(doc.Attributes, name)
		}
	}
}

// FullTextFields returns the names of attributes with full-text enabled.
func (s *Schema) FullTextFields() []string {
	var fields []string
	for name, attr := range s.Attributes {
		if attr.FullText.Enabled {
			fields = append(fields, name)
		}
	}
	return fields
}

// IndexedFields returns the names of attributes with filter indexes.
func (s *Schema) IndexedFields() []string {
	var fields []string
	for name, attr := range s.Attributes {
		if attr.Indexed {
			fields = append(fields, name)
		}
	}
	return fields
}
