package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// DocID is the user-facing stable identifier of a document, unique within
// a namespace.
type DocID uint64

// Vector is a dense embedding with the namespace's configured dimension.
type Vector []float32

// Metric is the distance metric used for vector comparison.
type Metric uint8

const (
	MetricCosine Metric = iota
	MetricL2
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMetric parses a metric name ("cosine", "l2", "dot").
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return MetricCosine, nil
	case "l2":
		return MetricL2, nil
	case "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", s)
	}
}

// Descending reports whether larger scores are better under this metric.
func (m Metric) Descending() bool { return m != MetricL2 }

func (m Metric) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMetric(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ValueKind discriminates the typed attribute value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindStringArray
)

// Value is a typed attribute value. The zero value is null.
type Value struct {
	Kind ValueKind
	S    string
	I    int64
	F    float64
	B    bool
	A    []string
}

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// Int returns an int64 value.
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// Float returns a float64 value.
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Strings returns a list-of-string value.
func Strings(a ...string) Value { return Value{Kind: KindStringArray, A: a} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat widens numeric values to float64 for comparisons.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// Equal compares two values. Int and float compare numerically.
func (v Value) Equal(o Value) bool {
	if v.Kind == KindNull || o.Kind == KindNull {
		return v.Kind == o.Kind
	}
	if af, aok := v.AsFloat(); aok {
		if bf, bok := o.AsFloat(); bok {
			if v.Kind == KindInt && o.Kind == KindInt {
				return v.I == o.I
			}
			return af == bf
		}
		return false
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.S == o.S
	case KindBool:
		return v.B == o.B
	case KindStringArray:
		if len(v.A) != len(o.A) {
			return false
		}
		for i := range v.A {
			if v.A[i] != o.A[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the value untagged, matching the external JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.S)
	case KindInt:
		return json.Marshal(v.I)
	case KindFloat:
		return json.Marshal(v.F)
	case KindBool:
		return json.Marshal(v.B)
	case KindStringArray:
		if v.A == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.A)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// UnmarshalJSON decodes an untagged JSON value. Whole numbers decode as
// int64; fractional numbers as float64.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueFromAny converts a decoded JSON value (string, json.Number, float64,
// int, bool, []any of strings, or nil) into a typed Value.
func ValueFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x)), nil
		}
		return Float(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case []any:
		arr := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return Value{}, fmt.Errorf("array attribute values must be strings, got %T", e)
			}
			arr = append(arr, s)
		}
		return Strings(arr...), nil
	case []string:
		return Strings(x...), nil
	default:
		return Value{}, fmt.Errorf("unsupported attribute value type %T", raw)
	}
}

// Document is a single record: id, optional vector, and typed attributes.
type Document struct {
	ID         DocID            `json:"id"`
	Vector     Vector           `json:"vector,omitempty"`
	Attributes map[string]Value `json:"attributes,omitempty"`
}
