package filter

import (
	"encoding/json"
	"fmt"

	"github.com/lqhl/elacsym/model"
)

// Op is a leaf comparison operator.
type Op string

const (
	OpEq          Op = "eq"
	OpNe          Op = "ne"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpContains    Op = "contains"
	OpContainsAny Op = "contains_any"
)

// Expr is a filter expression: either a leaf condition (Field/Operator/
// Value) or a composite (Logic and nested Conditions). Composites nest
// arbitrarily.
type Expr struct {
	// Logic is "and" or "or" for composites; empty for leaves.
	Logic      string
	Conditions []*Expr

	Field    string
	Operator Op
	Value    model.Value
}

// IsLeaf reports whether the expression is a leaf condition.
func (e *Expr) IsLeaf() bool { return e.Logic == "" }

// And builds a conjunction.
func And(conditions ...*Expr) *Expr {
	return &Expr{Logic: "and", Conditions: conditions}
}

// Or builds a disjunction.
func Or(conditions ...*Expr) *Expr {
	return &Expr{Logic: "or", Conditions: conditions}
}

// Cond builds a leaf condition.
func Cond(field string, op Op, value model.Value) *Expr {
	return &Expr{Field: field, Operator: op, Value: value}
}

type exprJSON struct {
	Type       string            `json:"type,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
	Field      string            `json:"field,omitempty"`
	Op         Op                `json:"op,omitempty"`
	Value      model.Value       `json:"value,omitempty"`
}

// UnmarshalJSON accepts `{type: and|or, conditions: [...]}` composites and
// `{field, op, value}` leaves.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var raw exprJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "" {
		if raw.Type != "and" && raw.Type != "or" {
			return fmt.Errorf("unknown filter composite type %q", raw.Type)
		}
		e.Logic = raw.Type
		e.Conditions = make([]*Expr, 0, len(raw.Conditions))
		for _, c := range raw.Conditions {
			child := &Expr{}
			if err := child.UnmarshalJSON(c); err != nil {
				return err
			}
			e.Conditions = append(e.Conditions, child)
		}
		return nil
	}
	if raw.Field == "" || raw.Op == "" {
		return fmt.Errorf("filter leaf requires field and op")
	}
	e.Field = raw.Field
	e.Operator = raw.Op
	e.Value = raw.Value
	return nil
}

// MarshalJSON emits the external JSON shape.
func (e *Expr) MarshalJSON() ([]byte, error) {
	if !e.IsLeaf() {
		conditions := make([]json.RawMessage, 0, len(e.Conditions))
		for _, c := range e.Conditions {
			b, err := c.MarshalJSON()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, b)
		}
		return json.Marshal(exprJSON{Type: e.Logic, Conditions: conditions})
	}
	return json.Marshal(exprJSON{Field: e.Field, Op: e.Operator, Value: e.Value})
}

// opPermitsType reports whether an operator accepts an attribute type.
func opPermitsType(op Op, t model.AttributeType) bool {
	switch op {
	case OpEq, OpNe:
		return true
	case OpLt, OpLte, OpGt, OpGte:
		return t == model.TypeInt || t == model.TypeFloat
	case OpContains, OpContainsAny:
		return t == model.TypeStringArray
	default:
		return false
	}
}

// Validate type-checks the expression against the schema. Unknown fields
// are rejected; operator/type mismatches are rejected.
func (e *Expr) Validate(schema *model.Schema) error {
	if !e.IsLeaf() {
		if len(e.Conditions) == 0 {
			return fmt.Errorf("filter composite %q has no conditions", e.Logic)
		}
		for _, c := range e.Conditions {
			if err := c.Validate(schema); err != nil {
				return err
			}
		}
		return nil
	}
	attr, ok := schema.Attributes[e.Field]
	if !ok {
		return fmt.Errorf("filter references undeclared attribute %q", e.Field)
	}
	if !opPermitsType(e.Operator, attr.Type) {
		return fmt.Errorf("operator %q not permitted on attribute %q of type %s",
			e.Operator, e.Field, attr.Type)
	}
	if e.Operator == OpContainsAny && e.Value.Kind != model.KindStringArray {
		return fmt.Errorf("contains_any requires a list-of-string value")
	}
	if e.Operator == OpContains && e.Value.Kind != model.KindString {
		return fmt.Errorf("contains requires a string value")
	}
	return nil
}

// Matches evaluates the expression against an in-memory attribute map.
// Used by the scan fallback and by conditional writes.
func (e *Expr) Matches(attrs map[string]model.Value) bool {
	if !e.IsLeaf() {
		if e.Logic == "and" {
			for _, c := range e.Conditions {
				if !c.Matches(attrs) {
					return false
				}
			}
			return true
		}
		for _, c := range e.Conditions {
			if c.Matches(attrs) {
				return true
			}
		}
		return false
	}
	return matchLeaf(e, attrs[e.Field])
}

func matchLeaf(e *Expr, v model.Value) bool {
	switch e.Operator {
	case OpEq:
		return !v.IsNull() && v.Equal(e.Value)
	case OpNe:
		// Null attributes satisfy ne: the value is absent, so it is
		// not equal.
		return v.IsNull() || !v.Equal(e.Value)
	case OpLt, OpLte, OpGt, OpGte:
		a, aok := v.AsFloat()
		b, bok := e.Value.AsFloat()
		if !aok || !bok {
			return false
		}
		switch e.Operator {
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		case OpGt:
			return a > b
		default:
			return a >= b
		}
	case OpContains:
		if v.Kind != model.KindStringArray || e.Value.Kind != model.KindString {
			return false
		}
		for _, s := range v.A {
			if s == e.Value.S {
				return true
			}
		}
		return false
	case OpContainsAny:
		if v.Kind != model.KindStringArray || e.Value.Kind != model.KindStringArray {
			return false
		}
		for _, s := range v.A {
			for _, want := range e.Value.A {
				if s == want {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}
