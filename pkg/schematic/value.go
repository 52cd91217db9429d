package schematic

import (
	"strconv"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/units"
)

// ValueKind tags a parameter Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindVar    ValueKind = "var"
)

// Value is a parameter value as the user applied it: literal text such as
// "1u", a number, or the name of a design variable swept at simulation time.
type Value struct {
	Kind ValueKind `json:"kind" bson:"kind"`
	Text string    `json:"text,omitempty" bson:"text,omitempty"`
	Num  float64   `json:"num,omitempty" bson:"num,omitempty"`
}

// String returns a literal text value.
func String(s string) Value { return Value{Kind: KindString, Text: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Var returns a symbolic value naming a design variable.
func Var(name string) Value { return Value{Kind: KindVar, Text: name} }

// Backend returns the text handed to the backend.
func (v Value) Backend() string {
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return v.Text
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.Kind == KindVar {
		return "$" + v.Text
	}
	return v.Backend()
}

// Empty reports whether the value is the empty string.
func (v Value) Empty() bool {
	return v.Kind != KindNumber && v.Text == ""
}

// Float returns the numeric form of the value. Var values have none.
func (v Value) Float() (float64, error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindString:
		return units.Parse(v.Text)
	}
	return 0, errors.New(errors.ErrCodeInvalidValue, "variable %s has no numeric value", v.Text)
}

func (v Value) validate() error {
	switch v.Kind {
	case KindString, KindNumber:
		return nil
	case KindVar:
		if v.Text == "" {
			return errors.New(errors.ErrCodeInvalidValue, "variable name cannot be empty")
		}
		return nil
	}
	return errors.New(errors.ErrCodeInvalidValue, "unknown value kind %q", v.Kind)
}

// ValueOf converts a Go value: strings become String, numbers become Number,
// and Values pass through.
func ValueOf(x any) (Value, error) {
	switch x := x.(type) {
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	}
	return Value{}, errors.New(errors.ErrCodeInvalidValue, "unsupported parameter value type %T", x)
}
