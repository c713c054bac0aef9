package codegen

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: an addressable operand handed to and returned by the engine
//
// Values are immutable once built. The Kind decides which fields are
// meaningful and how Operand() renders the value in instruction text.
// ---------------------------------------------------------------------------

// ValueKind describes what a Value refers to.
type ValueKind int

const (
	ValNone     ValueKind = iota // zero Value
	ValString                    // string literal (Text)
	ValNumber                    // numeric literal (Text), usable as an immediate
	ValGlobal                    // reserved storage in .bss
	ValConst                     // initialized storage in .data
	ValLocal                     // stack slot at [bp - Offset]
	ValRegister                  // physical register
)

func (k ValueKind) String() string {
	switch k {
	case ValNone:
		return "none"
	case ValString:
		return "string"
	case ValNumber:
		return "number"
	case ValGlobal:
		return "global"
	case ValConst:
		return "const"
	case ValLocal:
		return "local"
	case ValRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Value is a single operand.
type Value struct {
	Kind ValueKind
	Name string // symbol name (Global, Const, Local) or register name (Register)
	Type string // semantic type name, e.g. "int32", "float"
	Text string // literal text (String, Number)

	// Offset is the positive displacement below the base pointer (Local).
	Offset int
	// Base is the base pointer register name (Local).
	Base string

	// Temp marks a register whose release returns it to the pool.
	// Permanent registers (cached parameters) ignore release.
	Temp bool
}

// Convenience constructors for literals.

// Str returns a string literal.
func Str(s string) Value { return Value{Kind: ValString, Text: s, Type: "str"} }

// Int returns an integer literal typed int64. Call sites that care about the
// width use IntOf.
func Int(v int64) Value { return IntOf(v, "int64") }

// IntOf returns an integer literal with an explicit type.
func IntOf(v int64, typ string) Value {
	return Value{Kind: ValNumber, Text: strconv.FormatInt(v, 10), Type: typ}
}

// Float returns a single-precision floating literal.
func Float(v float64) Value { return FloatOf(v, "float") }

// FloatOf returns a floating literal with an explicit type.
func FloatOf(v float64, typ string) Value {
	return Value{Kind: ValNumber, Text: formatFloat(v), Type: typ}
}

// Number returns a numeric literal from its source text, keeping the
// spelling. The type is "float" when the text has a fraction or exponent,
// "int64" otherwise.
func Number(text string) (Value, error) {
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Value{Kind: ValNumber, Text: text, Type: "int64"}, nil
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return Value{}, fmt.Errorf("invalid numeric literal %q", text)
	}
	return Value{Kind: ValNumber, Text: text, Type: "float"}, nil
}

// formatFloat renders a float so that it always reads as one ("1.0", not "1").
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// WithType returns a copy of v carrying a different type.
func (v Value) WithType(typ string) Value {
	v.Type = typ
	return v
}

// Operand renders the value as instruction operand text.
func (v Value) Operand() string {
	switch v.Kind {
	case ValGlobal, ValConst:
		return fmt.Sprintf("[%s]", v.Name)
	case ValLocal:
		return fmt.Sprintf("[%s-%d]", v.Base, v.Offset)
	case ValRegister:
		return v.Name
	case ValNumber, ValString:
		return v.Text
	default:
		return ""
	}
}

// IsRegister reports whether the value already lives in a register.
func (v Value) IsRegister() bool { return v.Kind == ValRegister }

// IsMemory reports whether the value renders as a memory reference.
func (v Value) IsMemory() bool {
	return v.Kind == ValGlobal || v.Kind == ValConst || v.Kind == ValLocal
}

// IsFloat reports whether the value's type belongs to the floating class.
func (v Value) IsFloat() bool { return IsFloatType(v.Type) }

func (v Value) String() string {
	switch v.Kind {
	case ValNone:
		return "<none>"
	case ValString:
		return strconv.Quote(v.Text)
	case ValNumber:
		return fmt.Sprintf("%s:%s", v.Text, v.Type)
	case ValRegister:
		if v.Temp {
			return fmt.Sprintf("%%%s:%s (temp)", v.Name, v.Type)
		}
		return fmt.Sprintf("%%%s:%s", v.Name, v.Type)
	default:
		return fmt.Sprintf("%s %s:%s", v.Kind, v.Operand(), v.Type)
	}
}
