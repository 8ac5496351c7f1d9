package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindString
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindRecord:
		return "record"
	}
	return "null"
}

// Record is a read-only name → value binding such as V, employee or period.
type Record map[string]Value

// Value is what every formula expression evaluates to.
type Value struct {
	kind Kind
	num  decimal.Decimal
	b    bool
	s    string
	rec  Record
}

func Null() Value { return Value{} }
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func RecordValue(r Record) Value { return Value{kind: KindRecord, rec: r} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Num returns the decimal held by a number value.
func (v Value) Num() (decimal.Decimal, bool) {
	if v.kind != KindNumber {
		return decimal.Zero, false
	}
	return v.num, true
}

// Str returns the text held by a string value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Truthy follows the usual scripting rules: null, false, zero and the empty
// string are false; everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return !v.num.IsZero()
	case KindBool:
		return v.b
	case KindString:
		return v.s != ""
	case KindRecord:
		return len(v.rec) > 0
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	case KindRecord:
		keys := make([]string, 0, len(v.rec))
		for k := range v.rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "{" + strings.Join(keys, ", ") + "}"
	}
	return "null"
}

// toNumber converts a value for amount mode. Booleans count as 1/0 and
// numeric strings are parsed.
func toNumber(v Value) (decimal.Decimal, error) {
	switch v.kind {
	case KindNumber:
		return v.num, nil
	case KindBool:
		if v.b {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	case KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.s))
		if err != nil {
			return decimal.Zero, fmt.Errorf("string %q is not a number", v.s)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%s is not a number", v.kind)
}
