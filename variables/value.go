/*
Package variables resolves the named inputs salary formulas read through V.

PURPOSE:
  A payroll pass needs a flat map of employee-and-period facts (base wage,
  worked days, dependents, late count, KPI totals). This package defines
  the typed value those facts are carried in, the catalog that declares
  each known key's type and origin, and the resolvers that fill the map
  from upstream sources.

KEY CONCEPTS:
  - Value: raw upstream value plus declared Type, coerced at read time
  - Map: unique key → Value
  - Catalog: declared keys (type, kind, source:field)
  - Resolver: fills a Map for (employee, from, to, keys)

TYPE CHECKING:
  Known keys are coerced to their declared type when read. A value that
  does not fit (e.g. "abc" for an integer) reads as the type's zero value
  and the conversion error is reported. Unknown keys pass through with
  TypeOpaque and are converted by their Go type.

SEE ALSO:
  - resolver.go: Resolver implementations
  - catalog.go: Variable definitions
  - payroll/service.go: Binds the Map as V
*/
package variables

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// Type is a declared variable type.
type Type string

const (
	TypeText     Type = "char"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeDate     Type = "date"
	TypeBoolean  Type = "boolean"
	TypeMonetary Type = "monetary"
	TypeOpaque   Type = ""
)

// Valid reports whether t is a declarable type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeInteger, TypeFloat, TypeDate, TypeBoolean, TypeMonetary:
		return true
	}
	return false
}

// Numeric reports whether values of t bind as numbers.
func (t Type) Numeric() bool {
	return t == TypeInteger || t == TypeFloat || t == TypeMonetary
}

// =============================================================================
// VALUE
// =============================================================================

// Value is one resolved variable. Raw keeps whatever the source produced.
type Value struct {
	Key  string
	Type Type
	Raw  any
}

func (v Value) IsNull() bool { return v.Raw == nil }

// Decimal reads the value as a number.
func (v Value) Decimal() (decimal.Decimal, error) {
	switch raw := v.Raw.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return raw, nil
	case bool:
		if raw {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	case float32:
		if err := finite(v.Key, float64(raw)); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromFloat32(raw), nil
	case float64:
		if err := finite(v.Key, raw); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromFloat(raw), nil
	}
	s, err := cast.ToStringE(v.Raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("variable %s: %w", v.Key, err)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("variable %s: %q is not a number", v.Key, s)
	}
	return d, nil
}

// finite rejects NaN and ±Inf, which decimal cannot represent.
func finite(key string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("variable %s: %v is not a finite number", key, f)
	}
	return nil
}

// Int reads the value as an integer, truncating any fraction.
func (v Value) Int() (int64, error) {
	d, err := v.Decimal()
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

// Bool reads the value as a boolean.
func (v Value) Bool() (bool, error) {
	b, err := cast.ToBoolE(v.Raw)
	if err != nil {
		return false, fmt.Errorf("variable %s: %w", v.Key, err)
	}
	return b, nil
}

// Text reads the value as a string.
func (v Value) Text() (string, error) {
	if v.Raw == nil {
		return "", nil
	}
	if d, ok := v.Raw.(decimal.Decimal); ok {
		return d.String(), nil
	}
	s, err := cast.ToStringE(v.Raw)
	if err != nil {
		return "", fmt.Errorf("variable %s: %w", v.Key, err)
	}
	return s, nil
}

// Date reads the value as a calendar date.
func (v Value) Date() (time.Time, error) {
	t, err := cast.ToTimeE(v.Raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("variable %s: %w", v.Key, err)
	}
	return t, nil
}

// Formula converts the value to its formula binding according to its
// declared type. On a type mismatch the type's zero value is returned with
// the error.
func (v Value) Formula() (formula.Value, error) {
	if v.Raw == nil {
		return formula.Null(), nil
	}
	switch v.Type {
	case TypeInteger:
		i, err := v.Int()
		return formula.Int(i), err
	case TypeFloat, TypeMonetary:
		d, err := v.Decimal()
		return formula.Number(d), err
	case TypeBoolean:
		b, err := v.Bool()
		return formula.Bool(b), err
	case TypeDate:
		t, err := v.Date()
		if err != nil {
			return formula.String(""), err
		}
		return formula.String(generic.FormatDate(t)), nil
	case TypeText:
		s, err := v.Text()
		return formula.String(s), err
	}
	return opaque(v.Raw), nil
}

func opaque(raw any) formula.Value {
	switch r := raw.(type) {
	case decimal.Decimal:
		return formula.Number(r)
	case bool:
		return formula.Bool(r)
	case string:
		return formula.String(r)
	case time.Time:
		return formula.String(generic.FormatDate(r))
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if d, err := decimal.NewFromString(cast.ToString(r)); err == nil {
			return formula.Number(d)
		}
		return formula.Null()
	}
	return formula.String(fmt.Sprint(raw))
}

// =============================================================================
// MAP
// =============================================================================

// Map holds resolved variables by key.
type Map map[string]Value

// Set stores raw under key with the given declared type.
func (m Map) Set(key string, t Type, raw any) {
	m[key] = Value{Key: key, Type: t, Raw: raw}
}

// Get returns the value for key.
func (m Map) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// Decimal returns key as a number, zero when missing or not numeric.
func (m Map) Decimal(key string) decimal.Decimal {
	v, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	d, err := v.Decimal()
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Merge copies other into m; other wins on conflicting keys.
func (m Map) Merge(other Map) {
	for k, v := range other {
		m[k] = v
	}
}

// Keys returns the keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record converts the map to the read-only V binding. Conversion errors are
// returned alongside; the offending keys bind as their type's zero value.
func (m Map) Record() (formula.Record, []error) {
	rec := make(formula.Record, len(m))
	var errs []error
	for _, k := range m.Keys() {
		fv, err := m[k].Formula()
		if err != nil {
			errs = append(errs, err)
		}
		rec[k] = fv
	}
	return rec, errs
}
