package formula

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROGRESSIVE BRACKETS
// =============================================================================

// Bracket taxes the slice of income up to Cap at Rate (a fraction, 0.05 = 5%).
type Bracket struct {
	Cap  decimal.Decimal
	Rate decimal.Decimal
}

// BracketTable is an ordered list of cumulative caps plus the rate applied
// above the last cap.
type BracketTable struct {
	Brackets []Bracket
	TopRate  decimal.Decimal
}

// IsZero reports whether no brackets are configured.
func (t BracketTable) IsZero() bool { return len(t.Brackets) == 0 && t.TopRate.IsZero() }

// Progressive applies t to amount. Negative amounts owe nothing.
//
//	Progressive(6_000_000, 5m@5%, 10m@10%, ...) = 5m×0.05 + 1m×0.10 = 350_000
func Progressive(amount decimal.Decimal, t BracketTable) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	tax := decimal.Zero
	lower := decimal.Zero
	for _, b := range t.Brackets {
		if amount.LessThanOrEqual(b.Cap) {
			return tax.Add(amount.Sub(lower).Mul(b.Rate))
		}
		tax = tax.Add(b.Cap.Sub(lower).Mul(b.Rate))
		lower = b.Cap
	}
	return tax.Add(amount.Sub(lower).Mul(t.TopRate))
}

// Validate checks that caps strictly increase and no rate is negative.
func (t BracketTable) Validate() error {
	prev := decimal.Zero
	for i, b := range t.Brackets {
		if !b.Cap.GreaterThan(prev) {
			return fmt.Errorf("bracket %d: cap %s must exceed %s", i+1, b.Cap, prev)
		}
		if b.Rate.IsNegative() {
			return fmt.Errorf("bracket %d: negative rate", i+1)
		}
		prev = b.Cap
	}
	if t.TopRate.IsNegative() {
		return errors.New("negative top rate")
	}
	return nil
}

// =============================================================================
// BUILTIN FUNCTIONS - The whole callable surface of a formula
// =============================================================================

type builtin struct {
	minArgs int
	maxArgs int // -1 = variadic
	fn      func(env *Env, args []Value) (Value, error)
	lazy    func(ev *evaluator, n *callExpr) (Value, error)
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"min":         {minArgs: 1, maxArgs: -1, fn: fnMin},
		"max":         {minArgs: 1, maxArgs: -1, fn: fnMax},
		"abs":         {minArgs: 1, maxArgs: 1, fn: numeric1(decimal.Decimal.Abs)},
		"floor":       {minArgs: 1, maxArgs: 1, fn: numeric1(decimal.Decimal.Floor)},
		"ceil":        {minArgs: 1, maxArgs: 1, fn: numeric1(decimal.Decimal.Ceil)},
		"int":         {minArgs: 1, maxArgs: 1, fn: fnInt},
		"number":      {minArgs: 1, maxArgs: 1, fn: fnNumber},
		"round":       {minArgs: 1, maxArgs: 2, fn: fnRound},
		"get_code":    {minArgs: 1, maxArgs: 1, fn: fnGetCode},
		"v":           {minArgs: 1, maxArgs: 2, fn: fnVar},
		"has":         {minArgs: 1, maxArgs: 1, fn: fnHas},
		"progressive": {minArgs: 2, maxArgs: -1, fn: fnProgressive},
		"pit":         {minArgs: 1, maxArgs: 1, fn: fnPIT},
		"if":          {minArgs: 3, maxArgs: 3, lazy: lazyIf},
		"coalesce":    {minArgs: 1, maxArgs: -1, lazy: lazyCoalesce},
	}
}

// Functions lists the callable names, for documentation and the check endpoint.
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func numbers(args []Value) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(args))
	for i, a := range args {
		d, ok := a.Num()
		if !ok {
			return nil, fmt.Errorf("argument %d must be a number, got %s", i+1, a.Kind())
		}
		out[i] = d
	}
	return out, nil
}

func numeric1(f func(decimal.Decimal) decimal.Decimal) func(*Env, []Value) (Value, error) {
	return func(_ *Env, args []Value) (Value, error) {
		ds, err := numbers(args)
		if err != nil {
			return Null(), err
		}
		return Number(f(ds[0])), nil
	}
}

func fnMin(_ *Env, args []Value) (Value, error) {
	ds, err := numbers(args)
	if err != nil {
		return Null(), err
	}
	return Number(decimal.Min(ds[0], ds[1:]...)), nil
}

func fnMax(_ *Env, args []Value) (Value, error) {
	ds, err := numbers(args)
	if err != nil {
		return Null(), err
	}
	return Number(decimal.Max(ds[0], ds[1:]...)), nil
}

func fnInt(_ *Env, args []Value) (Value, error) {
	d, err := toNumber(args[0])
	if err != nil {
		return Null(), err
	}
	return Number(d.Truncate(0)), nil
}

func fnNumber(_ *Env, args []Value) (Value, error) {
	d, err := toNumber(args[0])
	if err != nil {
		return Null(), err
	}
	return Number(d), nil
}

const maxRoundPlaces = 32

// fnRound rounds half to even, matching the rounding the salary formulas
// were written against.
func fnRound(_ *Env, args []Value) (Value, error) {
	ds, err := numbers(args)
	if err != nil {
		return Null(), err
	}
	places := int32(0)
	if len(ds) == 2 {
		if !ds[1].IsInteger() {
			return Null(), errors.New("places must be an integer")
		}
		if ds[1].Abs().GreaterThan(decimal.NewFromInt(maxRoundPlaces)) {
			return Null(), fmt.Errorf("places must be within ±%d", maxRoundPlaces)
		}
		places = int32(ds[1].IntPart())
	}
	return Number(ds[0].RoundBank(places)), nil
}

func fnGetCode(env *Env, args []Value) (Value, error) {
	code, ok := args[0].Str()
	if !ok {
		return Null(), fmt.Errorf("code must be a string, got %s", args[0].Kind())
	}
	if env.Codes == nil {
		return Number(decimal.Zero), nil
	}
	d, found := env.Codes(code)
	if !found {
		return Number(decimal.Zero), nil
	}
	return Number(d), nil
}

func fnVar(env *Env, args []Value) (Value, error) {
	key, ok := args[0].Str()
	if !ok {
		return Null(), fmt.Errorf("key must be a string, got %s", args[0].Kind())
	}
	v, found := env.Vars[key]
	if !found || v.IsNull() {
		if len(args) == 2 {
			return args[1], nil
		}
		return Null(), nil
	}
	return v, nil
}

func fnHas(env *Env, args []Value) (Value, error) {
	key, ok := args[0].Str()
	if !ok {
		return Null(), fmt.Errorf("key must be a string, got %s", args[0].Kind())
	}
	v, found := env.Vars[key]
	return Bool(found && !v.IsNull()), nil
}

// fnProgressive takes (amount, cap1, rate1, ..., capN, rateN, topRate).
func fnProgressive(_ *Env, args []Value) (Value, error) {
	if len(args)%2 != 0 {
		return Null(), errors.New("expected amount, cap/rate pairs and a top rate")
	}
	ds, err := numbers(args)
	if err != nil {
		return Null(), err
	}
	table := BracketTable{TopRate: ds[len(ds)-1]}
	for i := 1; i < len(ds)-1; i += 2 {
		table.Brackets = append(table.Brackets, Bracket{Cap: ds[i], Rate: ds[i+1]})
	}
	if err := table.Validate(); err != nil {
		return Null(), err
	}
	return Number(Progressive(ds[0], table)), nil
}

func fnPIT(env *Env, args []Value) (Value, error) {
	if env.Brackets.IsZero() {
		return Null(), errors.New("no tax brackets configured")
	}
	ds, err := numbers(args)
	if err != nil {
		return Null(), err
	}
	return Number(Progressive(ds[0], env.Brackets)), nil
}

func lazyIf(ev *evaluator, n *callExpr) (Value, error) {
	c, err := ev.eval(n.args[0])
	if err != nil {
		return Null(), err
	}
	if c.Truthy() {
		return ev.eval(n.args[1])
	}
	return ev.eval(n.args[2])
}

// lazyCoalesce returns the first argument that evaluates without error to a
// truthy value, or the last argument's result.
func lazyCoalesce(ev *evaluator, n *callExpr) (Value, error) {
	last := len(n.args) - 1
	for i, a := range n.args {
		v, err := ev.eval(a)
		if i == last {
			return v, err
		}
		if err == nil && v.Truthy() {
			return v, nil
		}
	}
	return Null(), nil
}
