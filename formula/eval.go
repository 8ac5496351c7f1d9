package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CodeLookup returns the value a previous rule produced for code.
type CodeLookup func(code string) (decimal.Decimal, bool)

// Env is the complete set of names a formula can see. Nothing else is
// reachable: there is no I/O, no assignment and no way to mutate a binding.
type Env struct {
	Vars     Record       // V and vars
	Employee Record       // employee
	Period   Record       // period
	Params   Record       // params
	Codes    CodeLookup   // get_code
	Brackets BracketTable // pit
}

// runtimeError carries the offset of the failing node.
type runtimeError struct {
	pos int
	msg string
}

func (e *runtimeError) Error() string { return e.msg }

func errAt(n node, format string, args ...any) error {
	return &runtimeError{pos: n.position(), msg: fmt.Sprintf(format, args...)}
}

type evaluator struct {
	env *Env
}

func (ev *evaluator) lookup(n *ident) (Value, error) {
	switch n.name {
	case "V", "vars":
		return RecordValue(ev.env.Vars), nil
	case "employee":
		return RecordValue(ev.env.Employee), nil
	case "period":
		return RecordValue(ev.env.Period), nil
	case "params":
		return RecordValue(ev.env.Params), nil
	}
	if _, ok := builtins[n.name]; ok {
		return Null(), errAt(n, "function %s must be called", n.name)
	}
	return Null(), errAt(n, "unknown name %q", n.name)
}

func (ev *evaluator) eval(n node) (Value, error) {
	switch n := n.(type) {
	case *numberLit:
		return Number(n.val), nil
	case *stringLit:
		return String(n.val), nil
	case *boolLit:
		return Bool(n.val), nil
	case *nullLit:
		return Null(), nil
	case *ident:
		return ev.lookup(n)
	case *unaryExpr:
		return ev.unary(n)
	case *binaryExpr:
		return ev.binary(n)
	case *logicalExpr:
		return ev.logical(n)
	case *condExpr:
		c, err := ev.eval(n.cond)
		if err != nil {
			return Null(), err
		}
		if c.Truthy() {
			return ev.eval(n.then)
		}
		return ev.eval(n.els)
	case *memberExpr:
		x, err := ev.eval(n.x)
		if err != nil {
			return Null(), err
		}
		return field(n, x, n.name)
	case *indexExpr:
		x, err := ev.eval(n.x)
		if err != nil {
			return Null(), err
		}
		k, err := ev.eval(n.key)
		if err != nil {
			return Null(), err
		}
		key, ok := k.Str()
		if !ok {
			return Null(), errAt(n, "index key must be a string, got %s", k.Kind())
		}
		return field(n, x, key)
	case *callExpr:
		return ev.call(n)
	}
	return Null(), fmt.Errorf("unsupported node %T", n)
}

func field(n node, x Value, name string) (Value, error) {
	if x.kind != KindRecord {
		return Null(), errAt(n, "cannot read %q from %s", name, x.Kind())
	}
	v, ok := x.rec[name]
	if !ok {
		return Null(), errAt(n, "unknown field %q", name)
	}
	return v, nil
}

func (ev *evaluator) unary(n *unaryExpr) (Value, error) {
	x, err := ev.eval(n.x)
	if err != nil {
		return Null(), err
	}
	switch n.op {
	case "not":
		return Bool(!x.Truthy()), nil
	case "-", "+":
		d, ok := x.Num()
		if !ok {
			return Null(), errAt(n, "unary %s needs a number, got %s", n.op, x.Kind())
		}
		if n.op == "-" {
			d = d.Neg()
		}
		return Number(d), nil
	}
	return Null(), errAt(n, "unknown operator %s", n.op)
}

func (ev *evaluator) logical(n *logicalExpr) (Value, error) {
	l, err := ev.eval(n.l)
	if err != nil {
		return Null(), err
	}
	if n.and != l.Truthy() {
		return Bool(l.Truthy()), nil
	}
	r, err := ev.eval(n.r)
	if err != nil {
		return Null(), err
	}
	return Bool(r.Truthy()), nil
}

func (ev *evaluator) binary(n *binaryExpr) (Value, error) {
	l, err := ev.eval(n.l)
	if err != nil {
		return Null(), err
	}
	r, err := ev.eval(n.r)
	if err != nil {
		return Null(), err
	}
	switch n.op {
	case "==":
		return Bool(equal(l, r)), nil
	case "!=":
		return Bool(!equal(l, r)), nil
	case "<", "<=", ">", ">=":
		c, err := compare(n, l, r)
		if err != nil {
			return Null(), err
		}
		switch n.op {
		case "<":
			return Bool(c < 0), nil
		case "<=":
			return Bool(c <= 0), nil
		case ">":
			return Bool(c > 0), nil
		default:
			return Bool(c >= 0), nil
		}
	}

	if n.op == "+" && l.kind == KindString && r.kind == KindString {
		return String(l.s + r.s), nil
	}
	a, aok := l.Num()
	b, bok := r.Num()
	if !aok || !bok {
		return Null(), errAt(n, "operator %s needs numbers, got %s and %s", n.op, l.Kind(), r.Kind())
	}
	switch n.op {
	case "+":
		return Number(a.Add(b)), nil
	case "-":
		return Number(a.Sub(b)), nil
	case "*":
		return Number(a.Mul(b)), nil
	case "/":
		if b.IsZero() {
			return Null(), errAt(n, "division by zero")
		}
		return Number(a.Div(b)), nil
	case "%":
		if b.IsZero() {
			return Null(), errAt(n, "modulo by zero")
		}
		return Number(a.Mod(b)), nil
	}
	return Null(), errAt(n, "unknown operator %s", n.op)
}

func equal(l, r Value) bool {
	if l.kind != r.kind {
		return false
	}
	switch l.kind {
	case KindNull:
		return true
	case KindNumber:
		return l.num.Equal(r.num)
	case KindBool:
		return l.b == r.b
	case KindString:
		return l.s == r.s
	}
	return false
}

func compare(n node, l, r Value) (int, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		return l.num.Cmp(r.num), nil
	case l.kind == KindString && r.kind == KindString:
		switch {
		case l.s < r.s:
			return -1, nil
		case l.s > r.s:
			return 1, nil
		}
		return 0, nil
	}
	return 0, errAt(n, "cannot order %s and %s", l.Kind(), r.Kind())
}

func (ev *evaluator) call(n *callExpr) (Value, error) {
	b, ok := builtins[n.name]
	if !ok {
		return Null(), errAt(n, "unknown function %q", n.name)
	}
	if len(n.args) < b.minArgs || (b.maxArgs >= 0 && len(n.args) > b.maxArgs) {
		return Null(), errAt(n, "%s: wrong number of arguments (%d)", n.name, len(n.args))
	}
	if b.lazy != nil {
		return b.lazy(ev, n)
	}
	args := make([]Value, len(n.args))
	for i, a := range n.args {
		v, err := ev.eval(a)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}
	v, err := b.fn(ev.env, args)
	if err != nil {
		return Null(), errAt(n, "%s: %v", n.name, err)
	}
	return v, nil
}
