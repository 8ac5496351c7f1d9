/*
Package formula is the restricted expression sandbox used by salary rules.

PURPOSE:
  Evaluates rule conditions and amount expressions written by payroll
  administrators. A formula is a single expression over a fixed set of
  read-only bindings; it cannot assign, loop, import or reach the outside
  world.

BINDINGS:
  V / vars   resolved variables for the employee and period
  employee   employee fields (id, code, name, department_id, ...)
  period     period fields (start, end, days)
  params     payroll parameters (deduction amounts, insurance rates)
  get_code   value produced by an earlier rule, 0 when absent
  pit        progressive income tax over the configured brackets

GRAMMAR:
  Arithmetic (+ - * / %), comparisons, and/or/not (also && || !),
  the ternary c ? a : b, field access (V.base_wage, V["base_wage"]) and
  calls to the whitelisted functions in builtins.go. Numbers are decimals.

FAILURE POLICY:
  Condition returns false and Amount returns zero whenever the formula
  fails to parse or evaluate. The error is still returned so callers can
  log and count it, but it must never abort a payroll run.

USAGE:
  sb := formula.NewSandbox()
  ok, err := sb.Condition(`V.wage_type == "hourly"`, env)
  amt, err := sb.Amount(`round(get_code("BASIC") * 0.08, 2)`, env)

SEE ALSO:
  - payroll/engine.go: Applies the failure policy per rule
  - builtins.go: Function whitelist
*/
package formula

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Program is a parsed formula, safe for concurrent evaluation.
type Program struct {
	src  string
	root node
}

// Compile parses src. The error is a *generic.FormulaError.
func Compile(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, wrap(src, err)
	}
	return &Program{src: src, root: root}, nil
}

// Source returns the text the program was compiled from.
func (p *Program) Source() string { return p.src }

// Eval runs the program against env.
func (p *Program) Eval(env *Env) (Value, error) {
	if env == nil {
		env = &Env{}
	}
	ev := &evaluator{env: env}
	v, err := ev.eval(p.root)
	if err != nil {
		return Null(), wrap(p.src, err)
	}
	return v, nil
}

func wrap(src string, err error) error {
	var se *syntaxError
	if errors.As(err, &se) {
		return &generic.FormulaError{Source: src, Pos: se.pos, Msg: "syntax error: " + se.msg}
	}
	var re *runtimeError
	if errors.As(err, &re) {
		return &generic.FormulaError{Source: src, Pos: re.pos, Msg: re.msg}
	}
	return &generic.FormulaError{Source: src, Pos: -1, Msg: err.Error()}
}

// =============================================================================
// SANDBOX - Compile cache plus the two evaluation modes
// =============================================================================

// Sandbox caches compiled programs by source text. Rules are shared by every
// worker of a batch, so the cache is guarded.
type Sandbox struct {
	mu    sync.RWMutex
	cache map[string]compiled
}

type compiled struct {
	prog *Program
	err  error
}

func NewSandbox() *Sandbox {
	return &Sandbox{cache: make(map[string]compiled)}
}

func (s *Sandbox) compile(src string) (*Program, error) {
	s.mu.RLock()
	c, ok := s.cache[src]
	s.mu.RUnlock()
	if ok {
		return c.prog, c.err
	}
	prog, err := Compile(src)
	s.mu.Lock()
	s.cache[src] = compiled{prog: prog, err: err}
	s.mu.Unlock()
	return prog, err
}

// Check reports a syntax error without evaluating.
func (s *Sandbox) Check(src string) error {
	_, err := s.compile(src)
	return err
}

// Condition evaluates src in condition mode. Any failure yields false.
func (s *Sandbox) Condition(src string, env *Env) (bool, error) {
	prog, err := s.compile(src)
	if err != nil {
		return false, err
	}
	v, err := prog.Eval(env)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Amount evaluates src in amount mode. Any failure yields zero.
func (s *Sandbox) Amount(src string, env *Env) (decimal.Decimal, error) {
	prog, err := s.compile(src)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := prog.Eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := toNumber(v)
	if err != nil {
		return decimal.Zero, &generic.FormulaError{Source: src, Pos: -1, Msg: fmt.Sprintf("result: %v", err)}
	}
	return d, nil
}
