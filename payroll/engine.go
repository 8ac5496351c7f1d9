package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/variables"
)

// =============================================================================
// ENGINE - One evaluation pass over a structure
// =============================================================================

// Engine evaluates structures. It holds no per-pass state and is safe for
// concurrent use by batch workers.
type Engine struct {
	Sandbox *formula.Sandbox
	Log     logrus.FieldLogger
}

func NewEngine(log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{Sandbox: formula.NewSandbox(), Log: log}
}

// Input is everything one pass reads.
type Input struct {
	Structure Structure
	Vars      variables.Map
	Employee  generic.Employee
	Period    generic.Period
	Params    Params
}

// Failure is a formula that failed and was recovered by the failure policy.
type Failure struct {
	RuleCode string
	Mode     string // "condition" or "amount"
	Err      error
}

// Result is the output of one pass.
type Result struct {
	Lines    []generic.PayslipLine
	Codes    map[string]decimal.Decimal
	Failures []Failure
	Skipped  []string

	// VarIssues are variables whose value did not match the declared
	// type and were read as zero.
	VarIssues []error

	// Defaulted names the inputs replaced by empty values because their
	// source was unavailable. Set by Service.
	Defaulted []string
}

// Code returns the final value of code, zero when never produced.
func (r *Result) Code(code string) decimal.Decimal {
	return r.Codes[code]
}

// Evaluate runs the active rules of in.Structure in (sequence, id) order.
//
// Each rule sees only the codes produced by the rules before it. A repeated
// code is overwritten by the later rule. Formula failures never abort the
// pass: a failed condition skips the rule and a failed amount emits a zero
// line.
func (e *Engine) Evaluate(in Input) (*Result, error) {
	rules := in.Structure.ActiveRules()
	if len(rules) == 0 {
		return nil, generic.NewConfigurationError("structure "+in.Structure.Code, "no active rules")
	}

	log := e.Log.WithFields(logrus.Fields{
		"employee":  in.Employee.ID,
		"structure": in.Structure.Code,
	})

	res := &Result{Codes: make(map[string]decimal.Decimal, len(rules))}
	vars, issues := in.Vars.Record()
	res.VarIssues = issues
	for _, err := range issues {
		log.WithError(err).Warn("variable read as zero")
	}

	env := &formula.Env{
		Vars:     vars,
		Employee: EmployeeRecord(in.Employee),
		Period:   PeriodRecord(in.Period),
		Params:   in.Params.Record(),
		Brackets: in.Params.PIT,
		Codes: func(code string) (decimal.Decimal, bool) {
			d, ok := res.Codes[code]
			return d, ok
		},
	}

	for _, rule := range rules {
		ok, err := e.condition(rule, env)
		if err != nil {
			res.Failures = append(res.Failures, Failure{RuleCode: rule.Code, Mode: "condition", Err: err})
			log.WithField("rule", rule.Code).WithError(err).Warn("condition failed, rule skipped")
		}
		if !ok {
			res.Skipped = append(res.Skipped, rule.Code)
			continue
		}

		amount, err := e.amount(rule, env, res.Codes)
		if err != nil {
			res.Failures = append(res.Failures, Failure{RuleCode: rule.Code, Mode: "amount", Err: err})
			log.WithField("rule", rule.Code).WithError(err).Warn("amount failed, line set to zero")
		}

		res.Codes[rule.Code] = amount
		line := generic.NewPayslipLine(rule.Code, rule.Name, rule.Sequence, rule.Category, amount)
		line.RuleID = rule.ID
		res.Lines = append(res.Lines, line)
	}
	return res, nil
}

func (e *Engine) condition(rule Rule, env *formula.Env) (bool, error) {
	switch c := rule.Condition.(type) {
	case nil, Always:
		return true, nil
	case WhenExpr:
		return e.Sandbox.Condition(c.Expr, env)
	}
	return false, generic.NewConfigurationError("rule "+rule.Code, "unsupported condition")
}

func (e *Engine) amount(rule Rule, env *formula.Env, codes map[string]decimal.Decimal) (decimal.Decimal, error) {
	switch a := rule.Amount.(type) {
	case Fixed:
		return a.Value, nil
	case PercentOf:
		return codes[a.BaseCode].Mul(a.Percent).Div(decimal.NewFromInt(100)), nil
	case Formula:
		return e.Sandbox.Amount(a.Expr, env)
	}
	return decimal.Zero, generic.NewConfigurationError("rule "+rule.Code, "unsupported amount")
}

// =============================================================================
// BINDINGS
// =============================================================================

// EmployeeRecord is the employee binding of a formula.
func EmployeeRecord(emp generic.Employee) formula.Record {
	return formula.Record{
		"id":            formula.String(string(emp.ID)),
		"code":          formula.String(emp.Code),
		"name":          formula.String(emp.Name),
		"account_id":    formula.String(emp.AccountID),
		"department_id": formula.String(emp.DepartmentID),
		"job_title":     formula.String(emp.JobTitle),
	}
}

// PeriodRecord is the period binding of a formula. Dates are ISO strings
// so they compare correctly as text.
func PeriodRecord(p generic.Period) formula.Record {
	rec := formula.Record{
		"id":   formula.String(string(p.ID)),
		"name": formula.String(p.Name),
	}
	if p.Start.IsZero() || p.End.IsZero() {
		rec["start"], rec["end"], rec["days"] = formula.Null(), formula.Null(), formula.Int(0)
		return rec
	}
	rec["start"] = formula.String(generic.FormatDate(p.Start))
	rec["end"] = formula.String(generic.FormatDate(p.End))
	rec["days"] = formula.Int(int64(p.Days()))
	return rec
}
