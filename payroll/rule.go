/*
Package payroll turns a salary structure and an employee's resolved
variables into payslip lines.

PURPOSE:
  A Structure is an ordered set of Rules. Each rule has a Condition that
  decides whether it applies and an Amount that decides what it
  produces. The Engine walks the active rules in (sequence, id) order;
  every produced amount is recorded under the rule's code and becomes
  visible to the rules that follow it.

KEY CONCEPTS:
  - Condition: Always, or WhenExpr evaluated by the formula sandbox
  - Amount: Fixed, PercentOf an earlier code, or Formula
  - Code map: forward-only, last writer wins on repeated codes
  - Params: statutory parameters threaded in as the params binding

FAILURE POLICY:
  A condition that fails to evaluate is false and the rule is skipped.
  An amount that fails to evaluate is zero and the line is still
  emitted. Neither aborts the pass; both are reported in Result.Failures.
  An empty active rule set is a ConfigurationError.

EXAMPLE:
  rule := payroll.Rule{
      ID: 30, Code: "INS_EMP", Name: "Insurance (employee)",
      Sequence: 30, Category: generic.CategoryDeduction,
      Condition: payroll.Always{},
      Amount:    payroll.PercentOf{Percent: dec("-10.5"), BaseCode: "SI_BASE"},
      Active:    true,
  }

SEE ALSO:
  - engine.go: Evaluation pass
  - defaults.go: Standard Vietnamese structure
  - service.go: Resolve, evaluate and persist for one payslip
*/
package payroll

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// CONDITION - When a rule applies
// =============================================================================

// ConditionKind names the condition variants for configuration files.
type ConditionKind string

const (
	ConditionAlways     ConditionKind = "always"
	ConditionExpression ConditionKind = "expression"
)

// Condition is a closed sum type: Always or WhenExpr.
type Condition interface {
	ConditionKind() ConditionKind
	isCondition()
}

// Always passes unconditionally.
type Always struct{}

func (Always) ConditionKind() ConditionKind { return ConditionAlways }
func (Always) isCondition()                 {}

// WhenExpr passes when Expr evaluates truthy.
type WhenExpr struct {
	Expr string
}

func (WhenExpr) ConditionKind() ConditionKind { return ConditionExpression }
func (WhenExpr) isCondition()                 {}

// =============================================================================
// AMOUNT - What a rule produces
// =============================================================================

// AmountKind names the amount variants for configuration files.
type AmountKind string

const (
	AmountFixed      AmountKind = "fixed"
	AmountPercent    AmountKind = "percent"
	AmountExpression AmountKind = "expression"
)

// Amount is a closed sum type: Fixed, PercentOf or Formula.
type Amount interface {
	AmountKind() AmountKind
	isAmount()
}

// Fixed always produces Value.
type Fixed struct {
	Value decimal.Decimal
}

func (Fixed) AmountKind() AmountKind { return AmountFixed }
func (Fixed) isAmount()              {}

// PercentOf produces codes[BaseCode] × Percent / 100. A base code not yet
// produced in the pass reads as zero.
type PercentOf struct {
	Percent  decimal.Decimal
	BaseCode string
}

func (PercentOf) AmountKind() AmountKind { return AmountPercent }
func (PercentOf) isAmount()              {}

// Formula evaluates Expr in amount mode.
type Formula struct {
	Expr string
}

func (Formula) AmountKind() AmountKind { return AmountExpression }
func (Formula) isAmount()              {}

// =============================================================================
// RULE
// =============================================================================

// Rule is one salary rule. It is immutable during an evaluation pass.
type Rule struct {
	ID        int64
	Code      string
	Name      string
	Sequence  int
	Category  generic.Category
	Condition Condition
	Amount    Amount
	Active    bool
	Note      string
}

// Validate checks the fields the engine relies on.
func (r Rule) Validate() error {
	subject := fmt.Sprintf("rule %q", r.Code)
	if strings.TrimSpace(r.Code) == "" {
		return generic.NewConfigurationError("rule", "code is required (id %d)", r.ID)
	}
	if !r.Category.Valid() {
		return generic.NewConfigurationError(subject, "unknown category %q", r.Category)
	}
	switch c := r.Condition.(type) {
	case nil, Always:
	case WhenExpr:
		if strings.TrimSpace(c.Expr) == "" {
			return generic.NewConfigurationError(subject, "expression condition has no expression")
		}
	default:
		return generic.NewConfigurationError(subject, "unsupported condition %T", c)
	}
	switch a := r.Amount.(type) {
	case Fixed:
	case PercentOf:
		if a.BaseCode == "" {
			return generic.NewConfigurationError(subject, "percent amount needs a base code")
		}
	case Formula:
		if strings.TrimSpace(a.Expr) == "" {
			return generic.NewConfigurationError(subject, "expression amount has no expression")
		}
	case nil:
		return generic.NewConfigurationError(subject, "amount is required")
	default:
		return generic.NewConfigurationError(subject, "unsupported amount %T", a)
	}
	return nil
}

// =============================================================================
// STRUCTURE
// =============================================================================

// Structure groups the rules applied to a payslip. A rule may belong to
// several structures.
type Structure struct {
	Code  string
	Name  string
	Rules []Rule
}

// ActiveRules returns the active rules sorted by (sequence, id).
func (s Structure) ActiveRules() []Rule {
	out := make([]Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Validate checks every rule of the structure.
func (s Structure) Validate() error {
	for _, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("structure %s: %w", s.Code, err)
		}
	}
	return nil
}
