/*
Package adjust applies point adjustments on top of the KPI total.

PURPOSE:
  Adjustment rules add or subtract points per occurrence of an event
  (late arrivals, commendations, incidents). Manual records are entered
  by an operator. Automatic records are synchronised from a variable of
  the employee's period, e.g. sum_late from the timesheet.

KEY CONCEPTS:
  - Rule: kind add/subtract, points per occurrence, source manual or
    automatic, variable key for automatic rules
  - Record: occurrences × points = total, optionally linked to a payslip
  - Final score: KPI total + Σ add − Σ subtract over the records linked
    to one payslip

IDEMPOTENCE:
  SyncAutomatic upserts one record per (employee, period, rule, payslip).
  Running it again with unchanged inputs rewrites the same records.
  Manual records are never read or written by the sync.

EXAMPLE:
  rule := adjust.Rule{
      Code: "LATE", Kind: generic.AdjustmentSubtract,
      PointsPerOccurrence: dec("0.5"),
      Source: generic.SourceAutomatic, VariableKey: "sum_late",
      Active: true,
  }
  // sum_late = 4.9  ->  4 occurrences  ->  2 points subtracted

SEE ALSO:
  - engine.go: Sync, manual entry and final score
  - variables/: Resolves the occurrence counts
*/
package adjust

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Rule is one adjustment rule.
type Rule struct {
	Code                string
	Name                string
	Sequence            int
	Kind                generic.AdjustmentKind
	PointsPerOccurrence decimal.Decimal
	Source              generic.AdjustmentSource
	VariableKey         string
	Description         string
	Active              bool
}

// Automatic reports whether SyncAutomatic processes the rule.
func (r Rule) Automatic() bool {
	return r.Active && r.Source == generic.SourceAutomatic && r.VariableKey != ""
}

func (r Rule) Validate() error {
	subject := fmt.Sprintf("adjustment rule %q", r.Code)
	if r.Code == "" {
		return generic.NewConfigurationError("adjustment rule", "code is required")
	}
	switch r.Kind {
	case generic.AdjustmentAdd, generic.AdjustmentSubtract:
	default:
		return generic.NewConfigurationError(subject, "unknown kind %q", r.Kind)
	}
	switch r.Source {
	case generic.SourceManual, generic.SourceAutomatic:
	default:
		return generic.NewConfigurationError(subject, "unknown source %q", r.Source)
	}
	if r.PointsPerOccurrence.IsNegative() {
		return generic.NewConfigurationError(subject, "points per occurrence must not be negative")
	}
	return nil
}

// Rules is an adjustment rule set with unique codes.
type Rules []Rule

// Validate checks each rule and code uniqueness.
func (rs Rules) Validate() error {
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Code] {
			return generic.NewConfigurationError("adjustment rule "+r.Code, "duplicate code")
		}
		seen[r.Code] = true
	}
	return nil
}

// Lookup finds a rule by code.
func (rs Rules) Lookup(code string) (Rule, bool) {
	for _, r := range rs {
		if r.Code == code {
			return r, true
		}
	}
	return Rule{}, false
}

// Automatic returns the automatic rules ordered by (sequence, code).
func (rs Rules) Automatic() []Rule {
	var out []Rule
	for _, r := range rs {
		if r.Automatic() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// VariableKeys returns the distinct variable keys of the automatic rules.
func (rs Rules) VariableKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range rs.Automatic() {
		if !seen[r.VariableKey] {
			seen[r.VariableKey] = true
			keys = append(keys, r.VariableKey)
		}
	}
	sort.Strings(keys)
	return keys
}
