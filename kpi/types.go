/*
Package kpi scores employees on the work items they were assigned.

PURPOSE:
  Work items (tasks) carry tags. Labels map tags to weighted buckets,
  labels belong to groups, and groups contribute a percentage to the
  employee's total KPI score. The pipeline per employee and period is:

    Aggregate  count assigned/on-time/late/overdue items per label
    Score      E_G per label, ratio per group, weighted group scores
    Persist    one KpiRecord per (employee, period, group)

KEY CONCEPTS:
  - Group: weight in percent; weights are not normalised, a total above
    100 scales the overall score accordingly
  - Label: one per (group, tag); weight inside its group, zero reads as 1
  - QualityProfile: coefficients for on-time, late and overdue items
  - WorkItem: done flag, completion and deadline timestamps, tags

MULTIPLICITY:
  An item tagged with several mapped tags counts once under every label
  it matches, for assignment and for its classified bucket alike.

EXAMPLE:
  One label, weight 1, assigned 10, on-time 8, late 1, overdue 1,
  profile {1.0, 0.5, 0.2}, group weight 40:
    E_G   = 8×1.0 + 1×0.5 + 1×0.2 = 8.7
    ratio = 8.7 / 10              = 0.87
    score = 0.87 × 40             = 34.8

SEE ALSO:
  - classify.go: Outcome of a single item
  - aggregate.go: Counting per label
  - score.go: Scorecard
  - service.go: Per-employee computation and persistence
*/
package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// Group is a weighted collection of labels.
type Group struct {
	Code     string
	Name     string
	Weight   decimal.Decimal // percent of the total score
	Sequence int
	Active   bool
}

// Label maps one external tag to a weighted bucket of a group.
type Label struct {
	ID        string
	Name      string
	GroupCode string
	TagID     string
	Weight    decimal.Decimal
	Active    bool
}

// EffectiveWeight is the weight used for scoring. An unset (zero) weight
// counts as 1.
func (l Label) EffectiveWeight() decimal.Decimal {
	if l.Weight.IsZero() {
		return decimal.NewFromInt(1)
	}
	return l.Weight
}

// QualityProfile holds the coefficients applied to classified items.
type QualityProfile struct {
	Name    string
	OnTime  decimal.Decimal
	Late    decimal.Decimal
	Overdue decimal.Decimal
}

// DefaultQualityProfile is {1.0, 0.5, 0.2}.
func DefaultQualityProfile() QualityProfile {
	return QualityProfile{
		Name:    "Default",
		OnTime:  decimal.NewFromInt(1),
		Late:    decimal.RequireFromString("0.5"),
		Overdue: decimal.RequireFromString("0.2"),
	}
}

// Validate rejects negative coefficients.
func (p QualityProfile) Validate() error {
	if p.OnTime.IsNegative() || p.Late.IsNegative() || p.Overdue.IsNegative() {
		return generic.NewConfigurationError("quality profile "+p.Name, "coefficients must not be negative")
	}
	return nil
}

// Config is the KPI configuration shared read-only by every employee pass.
type Config struct {
	Groups               []Group
	Labels               []Label
	Profile              *QualityProfile
	OverdueThresholdDays *int // nil: DefaultOverdueThresholdDays; 0: any delay is overdue
}

// ActiveGroups returns the active groups ordered by (sequence, code).
func (c Config) ActiveGroups() []Group {
	var out []Group
	for _, g := range c.Groups {
		if g.Active {
			out = append(out, g)
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

// ActiveLabels returns the active labels in configuration order.
func (c Config) ActiveLabels() []Label {
	var out []Label
	for _, l := range c.Labels {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

// Threshold returns the overdue threshold, DefaultOverdueThresholdDays
// when unset.
func (c Config) Threshold() int {
	return threshold(c.OverdueThresholdDays)
}

func threshold(days *int) int {
	if days == nil {
		return DefaultOverdueThresholdDays
	}
	return *days
}

// Validate enforces the invariants the scorer trusts: unique group codes,
// one label per (group, tag), non-negative weights and threshold.
func (c Config) Validate() error {
	if c.OverdueThresholdDays != nil && *c.OverdueThresholdDays < 0 {
		return generic.NewConfigurationError("kpi config", "overdue threshold must not be negative")
	}
	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Code == "" {
			return generic.NewConfigurationError("kpi group", "code is required")
		}
		if groups[g.Code] {
			return generic.NewConfigurationError("kpi group "+g.Code, "duplicate code")
		}
		if g.Weight.IsNegative() {
			return generic.NewConfigurationError("kpi group "+g.Code, "weight must not be negative")
		}
		groups[g.Code] = true
	}

	type pair struct{ group, tag string }
	seen := make(map[pair]bool, len(c.Labels))
	ids := make(map[string]bool, len(c.Labels))
	for _, l := range c.Labels {
		subject := fmt.Sprintf("kpi label %q", l.ID)
		if l.ID == "" || ids[l.ID] {
			return generic.NewConfigurationError(subject, "id is required and must be unique")
		}
		ids[l.ID] = true
		if !groups[l.GroupCode] {
			return generic.NewConfigurationError(subject, "unknown group %q", l.GroupCode)
		}
		if l.Weight.IsNegative() {
			return generic.NewConfigurationError(subject, "weight must not be negative")
		}
		k := pair{l.GroupCode, l.TagID}
		if l.TagID != "" && seen[k] {
			return generic.NewConfigurationError(subject, "tag %q already mapped in group %s", l.TagID, l.GroupCode)
		}
		seen[k] = true
	}

	if c.Profile != nil {
		return c.Profile.Validate()
	}
	return nil
}

// =============================================================================
// WORK ITEMS
// =============================================================================

// WorkItem is one unit of assigned work as reported by the task system.
type WorkItem struct {
	ID       string
	Assignee string
	Done     bool
	DoneAt   *time.Time
	Deadline *time.Time
	TagIDs   []string
}

// WorkItemSource returns the items assigned to assignee whose deadline
// falls in [from, to] and which carry at least one of tagIDs.
type WorkItemSource interface {
	Query(ctx context.Context, assignee string, from, to time.Time, tagIDs []string) ([]WorkItem, error)
}
