package kpi

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// SourceWorkItems names the work item source in defaulted inputs.
const SourceWorkItems = "work_items"

// LabelCounts is the per-label tally for one employee and period.
type LabelCounts struct {
	Label    Label
	Weight   decimal.Decimal // effective weight
	Assigned int
	OnTime   int
	Late     int
	Overdue  int
}

func (c *LabelCounts) add(o Outcome) {
	switch o {
	case OnTime:
		c.OnTime++
	case Late:
		c.Late++
	case Overdue:
		c.Overdue++
	}
}

// Aggregator counts work items per label.
type Aggregator struct {
	Source        WorkItemSource
	ThresholdDays *int
}

// Aggregate tallies the employee's items whose deadline falls in the
// period's deadline window.
//
// The result has one entry per label, in label order. An employee without
// an account gets no entries. When no label maps a tag, every counter is
// zero and the source is not queried. When the source fails the zero
// counters are returned with a DataUnavailableError.
func (a *Aggregator) Aggregate(ctx context.Context, emp generic.Employee, period generic.Period, labels []Label) ([]LabelCounts, error) {
	if !emp.HasAccount() {
		return nil, nil
	}

	counts := make([]LabelCounts, len(labels))
	byTag := make(map[string][]int)
	var tags []string
	for i, l := range labels {
		counts[i] = LabelCounts{Label: l, Weight: l.EffectiveWeight()}
		if l.TagID == "" {
			continue
		}
		if _, ok := byTag[l.TagID]; !ok {
			tags = append(tags, l.TagID)
		}
		byTag[l.TagID] = append(byTag[l.TagID], i)
	}
	if len(tags) == 0 {
		return counts, nil
	}

	from, to := period.DeadlineWindow()
	items, err := a.Source.Query(ctx, emp.AccountID, from, to, tags)
	if err != nil {
		return counts, &generic.DataUnavailableError{Source: SourceWorkItems, Err: err}
	}

	limit := threshold(a.ThresholdDays)
	for _, item := range items {
		outcome := Classify(item, limit)
		for _, tag := range item.TagIDs {
			for _, i := range byTag[tag] {
				counts[i].Assigned++
				counts[i].add(outcome)
			}
		}
	}
	return counts, nil
}
