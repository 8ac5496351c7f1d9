package kpi

import "github.com/warp/payroll-engine/generic"

// DefaultOverdueThresholdDays is the delay, in whole days, above which a
// late item becomes overdue.
const DefaultOverdueThresholdDays = 7

// Outcome is the classification of one work item.
type Outcome string

const (
	Excluded Outcome = "excluded"
	OnTime   Outcome = "ontime"
	Late     Outcome = "late"
	Overdue  Outcome = "overdue"
)

// Counted reports whether the outcome feeds a bucket.
func (o Outcome) Counted() bool { return o == OnTime || o == Late || o == Overdue }

// Classify judges one item against its deadline.
//
// Items that are not done, have no completion time or have no deadline are
// excluded. Otherwise the delay is rounded up to whole days, so one hour
// late is one day late.
//
//	deadline D, done D-1h   -> OnTime
//	deadline D, done D+25h  -> 2 days -> Late (threshold 7)
//	deadline D, done D+8d   -> Overdue
func Classify(item WorkItem, thresholdDays int) Outcome {
	if !item.Done || item.DoneAt == nil {
		return Excluded
	}
	if item.Deadline == nil {
		return Excluded
	}
	done, due := *item.DoneAt, *item.Deadline
	if !done.After(due) {
		return OnTime
	}
	if generic.CeilDays(done.Sub(due)) <= thresholdDays {
		return Late
	}
	return Overdue
}
