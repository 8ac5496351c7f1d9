package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The evaluation window for KPI scoring and payroll
// =============================================================================

// PeriodState tracks the KPI period lifecycle.
type PeriodState string

const (
	PeriodDraft    PeriodState = "draft"
	PeriodComputed PeriodState = "computed"
	PeriodClosed   PeriodState = "closed"
)

// Period is a named, date-granular window [Start, End].
// Both bounds are calendar dates; End is inclusive up to its last instant.
//
// Examples:
//   - KPI month: 2025-03-01 .. 2025-03-31
//   - Payroll run: same bounds, used for variable resolution
type Period struct {
	ID    PeriodID
	Name  string
	Start time.Time
	End   time.Time
	State PeriodState
}

// NewPeriod builds a draft period from two dates.
func NewPeriod(id PeriodID, name string, start, end time.Time) Period {
	return Period{ID: id, Name: name, Start: StartOfDay(start), End: StartOfDay(end), State: PeriodDraft}
}

// MonthPeriod returns the draft period covering the whole calendar month.
func MonthPeriod(year int, month time.Month) Period {
	start := StartOfMonth(year, month)
	return Period{
		ID:    PeriodID(fmt.Sprintf("%04d-%02d", year, int(month))),
		Name:  start.Format("01/2006"),
		Start: start,
		End:   EndOfMonth(year, month),
		State: PeriodDraft,
	}
}

// Validate enforces start ≤ end.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: period %q has no bounds", ErrInvalidPeriod, p.ID)
	}
	if StartOfDay(p.End).Before(StartOfDay(p.Start)) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// DeadlineWindow returns [start 00:00, end 23:59:59.999999999], the range a
// work item deadline must fall in to be scored for this period.
func (p Period) DeadlineWindow() (from, to time.Time) {
	return StartOfDay(p.Start), EndOfDay(p.End)
}

// Contains reports whether t falls within the deadline window.
func (p Period) Contains(t time.Time) bool {
	from, to := p.DeadlineWindow()
	return !t.Before(from) && !t.After(to)
}

// Days returns the number of calendar days in the period, inclusive.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// IsClosed reports whether the period refuses recomputation.
func (p Period) IsClosed() bool { return p.State == PeriodClosed }

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + FormatDate(p.Start) + ", " + FormatDate(p.End) + "]"
}
