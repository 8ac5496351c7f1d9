package variables

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// TimesheetRow is one employee-day from the attendance system.
type TimesheetRow struct {
	EmployeeID         generic.EmployeeID
	Date               time.Time
	ShiftPoint         decimal.Decimal // worked shift points
	StandardShiftPoint decimal.Decimal // expected shift points
	UnpaidLeaveDay     decimal.Decimal
	SumLate            int64
}

// TimesheetReader returns the rows of one employee dated within [from, to].
type TimesheetReader interface {
	Rows(ctx context.Context, employeeID generic.EmployeeID, from, to time.Time) ([]TimesheetRow, error)
}

// TimesheetSource aggregates daily rows into the monthly timesheet fields:
// points, work_day, unpaid_lf_point and sum_late.
type TimesheetSource struct {
	Reader TimesheetReader
}

func (s TimesheetSource) Fetch(ctx context.Context, emp generic.Employee, from, to time.Time) (map[string]any, error) {
	if from.IsZero() || to.IsZero() {
		return map[string]any{}, nil
	}
	rows, err := s.Reader.Rows(ctx, emp.ID, from, to)
	if err != nil {
		return nil, err
	}
	return AggregateTimesheet(rows), nil
}

// AggregateTimesheet sums rows into the monthly timesheet fields.
func AggregateTimesheet(rows []TimesheetRow) map[string]any {
	points, workDay, unpaid := decimal.Zero, decimal.Zero, decimal.Zero
	var late int64
	for _, r := range rows {
		points = points.Add(r.ShiftPoint)
		workDay = workDay.Add(r.StandardShiftPoint)
		unpaid = unpaid.Add(r.UnpaidLeaveDay)
		late += r.SumLate
	}
	return map[string]any{
		"points":          points,
		"work_day":        workDay,
		"unpaid_lf_point": unpaid,
		"sum_late":        late,
	}
}

// MemoryTimesheet is an in-memory TimesheetReader.
type MemoryTimesheet struct {
	mu   sync.RWMutex
	rows map[generic.EmployeeID][]TimesheetRow
}

func NewMemoryTimesheet(rows ...TimesheetRow) *MemoryTimesheet {
	m := &MemoryTimesheet{rows: make(map[generic.EmployeeID][]TimesheetRow)}
	m.Add(rows...)
	return m
}

// Add appends rows, keeping each employee's rows ordered by date.
func (m *MemoryTimesheet) Add(rows ...TimesheetRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.EmployeeID] = append(m.rows[r.EmployeeID], r)
	}
	for id := range m.rows {
		list := m.rows[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	}
}

func (m *MemoryTimesheet) Rows(_ context.Context, employeeID generic.EmployeeID, from, to time.Time) ([]TimesheetRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := generic.StartOfDay(from), generic.EndOfDay(to)
	var out []TimesheetRow
	for _, r := range m.rows[employeeID] {
		if !r.Date.Before(lo) && !r.Date.After(hi) {
			out = append(out, r)
		}
	}
	return out, nil
}
