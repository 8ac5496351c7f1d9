package kpi

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// SHEET - Per-cycle KPI summary
// =============================================================================

// SheetState tracks whether a sheet has been computed.
type SheetState string

const (
	SheetDraft SheetState = "draft"
	SheetDone  SheetState = "done"
)

// SheetLine is one employee's total on a sheet.
type SheetLine struct {
	EmployeeID   generic.EmployeeID
	EmployeeName string
	Total        decimal.Decimal
	Groups       []GroupScore
}

// Sheet summarises a payroll cycle's KPI results, one line per employee.
type Sheet struct {
	RunID    string
	PeriodID generic.PeriodID
	Profile  string
	State    SheetState
	Lines    []SheetLine
}

func NewSheet(runID string, periodID generic.PeriodID) *Sheet {
	return &Sheet{RunID: runID, PeriodID: periodID, State: SheetDraft}
}

// Apply replaces the sheet's lines with results. Employees absent from
// results are dropped. An empty result set clears the sheet without
// marking it done.
func (s *Sheet) Apply(results []*Result) {
	if len(results) == 0 {
		s.Lines = nil
		return
	}
	lines := make([]SheetLine, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		lines = append(lines, SheetLine{
			EmployeeID:   r.Employee.ID,
			EmployeeName: r.Employee.Name,
			Total:        r.Scorecard.Total,
			Groups:       r.Scorecard.Groups,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].EmployeeID < lines[j].EmployeeID })
	s.Lines = lines
	s.State = SheetDone
}

// Line returns the line of one employee.
func (s *Sheet) Line(id generic.EmployeeID) (SheetLine, bool) {
	for _, l := range s.Lines {
		if l.EmployeeID == id {
			return l, true
		}
	}
	return SheetLine{}, false
}

// SumScores adds up the scores of stored records.
func SumScores(records []generic.KpiRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Score)
	}
	return total
}
