/*
Package generic provides the shared vocabulary of the payroll and KPI engines.

PURPOSE:
  This package holds the types every engine package agrees on: identifiers,
  employees, the derived records that get persisted (payslip lines, KPI
  records, adjustment records) and the gateway interfaces that persist them.
  Engines (payroll, kpi, adjust) depend on generic; generic depends on none
  of them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: EmployeeID, PeriodID, PayslipID, RecordID
  - Employee: the minimal employee view the engines need
  - PayslipLine: one computed salary line, replaced wholesale per computation
  - KpiRecord: one score per (employee, period, group), upserted
  - AdjustmentRecord: manual or automatic point add/subtract

DESIGN PRINCIPLES:
  1. Precision: every amount, score and coefficient is a decimal.Decimal
  2. Derived data: lines and records are reproducible from configuration
     plus inputs, so recomputation overwrites instead of appending
  3. Natural keys: every upsertable record exposes its key type

SEE ALSO:
  - store.go: Gateway interfaces
  - period.go: KPI periods and payroll date ranges
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PeriodID string
type PayslipID string
type RecordID string

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee is the read-only employee view handed to the engines.
// AccountID links the employee to the task system; empty means no KPI data.
type Employee struct {
	ID           EmployeeID
	Code         string
	Name         string
	AccountID    string
	DepartmentID string
	JobTitle     string
}

// HasAccount reports whether the employee can own work items.
func (e Employee) HasAccount() bool { return e.AccountID != "" }

// =============================================================================
// PAYSLIP LINES
// =============================================================================

// Category classifies a salary rule and the lines it produces.
type Category string

const (
	CategoryEarning      Category = "earning"
	CategoryDeduction    Category = "deduction"
	CategoryContribution Category = "contribution"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEarning, CategoryDeduction, CategoryContribution:
		return true
	}
	return false
}

// PayslipLine is one rule output on a payslip.
type PayslipLine struct {
	PayslipID PayslipID
	RuleID    int64
	Code      string
	Name      string
	Sequence  int
	Category  Category
	Amount    decimal.Decimal
	Quantity  decimal.Decimal
	Total     decimal.Decimal
}

// NewPayslipLine builds a line with quantity 1.
func NewPayslipLine(code, name string, sequence int, category Category, amount decimal.Decimal) PayslipLine {
	line := PayslipLine{
		Code:     code,
		Name:     name,
		Sequence: sequence,
		Category: category,
		Amount:   amount,
		Quantity: decimal.NewFromInt(1),
	}
	line.Total = line.Amount.Mul(line.Quantity)
	return line
}

// =============================================================================
// KPI RECORDS
// =============================================================================

// KpiRecordKey is the natural identity of a KPI record.
type KpiRecordKey struct {
	EmployeeID EmployeeID
	PeriodID   PeriodID
	GroupCode  string
}

// KpiRecord stores one group score for one employee and period.
type KpiRecord struct {
	ID         RecordID
	EmployeeID EmployeeID
	PeriodID   PeriodID
	GroupCode  string
	Score      decimal.Decimal
	Details    KpiDetails
	UpdatedAt  time.Time
}

func (r KpiRecord) Key() KpiRecordKey {
	return KpiRecordKey{EmployeeID: r.EmployeeID, PeriodID: r.PeriodID, GroupCode: r.GroupCode}
}

// KpiDetails is the audit breakdown stored with a KPI record.
type KpiDetails struct {
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Weight      decimal.Decimal     `json:"weight"`
	Numerator   decimal.Decimal     `json:"num"`
	Denominator decimal.Decimal     `json:"den"`
	Ratio       decimal.Decimal     `json:"ratio"`
	Labels      []KpiLabelBreakdown `json:"labels"`
	Defaulted   []string            `json:"defaulted,omitempty"`
}

// KpiLabelBreakdown is the per-label part of KpiDetails.
type KpiLabelBreakdown struct {
	LabelID       string          `json:"label_id"`
	Name          string          `json:"name"`
	Weight        decimal.Decimal `json:"weight"`
	Assigned      int             `json:"assigned"`
	OnTime        int             `json:"ontime"`
	Late          int             `json:"late"`
	Overdue       int             `json:"overdue"`
	EffectiveGood decimal.Decimal `json:"E_G"`
	Percent       decimal.Decimal `json:"kpi_percent"`
	Contribution  decimal.Decimal `json:"contribution"`
}

// =============================================================================
// ADJUSTMENT RECORDS
// =============================================================================

// AdjustmentKind says whether points are added to or subtracted from the score.
type AdjustmentKind string

const (
	AdjustmentAdd      AdjustmentKind = "add"
	AdjustmentSubtract AdjustmentKind = "subtract"
)

// AdjustmentSource says who owns a record. Sync only ever writes automatic ones.
type AdjustmentSource string

const (
	SourceManual    AdjustmentSource = "manual"
	SourceAutomatic AdjustmentSource = "automatic"
)

// AdjustmentKey is the natural identity of an automatic adjustment record.
// An empty PayslipID is a key of its own, distinct from any linked payslip.
type AdjustmentKey struct {
	EmployeeID EmployeeID
	PeriodID   PeriodID
	RuleCode   string
	PayslipID  PayslipID
}

// AdjustmentRecord is one occurrence count of an adjustment rule.
type AdjustmentRecord struct {
	ID                  RecordID
	EmployeeID          EmployeeID
	PeriodID            PeriodID
	PayslipID           PayslipID
	RuleCode            string
	Kind                AdjustmentKind
	Source              AdjustmentSource
	Occurrences         int64
	PointsPerOccurrence decimal.Decimal
	Total               decimal.Decimal
	Note                string
	UpdatedAt           time.Time
}

func (r AdjustmentRecord) Key() AdjustmentKey {
	return AdjustmentKey{EmployeeID: r.EmployeeID, PeriodID: r.PeriodID, RuleCode: r.RuleCode, PayslipID: r.PayslipID}
}

// Recompute sets Total = Occurrences × PointsPerOccurrence.
func (r *AdjustmentRecord) Recompute() {
	r.Total = decimal.NewFromInt(r.Occurrences).Mul(r.PointsPerOccurrence)
}

// AdjustmentFilter narrows adjustment queries. Zero fields match everything.
type AdjustmentFilter struct {
	EmployeeID EmployeeID
	PeriodID   PeriodID
	PayslipID  PayslipID
	Source     AdjustmentSource
}

// Matches reports whether r passes the filter.
func (f AdjustmentFilter) Matches(r AdjustmentRecord) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.PeriodID != "" && r.PeriodID != f.PeriodID {
		return false
	}
	if f.PayslipID != "" && r.PayslipID != f.PayslipID {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	return true
}
