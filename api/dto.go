/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Money, scores and coefficients are decimal.Decimal and serialize as
  JSON strings ("11032000", "90.5") so no precision is lost.

VALIDATION:
  Validation is done in handlers and engines, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// FORMULAS
// =============================================================================

type CheckFormulaRequest struct {
	Expression string `json:"expression"`
}

// CheckFormulaDTO reports whether an expression compiles. Position is the
// byte offset of the error when known.
type CheckFormulaDTO struct {
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
	Position *int   `json:"position,omitempty"`
}

// =============================================================================
// STRUCTURES
// =============================================================================

type StructureDTO struct {
	Code  string    `json:"code"`
	Name  string    `json:"name"`
	Rules []RuleDTO `json:"rules"`
}

type RuleDTO struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Sequence   int    `json:"sequence"`
	Category   string `json:"category"`
	Condition  string `json:"condition,omitempty"`
	AmountKind string `json:"amount_kind"`
	Amount     string `json:"amount"`
	Active     bool   `json:"active"`
}

func toStructureDTO(s payroll.Structure) StructureDTO {
	dto := StructureDTO{Code: s.Code, Name: s.Name, Rules: make([]RuleDTO, 0, len(s.Rules))}
	for _, r := range s.Rules {
		rd := RuleDTO{
			ID:       r.ID,
			Code:     r.Code,
			Name:     r.Name,
			Sequence: r.Sequence,
			Category: string(r.Category),
			Active:   r.Active,
		}
		if c, ok := r.Condition.(payroll.WhenExpr); ok {
			rd.Condition = c.Expr
		}
		switch a := r.Amount.(type) {
		case payroll.Fixed:
			rd.AmountKind, rd.Amount = string(a.AmountKind()), a.Value.String()
		case payroll.PercentOf:
			rd.AmountKind, rd.Amount = string(a.AmountKind()), a.Percent.String()+"% of "+a.BaseCode
		case payroll.Formula:
			rd.AmountKind, rd.Amount = string(a.AmountKind()), a.Expr
		}
		dto.Rules = append(dto.Rules, rd)
	}
	return dto
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
	State string `json:"state"`
}

func toPeriodDTO(p generic.Period) PeriodDTO {
	return PeriodDTO{
		ID:    string(p.ID),
		Name:  p.Name,
		Start: p.Start.Format("2006-01-02"),
		End:   p.End.Format("2006-01-02"),
		Days:  p.Days(),
		State: string(p.State),
	}
}

// =============================================================================
// RUNS
// =============================================================================

type KpiRunRequest struct {
	PeriodID    string   `json:"period_id"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

type PayrollRunRequest struct {
	RunID       string   `json:"run_id"`
	KpiPeriodID string   `json:"kpi_period_id,omitempty"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

type FailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

type ReportDTO struct {
	Job       string       `json:"job"`
	Started   string       `json:"started"`
	Finished  string       `json:"finished"`
	Succeeded []string     `json:"succeeded"`
	Failed    []FailureDTO `json:"failed"`
	Skipped   []string     `json:"skipped"`
}

func toReportDTO(r *batch.Report) ReportDTO {
	dto := ReportDTO{
		Job:       r.Job,
		Started:   r.Started.Format(time.RFC3339),
		Finished:  r.Finished.Format(time.RFC3339),
		Succeeded: ids(r.Succeeded),
		Failed:    make([]FailureDTO, 0, len(r.Failed)),
		Skipped:   ids(r.Skipped),
	}
	for _, f := range r.Failed {
		dto.Failed = append(dto.Failed, FailureDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()})
	}
	return dto
}

type SheetLineDTO struct {
	EmployeeID   string          `json:"employee_id"`
	EmployeeName string          `json:"employee_name"`
	Total        decimal.Decimal `json:"total"`
	Groups       []GroupDTO      `json:"groups"`
}

type SheetDTO struct {
	RunID    string         `json:"run_id"`
	PeriodID string         `json:"period_id"`
	Profile  string         `json:"profile"`
	State    string         `json:"state"`
	Lines    []SheetLineDTO `json:"lines"`
}

type GroupDTO struct {
	Code        string                      `json:"code"`
	Name        string                      `json:"name"`
	Weight      decimal.Decimal             `json:"weight"`
	Numerator   decimal.Decimal             `json:"num"`
	Denominator decimal.Decimal             `json:"den"`
	Ratio       decimal.Decimal             `json:"ratio"`
	Score       decimal.Decimal             `json:"score"`
	Labels      []generic.KpiLabelBreakdown `json:"labels"`
}

func toSheetDTO(s *kpi.Sheet) SheetDTO {
	dto := SheetDTO{
		RunID:    s.RunID,
		PeriodID: string(s.PeriodID),
		Profile:  s.Profile,
		State:    string(s.State),
		Lines:    make([]SheetLineDTO, 0, len(s.Lines)),
	}
	for _, l := range s.Lines {
		line := SheetLineDTO{EmployeeID: string(l.EmployeeID), EmployeeName: l.EmployeeName, Total: l.Total}
		for _, g := range l.Groups {
			line.Groups = append(line.Groups, GroupDTO{
				Code:        g.Group.Code,
				Name:        g.Group.Name,
				Weight:      g.Group.Weight,
				Numerator:   g.Numerator,
				Denominator: g.Denominator,
				Ratio:       g.Ratio,
				Score:       g.Score,
				Labels:      g.Labels,
			})
		}
		dto.Lines = append(dto.Lines, line)
	}
	return dto
}

type KpiRunDTO struct {
	Period PeriodDTO `json:"period"`
	Report ReportDTO `json:"report"`
	Sheet  SheetDTO  `json:"sheet"`
}

// NewKpiRunDTO converts a KPI run.
func NewKpiRunDTO(run *batch.KpiRun) KpiRunDTO {
	return KpiRunDTO{
		Period: toPeriodDTO(run.Period),
		Report: toReportDTO(run.Report),
		Sheet:  toSheetDTO(run.Sheet),
	}
}

// PayslipResultDTO is one payslip of a payroll run.
type PayslipResultDTO struct {
	PayslipID  string          `json:"payslip_id"`
	EmployeeID string          `json:"employee_id"`
	Net        decimal.Decimal `json:"net"`
	KpiTotal   decimal.Decimal `json:"kpi_total"`
	FinalScore decimal.Decimal `json:"final_score"`
	Lines      int             `json:"lines"`
	Failures   []string        `json:"formula_failures,omitempty"`
	Defaulted  []string        `json:"defaulted,omitempty"`
}

type PayrollRunDTO struct {
	RunID    string             `json:"run_id"`
	Period   PeriodDTO          `json:"period"`
	Report   ReportDTO          `json:"report"`
	Sheet    SheetDTO           `json:"sheet"`
	Payslips []PayslipResultDTO `json:"payslips"`
}

// NewPayrollRunDTO converts a cycle result. Payslips are ordered by ID.
func NewPayrollRunDTO(res *batch.CycleResult) PayrollRunDTO {
	dto := PayrollRunDTO{
		RunID:    res.RunID,
		Period:   toPeriodDTO(res.Period),
		Report:   toReportDTO(res.Report),
		Sheet:    toSheetDTO(res.Sheet),
		Payslips: make([]PayslipResultDTO, 0, len(res.Outcomes)),
	}
	for _, out := range res.Outcomes {
		dto.Payslips = append(dto.Payslips, toPayslipResultDTO(out))
	}
	sort.Slice(dto.Payslips, func(i, j int) bool { return dto.Payslips[i].PayslipID < dto.Payslips[j].PayslipID })
	return dto
}

func toPayslipResultDTO(out *batch.Outcome) PayslipResultDTO {
	dto := PayslipResultDTO{
		PayslipID:  string(out.Payslip.ID),
		EmployeeID: string(out.Payslip.Employee.ID),
		FinalScore: out.Final.Total,
		KpiTotal:   out.Final.KpiTotal,
	}
	if out.Lines != nil {
		dto.Net = out.Lines.Code(payroll.NetCode)
		dto.Lines = len(out.Lines.Lines)
		dto.Defaulted = out.Lines.Defaulted
		for _, f := range out.Lines.Failures {
			dto.Failures = append(dto.Failures, f.RuleCode+" ("+f.Mode+"): "+f.Err.Error())
		}
	}
	return dto
}

// =============================================================================
// LINES AND KPI RECORDS
// =============================================================================

type LineDTO struct {
	RuleID   int64           `json:"rule_id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Sequence int             `json:"sequence"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

func toLineDTOs(lines []generic.PayslipLine) []LineDTO {
	out := make([]LineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineDTO{
			RuleID:   l.RuleID,
			Code:     l.Code,
			Name:     l.Name,
			Sequence: l.Sequence,
			Category: string(l.Category),
			Amount:   l.Amount,
			Quantity: l.Quantity,
			Total:    l.Total,
		})
	}
	return out
}

type KpiRecordDTO struct {
	ID        string             `json:"id"`
	GroupCode string             `json:"group_code"`
	Score     decimal.Decimal    `json:"score"`
	Details   generic.KpiDetails `json:"details"`
	UpdatedAt string             `json:"updated_at"`
}

func toKpiRecordDTOs(records []generic.KpiRecord) []KpiRecordDTO {
	out := make([]KpiRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, KpiRecordDTO{
			ID:        string(r.ID),
			GroupCode: r.GroupCode,
			Score:     r.Score,
			Details:   r.Details,
			UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out
}

type EmployeeKpiDTO struct {
	EmployeeID string          `json:"employee_id"`
	PeriodID   string          `json:"period_id"`
	Total      decimal.Decimal `json:"total"`
	Records    []KpiRecordDTO  `json:"records"`
}

// FinalScoreDTO is a payslip's KPI score after adjustments.
type FinalScoreDTO struct {
	PayslipID   string          `json:"payslip_id"`
	EmployeeID  string          `json:"employee_id"`
	PeriodID    string          `json:"period_id"`
	KpiTotal    decimal.Decimal `json:"kpi_total"`
	Add         decimal.Decimal `json:"add"`
	Subtract    decimal.Decimal `json:"subtract"`
	Net         decimal.Decimal `json:"net"`
	Total       decimal.Decimal `json:"total"`
	Groups      []KpiRecordDTO  `json:"groups"`
	Adjustments []AdjustmentDTO `json:"adjustments"`
}

func toFinalScoreDTO(slip payroll.Payslip, periodID generic.PeriodID, records []generic.KpiRecord, f adjust.Final) FinalScoreDTO {
	return FinalScoreDTO{
		PayslipID:   string(slip.ID),
		EmployeeID:  string(slip.Employee.ID),
		PeriodID:    string(periodID),
		KpiTotal:    f.KpiTotal,
		Add:         f.Add,
		Subtract:    f.Subtract,
		Net:         f.Net,
		Total:       f.Total,
		Groups:      toKpiRecordDTOs(records),
		Adjustments: toAdjustmentDTOs(f.Records),
	}
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentDTO struct {
	ID                  string          `json:"id"`
	EmployeeID          string          `json:"employee_id"`
	PeriodID            string          `json:"period_id"`
	PayslipID           string          `json:"payslip_id,omitempty"`
	RuleCode            string          `json:"rule_code"`
	Kind                string          `json:"kind"`
	Source              string          `json:"source"`
	Occurrences         int64           `json:"occurrences"`
	PointsPerOccurrence decimal.Decimal `json:"points_per_occurrence"`
	Total               decimal.Decimal `json:"total"`
	Note                string          `json:"note,omitempty"`
	UpdatedAt           string          `json:"updated_at"`
}

func toAdjustmentDTOs(records []generic.AdjustmentRecord) []AdjustmentDTO {
	out := make([]AdjustmentDTO, 0, len(records))
	for _, r := range records {
		out = append(out, toAdjustmentDTO(r))
	}
	return out
}

func toAdjustmentDTO(r generic.AdjustmentRecord) AdjustmentDTO {
	return AdjustmentDTO{
		ID:                  string(r.ID),
		EmployeeID:          string(r.EmployeeID),
		PeriodID:            string(r.PeriodID),
		PayslipID:           string(r.PayslipID),
		RuleCode:            r.RuleCode,
		Kind:                string(r.Kind),
		Source:              string(r.Source),
		Occurrences:         r.Occurrences,
		PointsPerOccurrence: r.PointsPerOccurrence,
		Total:               r.Total,
		Note:                r.Note,
		UpdatedAt:           r.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateAdjustmentRequest enters a manual record. Kind and points come
// from the configured rule.
type CreateAdjustmentRequest struct {
	EmployeeID  string `json:"employee_id"`
	PeriodID    string `json:"period_id"`
	PayslipID   string `json:"payslip_id,omitempty"`
	RuleCode    string `json:"rule_code"`
	Occurrences int64  `json:"occurrences"`
	Note        string `json:"note,omitempty"`
}

// =============================================================================
// SCHEDULER
// =============================================================================

type ScheduledRunDTO struct {
	PeriodID  string `json:"period_id"`
	Started   string `json:"started"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

type ScheduleDTO struct {
	Spec    string            `json:"spec"`
	Enabled bool              `json:"enabled"`
	NextRun string            `json:"next_run,omitempty"`
	Runs    []ScheduledRunDTO `json:"runs"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func ids[T ~string](in []T) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, string(id))
	}
	return out
}
