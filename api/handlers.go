/*
handlers.go - HTTP API handlers for the payroll and KPI engines

PURPOSE:
  Exposes the engines via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the batch cycle and the gateway.

ENDPOINTS:
  Formulas:
    POST   /api/formulas/check          Compile an expression, report errors
    GET    /api/formulas/functions      Whitelisted function names

  Configuration:
    GET    /api/structures              Configured salary structures

  KPI:
    GET    /api/kpi/periods             Periods with their state
    POST   /api/kpi/periods/{id}/close  Close a period against recompute
    POST   /api/kpi/runs                Compute KPI for a period
    GET    /api/kpi/schedule            Scheduled recompute status
    GET    /api/employees/{id}/kpi      KPI records (?period=ID)

  Payroll:
    POST   /api/payroll/runs            Run a payroll cycle
    GET    /api/payslips/{id}/lines     Line set of a payslip
    GET    /api/payslips/{id}/kpi       Final KPI score of a payslip

  Adjustments:
    GET    /api/adjustments             List (?employee=&period=&payslip=&source=)
    POST   /api/adjustments             Enter a manual record
    DELETE /api/adjustments/{id}        Remove a record

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Factory: configuration, fixtures, payslip lookup
  - Store:   derived records (lines, KPI records, adjustments)
  - Cycle:   the wired engines
  - periods: period state, updated by successful runs

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, configuration errors, closed periods
  - 404: Unknown employee, period, payslip, run or record
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic KPI recompute
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Factory   *factory.Factory
	Store     generic.Gateway
	Cycle     *batch.Cycle
	Metrics   *batch.Metrics
	Scheduler *Scheduler
	Log       logrus.FieldLogger

	mu      sync.Mutex
	periods map[generic.PeriodID]generic.Period
}

// NewHandler creates a handler over the configured periods.
func NewHandler(f *factory.Factory, store generic.Gateway, cycle *batch.Cycle, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{
		Factory: f,
		Store:   store,
		Cycle:   cycle,
		Log:     log,
		periods: make(map[generic.PeriodID]generic.Period),
	}
	if cycle.Runner != nil {
		h.Metrics = cycle.Runner.Metrics
	}
	for _, p := range f.Periods() {
		h.periods[p.ID] = p
	}
	return h
}

// =============================================================================
// PERIOD STATE
// =============================================================================

// Period returns the current state of a configured period.
func (h *Handler) Period(id generic.PeriodID) (generic.Period, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.periods[id]
	if !ok {
		return generic.Period{}, fmt.Errorf("%w: period %s", generic.ErrNotFound, id)
	}
	return p, nil
}

// Periods returns every period ordered by start date.
func (h *Handler) Periods() []generic.Period {
	h.mu.Lock()
	out := make([]generic.Period, 0, len(h.periods))
	for _, p := range h.periods {
		out = append(out, p)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// setPeriod records a state change. A closed period is never reopened
// by a run that started before it was closed.
func (h *Handler) setPeriod(p generic.Period) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.periods[p.ID]; ok && cur.IsClosed() {
		return
	}
	h.periods[p.ID] = p
}

// ClosePeriod refuses any further KPI computation for the period.
func (h *Handler) ClosePeriod(id generic.PeriodID) (generic.Period, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.periods[id]
	if !ok {
		return generic.Period{}, fmt.Errorf("%w: period %s", generic.ErrNotFound, id)
	}
	p.State = generic.PeriodClosed
	h.periods[id] = p
	return p, nil
}

// =============================================================================
// RUNS
// =============================================================================

// ComputeKPI scores the listed employees, all of them when ids is empty.
func (h *Handler) ComputeKPI(ctx context.Context, periodID generic.PeriodID, ids []string) (*batch.KpiRun, error) {
	period, err := h.Period(periodID)
	if err != nil {
		return nil, err
	}
	employees, err := h.employees(ids)
	if err != nil {
		return nil, err
	}
	run, err := h.Cycle.ComputeKPI(ctx, "kpi-"+string(period.ID), period, employees)
	if err != nil {
		return nil, err
	}
	h.setPeriod(run.Period)
	return run, nil
}

// RunPayroll runs a configured payroll run. The KPI period defaults to
// the payslips' period.
func (h *Handler) RunPayroll(ctx context.Context, req PayrollRunRequest) (*batch.CycleResult, error) {
	if req.RunID == "" {
		return nil, generic.NewConfigurationError("payroll run", "run_id is required")
	}
	run, err := h.Factory.PayrollRun(req.RunID)
	if err != nil {
		return nil, err
	}
	periodID := run.Period.ID
	if req.KpiPeriodID != "" {
		periodID = generic.PeriodID(req.KpiPeriodID)
	}
	if run.Period, err = h.Period(periodID); err != nil {
		return nil, err
	}

	if len(req.EmployeeIDs) > 0 {
		inRun := make(map[generic.EmployeeID]payroll.Payslip, len(run.Payslips))
		for _, slip := range run.Payslips {
			inRun[slip.Employee.ID] = slip
		}
		slips := make([]payroll.Payslip, 0, len(req.EmployeeIDs))
		for _, id := range req.EmployeeIDs {
			slip, ok := inRun[generic.EmployeeID(id)]
			if !ok {
				return nil, fmt.Errorf("%w: employee %s has no payslip in run %s", generic.ErrNotFound, id, req.RunID)
			}
			slips = append(slips, slip)
		}
		run.Payslips = slips
	}

	res, err := h.Cycle.Run(ctx, run)
	if err != nil {
		return nil, err
	}
	h.setPeriod(res.Period)
	return res, nil
}

func (h *Handler) employees(ids []string) ([]generic.Employee, error) {
	if len(ids) == 0 {
		return h.Factory.Employees(), nil
	}
	out := make([]generic.Employee, 0, len(ids))
	for _, id := range ids {
		emp, ok := h.Factory.Employee(generic.EmployeeID(id))
		if !ok {
			return nil, fmt.Errorf("%w: employee %s", generic.ErrNotFound, id)
		}
		out = append(out, emp)
	}
	return out, nil
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// FORMULA HANDLERS
// =============================================================================

// CheckFormula compiles an expression without evaluating it.
// POST /api/formulas/check
func (h *Handler) CheckFormula(w http.ResponseWriter, r *http.Request) {
	var req CheckFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Expression == "" {
		writeError(w, http.StatusBadRequest, "expression is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, checkFormula(req.Expression))
}

func checkFormula(src string) CheckFormulaDTO {
	if _, err := formula.Compile(src); err != nil {
		dto := CheckFormulaDTO{Error: err.Error()}
		var fe *generic.FormulaError
		if errors.As(err, &fe) && fe.Pos >= 0 {
			pos := fe.Pos
			dto.Position = &pos
		}
		return dto
	}
	return CheckFormulaDTO{Valid: true}
}

// ListFunctions returns the names callable from a formula.
// GET /api/formulas/functions
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formula.Functions())
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// ListStructures returns the configured salary structures.
// GET /api/structures
func (h *Handler) ListStructures(w http.ResponseWriter, r *http.Request) {
	structures := h.Factory.Structures()
	dtos := make([]StructureDTO, 0, len(structures))
	for _, s := range structures {
		dtos = append(dtos, toStructureDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// KPI HANDLERS
// =============================================================================

// ListPeriods returns the periods with their current state.
// GET /api/kpi/periods
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods := h.Periods()
	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		dtos = append(dtos, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClosePeriodHandler closes a period.
// POST /api/kpi/periods/{id}/close
func (h *Handler) ClosePeriodHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.ClosePeriod(generic.PeriodID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to close period", err)
		return
	}
	h.Log.WithField("period", p.ID).Info("period closed")
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// RunKPI computes KPI records for a period.
// POST /api/kpi/runs
func (h *Handler) RunKPI(w http.ResponseWriter, r *http.Request) {
	var req KpiRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PeriodID == "" {
		writeError(w, http.StatusBadRequest, "period_id is required", nil)
		return
	}

	run, err := h.ComputeKPI(r.Context(), generic.PeriodID(req.PeriodID), req.EmployeeIDs)
	if err != nil {
		h.writeDomainError(w, "Failed to compute KPI", err)
		return
	}
	writeJSON(w, http.StatusOK, NewKpiRunDTO(run))
}

// GetEmployeeKPI returns an employee's KPI records for a period.
// GET /api/employees/{id}/kpi?period=ID
func (h *Handler) GetEmployeeKPI(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	periodID := generic.PeriodID(r.URL.Query().Get("period"))
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "period query parameter is required", nil)
		return
	}
	if _, ok := h.Factory.Employee(id); !ok {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	total, records, err := h.Cycle.KPI.Total(r.Context(), id, periodID)
	if err != nil {
		h.writeDomainError(w, "Failed to load KPI records", err)
		return
	}
	writeJSON(w, http.StatusOK, EmployeeKpiDTO{
		EmployeeID: string(id),
		PeriodID:   string(periodID),
		Total:      total,
		Records:    toKpiRecordDTOs(records),
	})
}

// GetSchedule reports the periodic recompute status.
// GET /api/kpi/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, ScheduleDTO{Runs: []ScheduledRunDTO{}})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// RunPayrollHandler runs a payroll cycle.
// POST /api/payroll/runs
func (h *Handler) RunPayrollHandler(w http.ResponseWriter, r *http.Request) {
	var req PayrollRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.RunPayroll(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to run payroll", err)
		return
	}

	writeJSON(w, http.StatusOK, NewPayrollRunDTO(res))
}

// GetPayslipLines returns the stored line set of a payslip.
// GET /api/payslips/{id}/lines
func (h *Handler) GetPayslipLines(w http.ResponseWriter, r *http.Request) {
	id := generic.PayslipID(chi.URLParam(r, "id"))
	if _, err := h.Factory.Payslip(id); err != nil {
		h.writeDomainError(w, "Payslip not found", err)
		return
	}

	lines, err := h.Store.Lines(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTOs(lines))
}

// GetPayslipKPI returns the final KPI score of a payslip: the stored group
// scores plus the adjustments linked to it. ?period= selects another KPI
// period than the payslip's own.
// GET /api/payslips/{id}/kpi
func (h *Handler) GetPayslipKPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slip, err := h.Factory.Payslip(generic.PayslipID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Payslip not found", err)
		return
	}
	periodID := slip.Period.ID
	if q := r.URL.Query().Get("period"); q != "" {
		periodID = generic.PeriodID(q)
	}

	total, records, err := h.Cycle.KPI.Total(ctx, slip.Employee.ID, periodID)
	if err != nil {
		h.writeDomainError(w, "Failed to load KPI records", err)
		return
	}
	final := adjust.FinalScore(total, slip.ID, nil)
	if h.Cycle.Adjust != nil {
		if final, err = h.Cycle.Adjust.Final(ctx, slip.Employee.ID, periodID, slip.ID, total); err != nil {
			h.writeDomainError(w, "Failed to load adjustments", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toFinalScoreDTO(slip, periodID, records, final))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// ListAdjustments returns adjustment records matching the query.
// GET /api/adjustments?employee=&period=&payslip=&source=
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AdjustmentFilter{
		EmployeeID: generic.EmployeeID(q.Get("employee")),
		PeriodID:   generic.PeriodID(q.Get("period")),
		PayslipID:  generic.PayslipID(q.Get("payslip")),
		Source:     generic.AdjustmentSource(q.Get("source")),
	}
	switch filter.Source {
	case "", generic.SourceManual, generic.SourceAutomatic:
	default:
		writeError(w, http.StatusBadRequest, "source must be manual or automatic", nil)
		return
	}

	records, err := h.Store.Adjustments(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTOs(records))
}

// CreateAdjustment enters a manual adjustment record.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := h.Factory.Employee(generic.EmployeeID(req.EmployeeID)); !ok {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	if h.Cycle.Adjust == nil {
		writeError(w, http.StatusBadRequest, "No adjustment rules configured", nil)
		return
	}

	rec, err := h.Cycle.Adjust.RecordManual(r.Context(), generic.AdjustmentRecord{
		EmployeeID:  generic.EmployeeID(req.EmployeeID),
		PeriodID:    generic.PeriodID(req.PeriodID),
		PayslipID:   generic.PayslipID(req.PayslipID),
		RuleCode:    req.RuleCode,
		Occurrences: req.Occurrences,
		Note:        req.Note,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create adjustment", err)
		return
	}
	h.Log.WithFields(logrus.Fields{
		"employee": rec.EmployeeID,
		"period":   rec.PeriodID,
		"rule":     rec.RuleCode,
	}).Info("manual adjustment recorded")
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(rec))
}

// DeleteAdjustment removes an adjustment record.
// DELETE /api/adjustments/{id}
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := generic.RecordID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteAdjustment(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error class.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
