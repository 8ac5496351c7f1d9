package adjust

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/variables"
)

// Engine synchronises automatic adjustments and computes final scores.
type Engine struct {
	Rules    Rules
	Resolver variables.Resolver
	Store    generic.AdjustmentStore
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewEngine(rules Rules, resolver variables.Resolver, store generic.AdjustmentStore, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{Rules: rules, Resolver: resolver, Store: store, Log: log, Now: time.Now}
}

// =============================================================================
// SYNC
// =============================================================================

// SyncAutomatic upserts one record per automatic rule for (emp, period,
// payslip). An empty payslip is its own key, distinct from every linked
// payslip.
//
// Occurrences are the rule variable's value truncated to an integer;
// missing or non-numeric values count as zero. A count whose variable was
// defaulted because its source was unavailable is zero, and the record's
// Note names the input (see DefaultedInputs).
func (e *Engine) SyncAutomatic(ctx context.Context, emp generic.Employee, period generic.Period, payslip generic.PayslipID) ([]generic.AdjustmentRecord, error) {
	rules := e.Rules.Automatic()
	if len(rules) == 0 {
		return nil, nil
	}
	log := e.Log.WithFields(logrus.Fields{"employee": emp.ID, "period": period.ID, "payslip": payslip})

	vars, err := e.Resolver.Resolve(ctx, emp, period.Start, period.End, e.Rules.VariableKeys())
	var defaulted map[string]bool
	if err != nil {
		if !generic.IsDataUnavailable(err) {
			return nil, fmt.Errorf("resolve adjustment variables: %w", err)
		}
		log.WithError(err).Warn("adjustment variables unavailable, occurrences default to zero")
		defaulted = make(map[string]bool)
		for _, in := range generic.DefaultedInputs(err) {
			defaulted[in] = true
		}
	}

	now := e.now()
	out := make([]generic.AdjustmentRecord, 0, len(rules))
	for _, r := range rules {
		rec := generic.AdjustmentRecord{
			EmployeeID:          emp.ID,
			PeriodID:            period.ID,
			PayslipID:           payslip,
			RuleCode:            r.Code,
			Kind:                r.Kind,
			Source:              generic.SourceAutomatic,
			Occurrences:         Occurrences(vars, r.VariableKey),
			PointsPerOccurrence: r.PointsPerOccurrence,
			UpdatedAt:           now,
		}
		if _, ok := vars.Get(r.VariableKey); defaulted != nil && (defaulted[r.VariableKey] || !ok) {
			rec.Note = defaultedNote + r.VariableKey
		}
		rec.Recompute()
		stored, err := e.Store.UpsertAdjustment(ctx, rec)
		if err != nil {
			return out, fmt.Errorf("upsert adjustment %s: %w", r.Code, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

const defaultedNote = "defaulted input: "

// DefaultedInputs lists the variables that automatic records in records
// were computed without.
func DefaultedInputs(records []generic.AdjustmentRecord) []string {
	var out []string
	for _, r := range records {
		if r.Source == generic.SourceAutomatic && strings.HasPrefix(r.Note, defaultedNote) {
			out = append(out, strings.TrimPrefix(r.Note, defaultedNote))
		}
	}
	return out
}

// Occurrences reads key from vars as a truncated integer, zero when
// missing, null or not numeric.
func Occurrences(vars variables.Map, key string) int64 {
	v, ok := vars.Get(key)
	if !ok || v.IsNull() {
		return 0
	}
	d, err := v.Decimal()
	if err != nil {
		return 0
	}
	return d.Truncate(0).IntPart()
}

// =============================================================================
// MANUAL ENTRY
// =============================================================================

// RecordManual inserts an operator-entered record for rule code. Kind and
// points come from the rule.
func (e *Engine) RecordManual(ctx context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	rule, ok := e.Rules.Lookup(rec.RuleCode)
	if !ok {
		return generic.AdjustmentRecord{}, generic.NewConfigurationError("adjustment rule "+rec.RuleCode, "not configured")
	}
	if rec.EmployeeID == "" || rec.PeriodID == "" {
		return generic.AdjustmentRecord{}, generic.NewConfigurationError("adjustment record", "employee and period are required")
	}
	if rec.Occurrences < 0 {
		return generic.AdjustmentRecord{}, generic.NewConfigurationError("adjustment record", "occurrences must not be negative")
	}
	rec.Kind = rule.Kind
	rec.Source = generic.SourceManual
	rec.PointsPerOccurrence = rule.PointsPerOccurrence
	rec.UpdatedAt = e.now()
	rec.Recompute()
	return e.Store.CreateAdjustment(ctx, rec)
}

// =============================================================================
// FINAL SCORE
// =============================================================================

// Final is a payslip's KPI score after adjustments.
type Final struct {
	PayslipID generic.PayslipID
	KpiTotal  decimal.Decimal
	Add       decimal.Decimal
	Subtract  decimal.Decimal
	Net       decimal.Decimal
	Total     decimal.Decimal
	Records   []generic.AdjustmentRecord
}

// FinalScore computes kpiTotal + Σ add − Σ subtract over the records
// linked to payslip. Records linked elsewhere, or to no payslip, are
// ignored.
func FinalScore(kpiTotal decimal.Decimal, payslip generic.PayslipID, records []generic.AdjustmentRecord) Final {
	f := Final{PayslipID: payslip, KpiTotal: kpiTotal, Add: decimal.Zero, Subtract: decimal.Zero}
	for _, r := range records {
		if payslip == "" || r.PayslipID != payslip {
			continue
		}
		switch r.Kind {
		case generic.AdjustmentAdd:
			f.Add = f.Add.Add(r.Total)
		case generic.AdjustmentSubtract:
			f.Subtract = f.Subtract.Add(r.Total)
		}
		f.Records = append(f.Records, r)
	}
	f.Net = f.Add.Sub(f.Subtract)
	f.Total = kpiTotal.Add(f.Net)
	return f
}

// Final loads the payslip's records and computes its final score.
func (e *Engine) Final(ctx context.Context, emp generic.EmployeeID, period generic.PeriodID, payslip generic.PayslipID, kpiTotal decimal.Decimal) (Final, error) {
	if payslip == "" {
		return FinalScore(kpiTotal, payslip, nil), nil
	}
	records, err := e.Store.Adjustments(ctx, generic.AdjustmentFilter{EmployeeID: emp, PeriodID: period, PayslipID: payslip})
	if err != nil {
		return Final{}, fmt.Errorf("load adjustments of %s: %w", payslip, err)
	}
	return FinalScore(kpiTotal, payslip, records), nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
