package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// CYCLE - KPI, adjustments, payslip lines and final score per employee
// =============================================================================

const (
	JobKPI     = "kpi"
	JobPayroll = "payroll"
)

// Cycle wires the engines into one payroll cycle.
type Cycle struct {
	Runner    *Runner
	KPI       *kpi.Service
	KpiConfig kpi.Config
	Adjust    *adjust.Engine
	Payroll   *payroll.Service
	Params    payroll.Params
	Log       logrus.FieldLogger
}

// PayrollRun is one cycle request: a KPI period and one payslip per employee.
type PayrollRun struct {
	ID       string
	Period   generic.Period
	Payslips []payroll.Payslip
}

// Outcome is everything computed for one payslip.
type Outcome struct {
	Payslip     payroll.Payslip
	KPI         *kpi.Result
	Adjustments []generic.AdjustmentRecord
	Lines       *payroll.Result
	Final       adjust.Final
}

// CycleResult is the result of a payroll run. Period carries the updated
// state when the run completed cleanly.
type CycleResult struct {
	RunID    string
	Period   generic.Period
	Report   *Report
	Sheet    *kpi.Sheet
	Outcomes map[generic.PayslipID]*Outcome
}

// KpiRun is the result of a KPI-only run.
type KpiRun struct {
	Period  generic.Period
	Report  *Report
	Sheet   *kpi.Sheet
	Results map[generic.EmployeeID]*kpi.Result
}

func (c *Cycle) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Cycle) metrics() *Metrics {
	if c.Runner == nil {
		return nil
	}
	return c.Runner.Metrics
}

func (c *Cycle) newSheet(runID string, periodID generic.PeriodID) *kpi.Sheet {
	sheet := kpi.NewSheet(runID, periodID)
	if c.KpiConfig.Profile != nil {
		sheet.Profile = c.KpiConfig.Profile.Name
	}
	return sheet
}

// ComputeKPI scores every employee over period. A closed period or an
// invalid KPI configuration refuses the whole run.
func (c *Cycle) ComputeKPI(ctx context.Context, runID string, period generic.Period, employees []generic.Employee) (*KpiRun, error) {
	if err := kpi.CheckPeriod(period); err != nil {
		return nil, err
	}
	if err := c.KpiConfig.Validate(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[generic.EmployeeID]*kpi.Result, len(employees))
	report := c.Runner.Run(ctx, JobKPI, employees, func(ctx context.Context, emp generic.Employee) error {
		res, err := c.KPI.ComputeEmployee(ctx, emp, period, c.KpiConfig)
		if err != nil {
			return err
		}
		c.metrics().ObserveDefaulted(res.Defaulted)
		mu.Lock()
		results[emp.ID] = res
		mu.Unlock()
		return nil
	})

	run := &KpiRun{Period: period, Report: report, Sheet: c.newSheet(runID, period.ID), Results: results}
	run.Sheet.Apply(sortedResults(employees, results))
	if report.OK() && len(results) > 0 {
		run.Period = kpi.MarkComputed(period)
	}
	return run, nil
}

// Run executes a full payroll cycle. Employee passes are independent;
// failures are listed in the report and never block the others.
func (c *Cycle) Run(ctx context.Context, run PayrollRun) (*CycleResult, error) {
	if err := kpi.CheckPeriod(run.Period); err != nil {
		return nil, err
	}
	if err := c.KpiConfig.Validate(); err != nil {
		return nil, err
	}
	slips := make(map[generic.EmployeeID]payroll.Payslip, len(run.Payslips))
	employees := make([]generic.Employee, 0, len(run.Payslips))
	for _, slip := range run.Payslips {
		if _, dup := slips[slip.Employee.ID]; dup {
			return nil, generic.NewConfigurationError("payroll run "+run.ID, "employee %s has more than one payslip", slip.Employee.ID)
		}
		slips[slip.Employee.ID] = slip
		employees = append(employees, slip.Employee)
	}

	var mu sync.Mutex
	outcomes := make(map[generic.PayslipID]*Outcome, len(run.Payslips))
	kpiResults := make(map[generic.EmployeeID]*kpi.Result, len(run.Payslips))
	report := c.Runner.Run(ctx, JobPayroll, employees, func(ctx context.Context, emp generic.Employee) error {
		out, err := c.employee(ctx, run.Period, slips[emp.ID])
		if out != nil && out.KPI != nil {
			mu.Lock()
			kpiResults[emp.ID] = out.KPI
			mu.Unlock()
		}
		if err != nil {
			return err
		}
		mu.Lock()
		outcomes[out.Payslip.ID] = out
		mu.Unlock()
		return nil
	})

	res := &CycleResult{
		RunID:    run.ID,
		Period:   run.Period,
		Report:   report,
		Sheet:    c.newSheet(run.ID, run.Period.ID),
		Outcomes: outcomes,
	}
	res.Sheet.Apply(sortedResults(employees, kpiResults))
	if report.OK() && len(kpiResults) > 0 {
		res.Period = kpi.MarkComputed(run.Period)
	}

	c.log().WithFields(logrus.Fields{
		"run":      run.ID,
		"period":   run.Period.ID,
		"payslips": len(outcomes),
	}).Info("payroll cycle finished")
	return res, nil
}

// employee runs one pass. The returned outcome carries whatever completed,
// even when a later step failed.
func (c *Cycle) employee(ctx context.Context, period generic.Period, slip payroll.Payslip) (*Outcome, error) {
	out := &Outcome{Payslip: slip}

	kres, err := c.KPI.ComputeEmployee(ctx, slip.Employee, period, c.KpiConfig)
	if err != nil {
		return out, fmt.Errorf("kpi: %w", err)
	}
	out.KPI = kres
	c.metrics().ObserveDefaulted(kres.Defaulted)

	if c.Adjust != nil {
		recs, err := c.Adjust.SyncAutomatic(ctx, slip.Employee, period, slip.ID)
		if err != nil {
			return out, fmt.Errorf("adjustments: %w", err)
		}
		out.Adjustments = recs
		c.metrics().ObserveDefaulted(adjust.DefaultedInputs(recs))
	}

	slip.KpiPeriodID = period.ID
	out.Payslip = slip
	lines, err := c.Payroll.Compute(ctx, slip, c.Params)
	if err != nil {
		return out, fmt.Errorf("payslip %s: %w", slip.ID, err)
	}
	out.Lines = lines
	c.metrics().ObserveFormulaFailures(lines.Failures)
	c.metrics().ObserveDefaulted(lines.Defaulted)

	if c.Adjust != nil {
		final, err := c.Adjust.Final(ctx, slip.Employee.ID, period.ID, slip.ID, kres.Scorecard.Total)
		if err != nil {
			return out, fmt.Errorf("final score: %w", err)
		}
		out.Final = final
	} else {
		out.Final = adjust.FinalScore(kres.Scorecard.Total, slip.ID, nil)
	}
	return out, nil
}

func sortedResults(employees []generic.Employee, results map[generic.EmployeeID]*kpi.Result) []*kpi.Result {
	out := make([]*kpi.Result, 0, len(results))
	for _, emp := range employees {
		if r, ok := results[emp.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
