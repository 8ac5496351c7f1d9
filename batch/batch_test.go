package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/variables"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func march() generic.Period {
	return generic.MonthPeriod(2025, time.March)
}

func employees(n int) []generic.Employee {
	out := make([]generic.Employee, n)
	for i := range out {
		id := fmt.Sprintf("emp-%02d", i+1)
		out[i] = generic.Employee{ID: generic.EmployeeID(id), Name: id, AccountID: "acc-" + id}
	}
	return out
}

func at(day, hour int) *time.Time {
	t := time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func kpiConfig() kpi.Config {
	profile := kpi.DefaultQualityProfile()
	return kpi.Config{
		Groups: []kpi.Group{
			{Code: "N1", Name: "Delivery", Weight: dec("40"), Sequence: 1, Active: true},
			{Code: "N2", Name: "Support", Weight: dec("60"), Sequence: 2, Active: true},
		},
		Labels: []kpi.Label{
			{ID: "L1", Name: "Features", GroupCode: "N1", TagID: "feature", Weight: dec("1"), Active: true},
			{ID: "L2", Name: "Tickets", GroupCode: "N2", TagID: "ticket", Weight: dec("1"), Active: true},
		},
		Profile: &profile,
	}
}

func structure() payroll.Structure {
	return payroll.Structure{Code: "KPI_PAY", Rules: []payroll.Rule{{
		ID: 1, Code: "KPI_BONUS", Sequence: 1,
		Category:  generic.CategoryEarning,
		Condition: payroll.Always{},
		Amount:    payroll.Formula{Expr: `V.KPI_TOTAL * 1000`},
		Active:    true,
	}}}
}

type fixture struct {
	gw    *store.Memory
	items *kpi.MemoryWorkItems
	cycle *batch.Cycle
}

func newFixture(t *testing.T, values map[generic.EmployeeID]map[string]any) *fixture {
	t.Helper()
	gw := store.NewMemory()
	items := kpi.NewMemoryWorkItems()
	resolver := &variables.StaticResolver{Catalog: variables.DefaultCatalog(), Values: values}
	rules := adjust.Rules{{
		Code: "LATE", Kind: generic.AdjustmentSubtract, PointsPerOccurrence: dec("0.5"),
		Source: generic.SourceAutomatic, VariableKey: "sum_late", Active: true,
	}}
	return &fixture{
		gw:    gw,
		items: items,
		cycle: &batch.Cycle{
			Runner:    batch.NewRunner(2, nil, batch.NewMetrics()),
			KPI:       kpi.NewService(items, gw, nil),
			KpiConfig: kpiConfig(),
			Adjust:    adjust.NewEngine(rules, resolver, gw, nil),
			Payroll:   payroll.NewService(payroll.NewEngine(nil), resolver, gw, nil),
			Params:    payroll.DefaultParams(),
		},
	}
}

func slip(emp generic.Employee) payroll.Payslip {
	return payroll.Payslip{
		ID:        generic.PayslipID("slip-" + string(emp.ID)),
		Employee:  emp,
		Structure: structure(),
		Period:    march(),
	}
}

// =============================================================================
// RUNNER
// =============================================================================

func TestRunner_IsolatesFailures(t *testing.T) {
	// GIVEN: Five employees, the third one failing
	// WHEN: Running the batch
	// THEN: The other four succeed and the failure is reported per employee

	boom := errors.New("boom")
	r := batch.NewRunner(3, nil, nil)
	report := r.Run(context.Background(), "test", employees(5), func(_ context.Context, emp generic.Employee) error {
		if emp.ID == "emp-03" {
			return boom
		}
		return nil
	})

	assert.Equal(t, []generic.EmployeeID{"emp-01", "emp-02", "emp-04", "emp-05"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Err("emp-03"), boom)
	assert.NoError(t, report.Err("emp-01"))
	assert.False(t, report.OK())
}

func TestRunner_PanicIsIsolated(t *testing.T) {
	// GIVEN: Four employees, the second one panicking inside its pass
	// WHEN: Running the batch
	// THEN: The panic becomes that employee's failure and the rest succeed

	metrics := batch.NewMetrics()
	r := batch.NewRunner(2, nil, metrics)
	report := r.Run(context.Background(), "test", employees(4), func(_ context.Context, emp generic.Employee) error {
		if emp.ID == "emp-02" {
			var m map[string]int
			m["boom"]++
		}
		return nil
	})

	assert.Equal(t, []generic.EmployeeID{"emp-01", "emp-03", "emp-04"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, generic.EmployeeID("emp-02"), report.Failed[0].EmployeeID)
	assert.Contains(t, report.Err("emp-02").Error(), "panic:")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Jobs.WithLabelValues("test", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Jobs.WithLabelValues("test", "ok")))
}

func TestRunner_WaitingEmployeeIsNotStartedAfterCancel(t *testing.T) {
	// GIVEN: One worker busy with the first employee, the second waiting for the slot
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started []generic.EmployeeID
	var mu sync.Mutex
	report := batch.NewRunner(1, nil, nil).Run(ctx, "test", employees(3), func(_ context.Context, emp generic.Employee) error {
		mu.Lock()
		started = append(started, emp.ID)
		mu.Unlock()
		if emp.ID == "emp-01" {
			// WHEN: The run is cancelled while the pass still holds the slot
			cancel()
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	})

	// THEN: Only the in-flight pass ran; the waiting employee is skipped
	assert.Equal(t, []generic.EmployeeID{"emp-01"}, started)
	assert.Equal(t, []generic.EmployeeID{"emp-01"}, report.Succeeded)
	assert.Equal(t, []generic.EmployeeID{"emp-02", "emp-03"}, report.Skipped)
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	r := batch.NewRunner(2, nil, nil)
	report := r.Run(context.Background(), "test", employees(10), func(context.Context, generic.Employee) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	assert.True(t, report.OK())
	assert.Len(t, report.Succeeded, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunner_CancelledBeforeStartSkipsEveryone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := batch.NewRunner(2, nil, nil).Run(ctx, "test", employees(3), func(context.Context, generic.Employee) error {
		t.Fatal("no employee should be dispatched")
		return nil
	})
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, report.Succeeded)
}

func TestRunner_InFlightPassesFinishAfterCancel(t *testing.T) {
	// GIVEN: One worker and a pass that cancels the run
	// WHEN: The run continues
	// THEN: Started passes see a live context and the tail is skipped

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var sawCancelled bool
	report := batch.NewRunner(1, nil, nil).Run(ctx, "test", employees(4), func(passCtx context.Context, emp generic.Employee) error {
		if emp.ID == "emp-01" {
			cancel()
		}
		mu.Lock()
		defer mu.Unlock()
		if passCtx.Err() != nil {
			sawCancelled = true
		}
		return nil
	})

	assert.False(t, sawCancelled)
	assert.NotEmpty(t, report.Skipped)
	assert.Contains(t, report.Skipped, generic.EmployeeID("emp-04"))
	assert.Equal(t, 4, len(report.Succeeded)+len(report.Skipped))
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetrics_CountsJobOutcomes(t *testing.T) {
	m := batch.NewMetrics()
	r := batch.NewRunner(2, nil, m)
	r.Run(context.Background(), "kpi", employees(3), func(_ context.Context, emp generic.Employee) error {
		if emp.ID == "emp-02" {
			return errors.New("bad")
		}
		return nil
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Jobs.WithLabelValues("kpi", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Jobs.WithLabelValues("kpi", "error")))

	m.ObserveFormulaFailures([]payroll.Failure{{RuleCode: "PIT", Mode: "amount"}, {RuleCode: "PIT", Mode: "amount"}})
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FormulaFailures.WithLabelValues("PIT", "amount")))
}

func TestMetrics_NilIsSilent(t *testing.T) {
	var m *batch.Metrics
	assert.NotPanics(t, func() {
		m.ObserveJob("kpi", nil, time.Second)
		m.ObserveDefaulted([]string{"work_items"})
	})
}

// =============================================================================
// CYCLE
// =============================================================================

func TestCycle_RunsEveryStepPerEmployee(t *testing.T) {
	// GIVEN: emp-01 closes one feature on time and was late 3 times
	// WHEN: Running the payroll cycle
	// THEN: KPI 40, bonus line 40000, final score 40 - 1.5 = 38.5

	emps := employees(2)
	f := newFixture(t, map[generic.EmployeeID]map[string]any{"emp-01": {"sum_late": 3}})
	f.items.Add(kpi.WorkItem{ID: "w1", Assignee: emps[0].AccountID, Done: true, DoneAt: at(5, 9), Deadline: at(5, 12), TagIDs: []string{"feature"}})

	res, err := f.cycle.Run(context.Background(), batch.PayrollRun{
		ID: "run-1", Period: march(), Payslips: []payroll.Payslip{slip(emps[0]), slip(emps[1])},
	})
	require.NoError(t, err)
	require.True(t, res.Report.OK())

	out := res.Outcomes["slip-emp-01"]
	require.NotNil(t, out)
	assert.True(t, dec("40").Equal(out.KPI.Scorecard.Total))
	assert.True(t, dec("40000").Equal(out.Lines.Code("KPI_BONUS")))
	assert.True(t, dec("1.5").Equal(out.Final.Subtract))
	assert.True(t, dec("38.5").Equal(out.Final.Total))

	lines, err := f.gw.Lines(context.Background(), "slip-emp-01")
	require.NoError(t, err)
	require.Len(t, lines, 1)

	assert.Equal(t, kpi.SheetDone, res.Sheet.State)
	assert.Len(t, res.Sheet.Lines, 2)
	assert.Equal(t, generic.PeriodComputed, res.Period.State)
}

func TestCycle_DefaultedAdjustmentInputsAreCounted(t *testing.T) {
	// GIVEN: The timesheet behind the LATE adjustment is unreachable
	emps := employees(1)
	f := newFixture(t, nil)
	down := variables.ResolverFunc(func(context.Context, generic.Employee, time.Time, time.Time, []string) (variables.Map, error) {
		return variables.Map{}, &generic.DataUnavailableError{Source: "timesheet", Inputs: []string{"sum_late"}, Err: errors.New("down")}
	})
	f.cycle.Adjust = adjust.NewEngine(f.cycle.Adjust.Rules, down, f.gw, nil)

	// WHEN: Running the payroll cycle
	res, err := f.cycle.Run(context.Background(), batch.PayrollRun{ID: "run-1", Period: march(), Payslips: []payroll.Payslip{slip(emps[0])}})
	require.NoError(t, err)
	require.True(t, res.Report.OK())

	// THEN: The record names the defaulted input and the metric counts it
	out := res.Outcomes["slip-emp-01"]
	require.Len(t, out.Adjustments, 1)
	assert.Equal(t, []string{"sum_late"}, adjust.DefaultedInputs(out.Adjustments))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.cycle.Runner.Metrics.DefaultedInputs.WithLabelValues("sum_late")))
}

func TestCycle_RecomputeIsIdempotent(t *testing.T) {
	emps := employees(1)
	f := newFixture(t, map[generic.EmployeeID]map[string]any{"emp-01": {"sum_late": 1}})
	run := batch.PayrollRun{ID: "run-1", Period: march(), Payslips: []payroll.Payslip{slip(emps[0])}}

	for i := 0; i < 2; i++ {
		_, err := f.cycle.Run(context.Background(), run)
		require.NoError(t, err)
	}

	records, _ := f.gw.KpiRecords(context.Background(), "emp-01", march().ID)
	assert.Len(t, records, 2)
	adj, _ := f.gw.Adjustments(context.Background(), generic.AdjustmentFilter{EmployeeID: "emp-01"})
	assert.Len(t, adj, 1)
}

func TestCycle_ClosedPeriodIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	period := march()
	period.State = generic.PeriodClosed

	_, err := f.cycle.Run(context.Background(), batch.PayrollRun{ID: "run-1", Period: period, Payslips: []payroll.Payslip{slip(employees(1)[0])}})
	assert.ErrorIs(t, err, generic.ErrPeriodClosed)
	assert.True(t, generic.IsClientError(err))
}

func TestCycle_BadStructureFailsOnlyThatEmployee(t *testing.T) {
	// GIVEN: emp-02's structure has no active rules
	// WHEN: Running the cycle
	// THEN: emp-01 is computed, emp-02 reports a configuration error,
	//       and the period stays draft

	emps := employees(2)
	f := newFixture(t, nil)
	broken := slip(emps[1])
	broken.Structure = payroll.Structure{Code: "EMPTY"}

	res, err := f.cycle.Run(context.Background(), batch.PayrollRun{ID: "run-1", Period: march(), Payslips: []payroll.Payslip{slip(emps[0]), broken}})
	require.NoError(t, err)

	assert.Equal(t, []generic.EmployeeID{"emp-01"}, res.Report.Succeeded)
	assert.True(t, generic.IsConfiguration(res.Report.Err("emp-02")))
	assert.Equal(t, generic.PeriodDraft, res.Period.State)
	assert.Len(t, res.Sheet.Lines, 2)
}

func TestCycle_DuplicatePayslipIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	e := employees(1)[0]
	_, err := f.cycle.Run(context.Background(), batch.PayrollRun{ID: "run-1", Period: march(), Payslips: []payroll.Payslip{slip(e), slip(e)}})
	assert.True(t, generic.IsConfiguration(err))
}

func TestCycle_ComputeKPI(t *testing.T) {
	emps := employees(2)
	f := newFixture(t, nil)
	f.items.Add(kpi.WorkItem{ID: "t1", Assignee: emps[1].AccountID, Done: true, DoneAt: at(3, 9), Deadline: at(3, 18), TagIDs: []string{"ticket"}})

	run, err := f.cycle.ComputeKPI(context.Background(), "kpi-1", march(), emps)
	require.NoError(t, err)

	assert.True(t, run.Report.OK())
	line, ok := run.Sheet.Line("emp-02")
	require.True(t, ok)
	assert.True(t, dec("60").Equal(line.Total))
	assert.Equal(t, "Default", run.Sheet.Profile)
	assert.Equal(t, generic.PeriodComputed, run.Period.State)
}
