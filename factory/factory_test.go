package factory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func build(t *testing.T, yaml string) (*factory.Factory, error) {
	t.Helper()
	cfg, err := factory.FromYAML([]byte(yaml))
	require.NoError(t, err)
	return factory.New(cfg)
}

func sample(t *testing.T) *factory.Factory {
	t.Helper()
	f, err := factory.Load("")
	require.NoError(t, err)
	return f
}

// =============================================================================
// SAMPLE CONFIGURATION
// =============================================================================

func TestSample_BuildsEverything(t *testing.T) {
	f := sample(t)

	s, ok := f.Structure("")
	require.True(t, ok)
	assert.Equal(t, payroll.DefaultStructureCode, s.Code)
	assert.Len(t, f.Structures(), 1)

	assert.True(t, dec("17.5").Equal(f.Params().BHXHRateCompany))
	assert.Len(t, f.KpiConfig().ActiveGroups(), 2)
	assert.Equal(t, "Default", f.KpiConfig().Profile.Name)
	assert.Equal(t, []string{"commendations", "sum_late"}, f.AdjustmentRules().VariableKeys())
	assert.Len(t, f.Employees(), 2)

	p, ok := f.Period("2025-03")
	require.True(t, ok)
	assert.Equal(t, 31, p.Days())
	assert.Equal(t, generic.PeriodDraft, p.State)

	assert.Equal(t, []string{"2025-03"}, f.Runs())
}

func TestSample_ResolverLayersSources(t *testing.T) {
	f := sample(t)
	emp, _ := f.Employee("emp-1")
	p, _ := f.Period("2025-03")

	vars, err := f.Resolver().Resolve(context.Background(), emp, p.Start, p.End, nil)
	require.NoError(t, err)

	assert.True(t, dec("12000000").Equal(vars.Decimal("base_wage")))
	assert.True(t, dec("22").Equal(vars.Decimal("work_day")))
	assert.True(t, dec("3").Equal(vars.Decimal("sum_late")))
	assert.True(t, dec("730000").Equal(vars.Decimal("allow_lunch")))
	assert.True(t, dec("2").Equal(vars.Decimal("commendations")))
}

func TestSample_FullCycle(t *testing.T) {
	// GIVEN: The sample configuration on an in-memory store
	// WHEN: Running payroll run 2025-03
	// THEN: emp-1 nets 11,032,000 with KPI 90 (30 + 60) and a final score
	//       of 90 + 2 - 1.5 = 90.5

	f := sample(t)
	gw := store.NewMemory()
	resolver := f.Resolver()
	cycle := &batch.Cycle{
		Runner:    batch.NewRunner(2, nil, nil),
		KPI:       kpi.NewService(f.WorkItems(), gw, nil),
		KpiConfig: f.KpiConfig(),
		Adjust:    adjust.NewEngine(f.AdjustmentRules(), resolver, gw, nil),
		Payroll:   payroll.NewService(payroll.NewEngine(nil), resolver, gw, nil),
		Params:    f.Params(),
	}

	run, err := f.PayrollRun("2025-03")
	require.NoError(t, err)
	res, err := cycle.Run(context.Background(), run)
	require.NoError(t, err)
	require.True(t, res.Report.OK())

	out := res.Outcomes["slip-2025-03-emp-1"]
	require.NotNil(t, out)
	assert.True(t, dec("11032000").Equal(out.Lines.Code("NET")), out.Lines.Code("NET").String())
	assert.True(t, dec("90").Equal(out.KPI.Scorecard.Total), out.KPI.Scorecard.Total.String())
	assert.True(t, dec("90.5").Equal(out.Final.Total), out.Final.Total.String())

	other := res.Outcomes["slip-2025-03-emp-2"]
	require.NotNil(t, other)
	assert.True(t, other.KPI.Scorecard.Total.IsZero())
}

func TestSample_NonFiniteInputsReadAsZero(t *testing.T) {
	// GIVEN: The sample with an infinite commendation count and a NaN allowance
	// WHEN: Running payroll run 2025-03
	// THEN: Every employee completes; the PRAISE count reads zero, so the
	//       final score is 90 - 1.5 = 88.5

	yaml := strings.Replace(factory.SampleYAML, "{commendations: 2}", "{commendations: .inf}", 1)
	yaml = strings.Replace(yaml, "{lunch: 730000}", "{lunch: .nan}", 1)
	f, err := build(t, yaml)
	require.NoError(t, err)

	gw := store.NewMemory()
	run, err := f.PayrollRun("2025-03")
	require.NoError(t, err)
	res, err := f.Cycle(gw, batch.NewRunner(2, nil, nil), nil).Run(context.Background(), run)
	require.NoError(t, err)
	require.True(t, res.Report.OK(), "%v", res.Report.Failed)

	out := res.Outcomes["slip-2025-03-emp-1"]
	require.NotNil(t, out)
	assert.True(t, dec("88.5").Equal(out.Final.Total), out.Final.Total.String())
	for _, rec := range out.Adjustments {
		if rec.RuleCode == "PRAISE" {
			assert.Zero(t, rec.Occurrences)
		}
	}
}

func TestSample_OverdueThresholdFromYAML(t *testing.T) {
	f := sample(t)
	assert.Equal(t, 7, f.KpiConfig().Threshold())

	// GIVEN: A zero threshold: any delay is overdue
	strict, err := build(t, strings.Replace(factory.SampleYAML, "overdue_threshold_days: 7", "overdue_threshold_days: 0", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, strict.KpiConfig().Threshold())

	// GIVEN: No threshold at all
	unset, err := build(t, strings.Replace(factory.SampleYAML, "overdue_threshold_days: 7\n", "", 1))
	require.NoError(t, err)
	assert.Equal(t, kpi.DefaultOverdueThresholdDays, unset.KpiConfig().Threshold())
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestNew_CustomStructure(t *testing.T) {
	f, err := build(t, `
structures:
  - code: FLAT
    rules:
      - {id: 1, code: BASE, sequence: 1, category: earning, amount: {fixed: 1000}}
      - {id: 2, code: TAX, sequence: 2, category: deduction, amount: {percent: 10, base: BASE}}
      - {id: 3, code: NET, sequence: 3, category: earning, condition: 'get_code("BASE") > 0', amount: {formula: 'get_code("BASE") - get_code("TAX")'}}
      - {id: 4, code: OLD, sequence: 4, category: earning, amount: {fixed: 1}, active: false}
`)
	require.NoError(t, err)

	s, ok := f.Structure("FLAT")
	require.True(t, ok)
	require.Len(t, s.Rules, 4)
	assert.Len(t, s.ActiveRules(), 3)
	assert.Equal(t, payroll.PercentOf{Percent: dec("10"), BaseCode: "BASE"}, s.Rules[1].Amount)
	assert.Equal(t, payroll.WhenExpr{Expr: `get_code("BASE") > 0`}, s.Rules[2].Condition)

	def, _ := f.Structure("")
	assert.Equal(t, "FLAT", def.Code)
}

func TestNew_RejectsBadConfigurations(t *testing.T) {
	cases := map[string]string{
		"two amounts": `
structures:
  - code: X
    rules: [{id: 1, code: A, category: earning, amount: {fixed: 1, formula: "2"}}]`,
		"percent without base": `
structures:
  - code: X
    rules: [{id: 1, code: A, category: earning, amount: {percent: 5}}]`,
		"unknown category": `
structures:
  - code: X
    rules: [{id: 1, code: A, category: bonus, amount: {fixed: 1}}]`,
		"duplicate label tag": `
kpi:
  groups: [{code: N1, weight: 40}]
  labels:
    - {id: L1, group: N1, tag: t}
    - {id: L2, group: N1, tag: t}`,
		"negative group weight": `
kpi:
  groups: [{code: N1, weight: -1}]`,
		"unknown adjustment kind": `
adjustments: [{code: A, kind: multiply, points: 1, source: manual}]`,
		"end before start": `
fixtures:
  periods: [{id: p, start: 2025-03-31, end: 2025-03-01}]`,
		"payslip of unknown employee": `
fixtures:
  periods: [{id: p, start: 2025-03-01, end: 2025-03-31}]
  payslips: [{id: s, run: r, employee: ghost, period: p}]`,
		"unknown insurance": `
params:
  insurance: {pension: {employee: 1}}`,
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := build(t, yaml)
			require.Error(t, err)
			assert.True(t, generic.IsClientError(err), err.Error())
		})
	}
}

func TestPayrollRun_Unknown(t *testing.T) {
	_, err := sample(t).PayrollRun("1999-01")
	assert.True(t, generic.IsNotFound(err))
}

func TestPayslip_Lookup(t *testing.T) {
	f := sample(t)

	slip, err := f.Payslip("slip-2025-03-emp-2")
	require.NoError(t, err)
	assert.Equal(t, generic.EmployeeID("emp-2"), slip.Employee.ID)
	assert.Equal(t, "acc-2", slip.Employee.AccountID)
	assert.Equal(t, generic.PeriodID("2025-03"), slip.Period.ID)
	assert.Equal(t, payroll.DefaultStructureCode, slip.Structure.Code)

	_, err = f.Payslip("slip-ghost")
	assert.True(t, generic.IsNotFound(err))
}

func TestFromYAML_Malformed(t *testing.T) {
	_, err := factory.FromYAML([]byte("kpi: [unclosed"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid config yaml"))
}
