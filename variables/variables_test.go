package variables_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/variables"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var emp = generic.Employee{ID: "emp-1", Code: "NV001", Name: "Tran Thi B", DepartmentID: "Sales"}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type failingSource struct{}

func (failingSource) Fetch(context.Context, generic.Employee, time.Time, time.Time) (map[string]any, error) {
	return nil, errors.New("timesheet service down")
}

func profiles() variables.StaticSource {
	return variables.StaticSource{
		"emp-1": {"base_wage": "12000000", "si_wage": 8000000.0, "dependent_count": 2, "wage_type": "gross"},
	}
}

func timesheet() *variables.MemoryTimesheet {
	var rows []variables.TimesheetRow
	for d := 3; d <= 7; d++ {
		rows = append(rows, variables.TimesheetRow{
			EmployeeID:         "emp-1",
			Date:               day(d),
			ShiftPoint:         dec("1"),
			StandardShiftPoint: dec("1"),
			SumLate:            1,
		})
	}
	rows = append(rows, variables.TimesheetRow{EmployeeID: "emp-1", Date: day(10), StandardShiftPoint: dec("1"), UnpaidLeaveDay: dec("1")})
	// Outside the range
	rows = append(rows, variables.TimesheetRow{EmployeeID: "emp-1", Date: day(1).AddDate(0, 1, 0), ShiftPoint: dec("1")})
	return variables.NewMemoryTimesheet(rows...)
}

// =============================================================================
// VALUE COERCION
// =============================================================================

func TestValue_DeclaredTypeCoercion(t *testing.T) {
	// GIVEN: Raw upstream values of mixed Go types
	// WHEN: Read through their declared types
	// THEN: Each binds as the declared formula kind

	m := variables.Map{}
	m.Set("base_wage", variables.TypeMonetary, "12000000.50")
	m.Set("dependent_count", variables.TypeInteger, 2.9)
	m.Set("is_manager", variables.TypeBoolean, "true")
	m.Set("hired", variables.TypeDate, "2024-05-01")
	m.Set("department_id", variables.TypeText, 42)
	m.Set("unknown", variables.TypeOpaque, 7)

	rec, errs := m.Record()
	require.Empty(t, errs)

	d, ok := rec["base_wage"].Num()
	require.True(t, ok)
	assert.True(t, dec("12000000.5").Equal(d))

	d, _ = rec["dependent_count"].Num()
	assert.True(t, dec("2").Equal(d), "integers truncate")

	assert.Equal(t, formula.KindBool, rec["is_manager"].Kind())
	s, _ := rec["hired"].Str()
	assert.Equal(t, "2024-05-01", s)
	s, _ = rec["department_id"].Str()
	assert.Equal(t, "42", s)
	d, _ = rec["unknown"].Num()
	assert.True(t, dec("7").Equal(d))
}

func TestValue_TypeMismatchReadsZero(t *testing.T) {
	m := variables.Map{}
	m.Set("sum_late", variables.TypeInteger, "many")

	rec, errs := m.Record()
	require.Len(t, errs, 1)
	d, ok := rec["sum_late"].Num()
	require.True(t, ok)
	assert.True(t, d.IsZero())
}

func TestValue_NullStaysNull(t *testing.T) {
	m := variables.Map{}
	m.Set("si_wage", variables.TypeMonetary, nil)

	rec, errs := m.Record()
	assert.Empty(t, errs)
	assert.True(t, rec["si_wage"].IsNull())
}

func TestValue_NonFiniteFloatReadsZero(t *testing.T) {
	// GIVEN: Upstream floats decimal cannot represent
	m := variables.Map{}
	m.Set("si_wage", variables.TypeMonetary, math.Inf(1))
	m.Set("dependent_count", variables.TypeInteger, math.NaN())
	m.Set("points", variables.TypeFloat, float32(math.Inf(-1)))
	m.Set("commendations", variables.TypeOpaque, math.Inf(1))

	// WHEN: Bound for formulas
	rec, errs := m.Record()

	// THEN: Declared numeric keys read zero with an error, the opaque key binds null
	assert.Len(t, errs, 3)
	for _, key := range []string{"si_wage", "dependent_count", "points"} {
		d, ok := rec[key].Num()
		require.True(t, ok, key)
		assert.True(t, d.IsZero(), key)
	}
	assert.True(t, rec["commendations"].IsNull())

	_, err := variables.Value{Key: "x", Raw: math.NaN()}.Decimal()
	assert.Error(t, err)
	assert.True(t, m.Decimal("si_wage").IsZero())

	d, err := variables.Value{Key: "x", Raw: float32(0.1)}.Decimal()
	require.NoError(t, err)
	assert.Equal(t, "0.1", d.String())
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_RejectsInvalidDefinitions(t *testing.T) {
	_, err := variables.NewCatalog(
		variables.Definition{Key: "a", Kind: variables.KindAuto, Type: variables.TypeFloat, SystemKey: "timesheet:a", Active: true},
		variables.Definition{Key: "a", Kind: variables.KindInput, Type: variables.TypeFloat},
	)
	assert.ErrorContains(t, err, "duplicate")

	_, err = variables.NewCatalog(variables.Definition{Key: "f", Kind: variables.KindFormula, Type: variables.TypeFloat})
	assert.ErrorContains(t, err, "definition")

	_, err = variables.NewCatalog(variables.Definition{Key: "x", Kind: variables.KindAuto, Type: "bytes", SystemKey: "a:b"})
	assert.ErrorContains(t, err, "unknown type")
}

// =============================================================================
// SOURCE RESOLVER
// =============================================================================

func TestSourceResolver_ResolvesCatalogFromSources(t *testing.T) {
	// GIVEN: The default catalog with employee, profile and timesheet sources
	// WHEN: Resolving March for emp-1
	// THEN: Profile fields and aggregated timesheet fields are present

	r := variables.NewSourceResolver(variables.DefaultCatalog()).
		Register("employee", variables.EmployeeSource{}).
		Register("profile", profiles()).
		Register("allowance", variables.StaticSource{}).
		Register("timesheet", variables.TimesheetSource{Reader: timesheet()})

	m, err := r.Resolve(context.Background(), emp, day(1), day(31), nil)
	require.NoError(t, err)

	assert.True(t, dec("12000000").Equal(m.Decimal("base_wage")))
	assert.True(t, dec("8000000").Equal(m.Decimal("si_wage")))
	assert.True(t, dec("5").Equal(m.Decimal("points")))
	assert.True(t, dec("6").Equal(m.Decimal("work_day")))
	assert.True(t, dec("1").Equal(m.Decimal("unpaid_lf_point")))
	assert.True(t, dec("5").Equal(m.Decimal("sum_late")))

	v, ok := m.Get("employee_index")
	require.True(t, ok)
	s, _ := v.Text()
	assert.Equal(t, "NV001", s)

	allow, ok := m.Get("allow_lunch")
	require.True(t, ok, "keys of an empty source are still present")
	assert.True(t, allow.IsNull())
}

func TestSourceResolver_FailingSourceDegrades(t *testing.T) {
	// GIVEN: A timesheet source that fails
	// WHEN: Resolving
	// THEN: Other sources still resolve, timesheet keys are null,
	//       and the error names the defaulted inputs

	r := variables.NewSourceResolver(variables.DefaultCatalog()).
		Register("employee", variables.EmployeeSource{}).
		Register("profile", profiles()).
		Register("allowance", variables.StaticSource{}).
		Register("timesheet", failingSource{})

	m, err := r.Resolve(context.Background(), emp, day(1), day(31), nil)
	require.Error(t, err)
	assert.True(t, generic.IsDataUnavailable(err))
	assert.ElementsMatch(t, []string{"points", "sum_late", "unpaid_lf_point", "work_day"}, generic.DefaultedInputs(err))

	assert.True(t, dec("12000000").Equal(m.Decimal("base_wage")))
	points, ok := m.Get("points")
	require.True(t, ok)
	assert.True(t, points.IsNull())
}

func TestSourceResolver_KeysRestrictResolution(t *testing.T) {
	r := variables.NewSourceResolver(variables.DefaultCatalog()).
		Register("timesheet", variables.TimesheetSource{Reader: timesheet()})

	m, err := r.Resolve(context.Background(), emp, day(1), day(31), []string{"sum_late"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sum_late"}, m.Keys())
}

// =============================================================================
// CHAIN AND KPI CROSS-FEED
// =============================================================================

func TestChain_LaterLayersOverride(t *testing.T) {
	base := &variables.StaticResolver{Values: map[generic.EmployeeID]map[string]any{
		"emp-1": {"base_wage": 1, "points": 20},
	}}
	override := &variables.StaticResolver{Values: map[generic.EmployeeID]map[string]any{
		"emp-1": {"base_wage": 2, "points": nil},
	}}

	m, err := variables.Chain{base, override}.Resolve(context.Background(), emp, day(1), day(31), nil)
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(m.Decimal("base_wage")))
	assert.True(t, dec("20").Equal(m.Decimal("points")), "null never hides a resolved value")
}

func TestKpiVariables(t *testing.T) {
	m := variables.KpiVariables([]generic.KpiRecord{
		{GroupCode: "Quality", Score: dec("34.8")},
		{GroupCode: "Speed", Score: dec("20")},
	})

	assert.True(t, dec("54.8").Equal(m.Decimal("KPI_TOTAL")))
	assert.True(t, dec("54.8").Equal(m.Decimal("kpi_total")))
	assert.True(t, dec("34.8").Equal(m.Decimal("KPI_QUALITY")))
	assert.True(t, dec("20").Equal(m.Decimal("kpi_speed")))
}
