package generic_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// PERIODS
// =============================================================================

func TestMonthPeriod(t *testing.T) {
	p := generic.MonthPeriod(2024, time.February)

	assert.Equal(t, generic.PeriodID("2024-02"), p.ID)
	assert.Equal(t, "02/2024", p.Name)
	assert.Equal(t, 29, p.Days())
	assert.Equal(t, generic.PeriodDraft, p.State)
	assert.Equal(t, "[2024-02-01, 2024-02-29]", p.String())
	require.NoError(t, p.Validate())
}

func TestPeriod_Validate(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	assert.NoError(t, generic.NewPeriod("p", "same day", day(5), day(5)).Validate())

	err := generic.NewPeriod("p", "reversed", day(31), day(1)).Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	assert.True(t, generic.IsClientError(err))

	err = generic.Period{ID: "empty"}.Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestPeriod_DeadlineWindowIncludesWholeEndDay(t *testing.T) {
	// GIVEN: March 2025
	p := generic.MonthPeriod(2025, time.March)

	// THEN: The last instant of March 31 is inside, April 1 00:00 is not
	assert.True(t, p.Contains(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC)))
}

func TestCeilDays(t *testing.T) {
	cases := map[time.Duration]int{
		-time.Hour:     0,
		0:              0,
		time.Minute:    1,
		24 * time.Hour: 1,
		25 * time.Hour: 2,
		72 * time.Hour: 3,
	}
	for d, want := range cases {
		assert.Equal(t, want, generic.CeilDays(d), d.String())
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func TestNewPayslipLine_QuantityOne(t *testing.T) {
	l := generic.NewPayslipLine("BASIC", "Basic", 10, generic.CategoryEarning, decimal.RequireFromString("1500.25"))
	assert.True(t, decimal.NewFromInt(1).Equal(l.Quantity))
	assert.True(t, l.Amount.Equal(l.Total))
}

func TestAdjustmentRecord_Recompute(t *testing.T) {
	r := generic.AdjustmentRecord{Occurrences: 3, PointsPerOccurrence: decimal.RequireFromString("0.5")}
	r.Recompute()
	assert.Equal(t, "1.5", r.Total.String())
}

func TestAdjustmentFilter_Matches(t *testing.T) {
	r := generic.AdjustmentRecord{EmployeeID: "emp-1", PeriodID: "2025-03", PayslipID: "slip-1", Source: generic.SourceManual}

	assert.True(t, generic.AdjustmentFilter{}.Matches(r))
	assert.True(t, generic.AdjustmentFilter{EmployeeID: "emp-1", Source: generic.SourceManual}.Matches(r))
	assert.False(t, generic.AdjustmentFilter{PayslipID: "slip-2"}.Matches(r))
	assert.False(t, generic.AdjustmentFilter{Source: generic.SourceAutomatic}.Matches(r))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorClasses(t *testing.T) {
	cfg := generic.NewConfigurationError("rule BASIC", "unknown category %q", "bonus")
	assert.True(t, generic.IsConfiguration(cfg))
	assert.True(t, generic.IsClientError(fmt.Errorf("structure X: %w", cfg)))
	assert.Contains(t, cfg.Error(), "rule BASIC")

	closed := fmt.Errorf("%w: %s", generic.ErrPeriodClosed, "2025-03")
	assert.True(t, generic.IsClientError(closed))
	assert.False(t, generic.IsConfiguration(closed))

	notFound := fmt.Errorf("%w: payslip x", generic.ErrNotFound)
	assert.True(t, generic.IsNotFound(notFound))
	assert.False(t, generic.IsClientError(notFound))

	fe := &generic.FormulaError{Source: "1 +", Pos: 3, Msg: "syntax error"}
	assert.ErrorIs(t, fe, generic.ErrFormulaEvaluation)
	assert.Contains(t, fe.Error(), "offset 3")
}

func TestDefaultedInputs_WalksJoinedErrors(t *testing.T) {
	// GIVEN: Two failed sources joined, one wrapped
	down := errors.New("connection refused")
	err := errors.Join(
		&generic.DataUnavailableError{Source: "timesheet", Inputs: []string{"work_day", "points"}, Err: down},
		fmt.Errorf("profile: %w", &generic.DataUnavailableError{Source: "profile"}),
	)

	// THEN: Every defaulted input is listed, a source without inputs by name
	assert.True(t, generic.IsDataUnavailable(err))
	assert.ErrorIs(t, err, down)
	assert.Equal(t, []string{"work_day", "points", "profile"}, generic.DefaultedInputs(err))
	assert.Nil(t, generic.DefaultedInputs(nil))
}
