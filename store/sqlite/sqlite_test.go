package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// gateways runs every test against SQLite and the in-memory gateway.
func gateways(t *testing.T) map[string]generic.Gateway {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]generic.Gateway{
		"sqlite": db,
		"memory": store.NewMemory(),
	}
}

func line(code string, seq int, ruleID int64, amount string) generic.PayslipLine {
	l := generic.NewPayslipLine(code, code, seq, generic.CategoryEarning, dec(amount))
	l.RuleID = ruleID
	return l
}

func kpiRecord(group, score string) generic.KpiRecord {
	return generic.KpiRecord{
		EmployeeID: "emp-1", PeriodID: "2025-03", GroupCode: group, Score: dec(score),
		Details: generic.KpiDetails{
			Code: group, Weight: dec("40"), Numerator: dec("8.7"), Denominator: dec("10"), Ratio: dec("0.87"),
			Labels: []generic.KpiLabelBreakdown{{LabelID: "L1", Assigned: 10, OnTime: 7, Late: 3, EffectiveGood: dec("8.5")}},
		},
		UpdatedAt: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func automatic(rule string, payslip generic.PayslipID, occurrences int64) generic.AdjustmentRecord {
	r := generic.AdjustmentRecord{
		EmployeeID: "emp-1", PeriodID: "2025-03", PayslipID: payslip, RuleCode: rule,
		Kind: generic.AdjustmentSubtract, Source: generic.SourceAutomatic,
		Occurrences: occurrences, PointsPerOccurrence: dec("0.5"),
	}
	r.Recompute()
	return r
}

// =============================================================================
// LINES
// =============================================================================

func TestReplaceLines_SwapsTheWholeSet(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, gw.ReplaceLines(ctx, "slip-1", []generic.PayslipLine{
				line("A", 1, 1, "100"), line("B", 2, 2, "200"), line("C", 3, 3, "300"),
			}))
			require.NoError(t, gw.ReplaceLines(ctx, "slip-2", []generic.PayslipLine{line("X", 1, 1, "1")}))

			require.NoError(t, gw.ReplaceLines(ctx, "slip-1", []generic.PayslipLine{
				line("B2", 5, 7, "2.50"), line("B1", 5, 3, "1.25"),
			}))

			lines, err := gw.Lines(ctx, "slip-1")
			require.NoError(t, err)
			require.Len(t, lines, 2)
			assert.Equal(t, "B2", lines[0].Code)
			assert.Equal(t, "B1", lines[1].Code)
			assert.True(t, dec("2.5").Equal(lines[0].Total))

			other, _ := gw.Lines(ctx, "slip-2")
			assert.Len(t, other, 1)
		})
	}
}

// =============================================================================
// KPI RECORDS
// =============================================================================

func TestUpsertKpiRecord_KeepsOneRecordPerKey(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := gw.UpsertKpiRecord(ctx, kpiRecord("N1", "34.8"))
			require.NoError(t, err)
			second, err := gw.UpsertKpiRecord(ctx, kpiRecord("N1", "40"))
			require.NoError(t, err)
			_, err = gw.UpsertKpiRecord(ctx, kpiRecord("N2", "12"))
			require.NoError(t, err)

			assert.Equal(t, first.ID, second.ID)

			records, err := gw.KpiRecords(ctx, "emp-1", "2025-03")
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "N1", records[0].GroupCode)
			assert.True(t, dec("40").Equal(records[0].Score))
			assert.True(t, dec("0.87").Equal(records[0].Details.Ratio))
			require.Len(t, records[0].Details.Labels, 1)
			assert.Equal(t, 7, records[0].Details.Labels[0].OnTime)

			require.NoError(t, gw.DeleteKpiRecord(ctx, records[1].Key()))
			require.NoError(t, gw.DeleteKpiRecord(ctx, records[1].Key()))
			records, _ = gw.KpiRecords(ctx, "emp-1", "2025-03")
			assert.Len(t, records, 1)
		})
	}
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestUpsertAdjustment_AutomaticKey(t *testing.T) {
	// GIVEN: Automatic upserts for slip-1 (twice), slip-2 and no payslip
	// WHEN: Listing the records
	// THEN: Three automatic records; slip-1's holds the latest count

	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := gw.UpsertAdjustment(ctx, automatic("LATE", "slip-1", 2))
			require.NoError(t, err)
			b, err := gw.UpsertAdjustment(ctx, automatic("LATE", "slip-1", 5))
			require.NoError(t, err)
			_, err = gw.UpsertAdjustment(ctx, automatic("LATE", "slip-2", 1))
			require.NoError(t, err)
			_, err = gw.UpsertAdjustment(ctx, automatic("LATE", "", 1))
			require.NoError(t, err)

			assert.Equal(t, a.ID, b.ID)

			all, err := gw.Adjustments(ctx, generic.AdjustmentFilter{EmployeeID: "emp-1"})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			slip1, err := gw.Adjustments(ctx, generic.AdjustmentFilter{PayslipID: "slip-1"})
			require.NoError(t, err)
			require.Len(t, slip1, 1)
			assert.Equal(t, int64(5), slip1[0].Occurrences)
			assert.True(t, dec("2.5").Equal(slip1[0].Total))
		})
	}
}

func TestCreateAdjustment_ManualRecordsAreIndependent(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			manual := automatic("LATE", "slip-1", 3)
			manual.Source = generic.SourceManual
			manual.Note = "entered by HR"

			m1, err := gw.CreateAdjustment(ctx, manual)
			require.NoError(t, err)
			_, err = gw.CreateAdjustment(ctx, manual)
			require.NoError(t, err)
			_, err = gw.UpsertAdjustment(ctx, automatic("LATE", "slip-1", 1))
			require.NoError(t, err)

			manuals, err := gw.Adjustments(ctx, generic.AdjustmentFilter{Source: generic.SourceManual})
			require.NoError(t, err)
			require.Len(t, manuals, 2)
			assert.Equal(t, m1.ID, manuals[0].ID)
			assert.Equal(t, "entered by HR", manuals[0].Note)
			assert.Equal(t, int64(3), manuals[0].Occurrences)

			require.NoError(t, gw.DeleteAdjustment(ctx, m1.ID))
			err = gw.DeleteAdjustment(ctx, m1.ID)
			assert.True(t, generic.IsNotFound(err))
		})
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")

			err := gw.WithTx(ctx, func(tx generic.Gateway) error {
				if err := tx.ReplaceLines(ctx, "slip-1", []generic.PayslipLine{line("A", 1, 1, "1")}); err != nil {
					return err
				}
				if _, err := tx.UpsertKpiRecord(ctx, kpiRecord("N1", "1")); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			lines, _ := gw.Lines(ctx, "slip-1")
			assert.Empty(t, lines)
			records, _ := gw.KpiRecords(ctx, "emp-1", "2025-03")
			assert.Empty(t, records)
		})
	}
}

func TestWithTx_Commits(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := gw.WithTx(ctx, func(tx generic.Gateway) error {
				_, err := tx.UpsertAdjustment(ctx, automatic("LATE", "slip-1", 2))
				return err
			})
			require.NoError(t, err)

			all, _ := gw.Adjustments(ctx, generic.AdjustmentFilter{})
			assert.Len(t, all, 1)
		})
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.UpsertKpiRecord(ctx, kpiRecord("N1", "1"))
	require.NoError(t, err)
	require.NoError(t, db.Reset(ctx))

	records, _ := db.KpiRecords(ctx, "emp-1", "2025-03")
	assert.Empty(t, records)
}
