package kpi_test

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
	"github.com/warp/payroll-engine/kpi"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var emp = generic.Employee{ID: "emp-1", Name: "Le Van C", AccountID: "acc-1"}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(day, hour int) *time.Time {
	t := time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func march() generic.Period {
	return generic.MonthPeriod(2025, time.March)
}

func done(id string, deadline, doneAt *time.Time, tags ...string) kpi.WorkItem {
	return kpi.WorkItem{ID: id, Assignee: "acc-1", Done: true, DoneAt: doneAt, Deadline: deadline, TagIDs: tags}
}

func open(id string, deadline *time.Time, tags ...string) kpi.WorkItem {
	return kpi.WorkItem{ID: id, Assignee: "acc-1", Deadline: deadline, TagIDs: tags}
}

func config() kpi.Config {
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

// panicSource fails the test if the aggregator queries it.
type panicSource struct{ t *testing.T }

func (p panicSource) Query(context.Context, string, time.Time, time.Time, []string) ([]kpi.WorkItem, error) {
	p.t.Fatal("source must not be queried")
	return nil, nil
}

type downSource struct{}

func (downSource) Query(context.Context, string, time.Time, time.Time, []string) ([]kpi.WorkItem, error) {
	return nil, errors.New("task service unreachable")
}

// =============================================================================
// CLASSIFIER
// =============================================================================

func TestClassify(t *testing.T) {
	due := at(10, 12)
	plus := func(d time.Duration) *time.Time {
		x := due.Add(d)
		return &x
	}

	cases := []struct {
		name string
		item kpi.WorkItem
		want kpi.Outcome
	}{
		{"one hour early", done("a", due, plus(-time.Hour)), kpi.OnTime},
		{"exactly on deadline", done("b", due, due), kpi.OnTime},
		{"25 hours late rounds up to 2 days", done("c", due, plus(25*time.Hour)), kpi.Late},
		{"one hour late is one day", done("d", due, plus(time.Hour)), kpi.Late},
		{"exactly 7 days late", done("e", due, plus(7*24*time.Hour)), kpi.Late},
		{"7 days and 1 hour late", done("f", due, plus(7*24*time.Hour+time.Hour)), kpi.Overdue},
		{"no deadline", done("g", nil, plus(-time.Hour)), kpi.Excluded},
		{"not done", open("h", due), kpi.Excluded},
		{"done without completion time", done("i", due, nil), kpi.Excluded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, kpi.Classify(tc.item, kpi.DefaultOverdueThresholdDays))
		})
	}
}

func TestClassify_CustomThreshold(t *testing.T) {
	item := done("a", at(10, 0), at(12, 1))
	assert.Equal(t, kpi.Overdue, kpi.Classify(item, 2))
	assert.Equal(t, kpi.Late, kpi.Classify(item, 3))
}

func TestClassify_ZeroThresholdMakesAnyDelayOverdue(t *testing.T) {
	assert.Equal(t, kpi.Overdue, kpi.Classify(done("a", at(10, 12), at(10, 13)), 0))
	assert.Equal(t, kpi.OnTime, kpi.Classify(done("b", at(10, 12), at(10, 12)), 0))
}

func TestConfig_Threshold(t *testing.T) {
	zero, negative := 0, -1

	assert.Equal(t, kpi.DefaultOverdueThresholdDays, kpi.Config{}.Threshold())
	assert.Equal(t, 0, kpi.Config{OverdueThresholdDays: &zero}.Threshold())

	err := kpi.Config{OverdueThresholdDays: &negative}.Validate()
	assert.True(t, generic.IsConfiguration(err))
}

// =============================================================================
// SCORER
// =============================================================================

func TestScore_SingleLabelGroup(t *testing.T) {
	// GIVEN: One label, weight 1.0, assigned 10, on-time 8, late 1, overdue 1
	// WHEN: Scored with {1.0, 0.5, 0.2} in a 40% group
	// THEN: E_G = 8.7, ratio = 0.87, score = 34.8

	counts := []kpi.LabelCounts{{
		Label:    kpi.Label{ID: "L1", GroupCode: "N1"},
		Weight:   dec("1"),
		Assigned: 10, OnTime: 8, Late: 1, Overdue: 1,
	}}
	card := kpi.Score(counts, kpi.DefaultQualityProfile(), []kpi.Group{{Code: "N1", Weight: dec("40")}})

	require.Len(t, card.Groups, 1)
	g := card.Groups[0]
	assert.True(t, dec("8.7").Equal(g.Labels[0].EffectiveGood))
	assert.True(t, dec("0.87").Equal(g.Ratio))
	assert.True(t, dec("34.8").Equal(g.Score))
	assert.True(t, dec("34.8").Equal(card.Total))
	assert.True(t, dec("87").Equal(g.Labels[0].Percent))
	assert.True(t, dec("34.8").Equal(g.Labels[0].Contribution))
}

func TestScore_ZeroDenominatorGivesZeroRatio(t *testing.T) {
	counts := []kpi.LabelCounts{{Label: kpi.Label{ID: "L1", GroupCode: "N1"}, Weight: dec("1")}}
	card := kpi.Score(counts, kpi.DefaultQualityProfile(), []kpi.Group{{Code: "N1", Weight: dec("40")}})

	assert.True(t, card.Groups[0].Ratio.IsZero())
	assert.True(t, card.Total.IsZero())
	assert.True(t, card.Groups[0].Labels[0].Percent.IsZero())
}

func TestScore_DropsLabelsOutsideScope(t *testing.T) {
	counts := []kpi.LabelCounts{
		{Label: kpi.Label{ID: "L1", GroupCode: "N1"}, Weight: dec("1"), Assigned: 2, OnTime: 2},
		{Label: kpi.Label{ID: "L9", GroupCode: "GONE"}, Weight: dec("1"), Assigned: 5, OnTime: 5},
	}
	card := kpi.Score(counts, kpi.DefaultQualityProfile(), []kpi.Group{{Code: "N1", Weight: dec("50")}})

	require.Len(t, card.Groups, 1)
	assert.Len(t, card.Groups[0].Labels, 1)
	assert.True(t, dec("50").Equal(card.Total))
}

func TestScore_WeightedLabelsAndContributions(t *testing.T) {
	// GIVEN: Two labels, w=1 (8/10 on time) and w=2 (5/5 on time), group 50%
	// WHEN: Scored
	// THEN: ratio = (8 + 10) / (10 + 10) = 0.9, score 45,
	//       and the label contributions add up to the group score

	counts := []kpi.LabelCounts{
		{Label: kpi.Label{ID: "A", GroupCode: "N1"}, Weight: dec("1"), Assigned: 10, OnTime: 8},
		{Label: kpi.Label{ID: "B", GroupCode: "N1"}, Weight: dec("2"), Assigned: 5, OnTime: 5},
	}
	card := kpi.Score(counts, kpi.DefaultQualityProfile(), []kpi.Group{{Code: "N1", Weight: dec("50")}})

	g := card.Groups[0]
	assert.True(t, dec("0.9").Equal(g.Ratio))
	assert.True(t, dec("45").Equal(g.Score))
	assert.True(t, dec("22.5").Equal(g.Labels[0].Contribution))
	assert.True(t, dec("22.5").Equal(g.Labels[1].Contribution))
}

func TestScore_GroupWeightsAreNotNormalised(t *testing.T) {
	counts := []kpi.LabelCounts{
		{Label: kpi.Label{ID: "A", GroupCode: "N1"}, Weight: dec("1"), Assigned: 1, OnTime: 1},
		{Label: kpi.Label{ID: "B", GroupCode: "N2"}, Weight: dec("1"), Assigned: 1, OnTime: 1},
	}
	card := kpi.Score(counts, kpi.DefaultQualityProfile(), []kpi.Group{
		{Code: "N1", Weight: dec("80")},
		{Code: "N2", Weight: dec("70")},
	})
	assert.True(t, dec("150").Equal(card.Total))
}

func TestLabel_ZeroWeightCountsAsOne(t *testing.T) {
	assert.True(t, dec("1").Equal(kpi.Label{}.EffectiveWeight()))
	assert.True(t, dec("2.5").Equal(kpi.Label{Weight: dec("2.5")}.EffectiveWeight()))
}

// =============================================================================
// AGGREGATOR
// =============================================================================

func TestAggregate_CountsEveryMatchingLabel(t *testing.T) {
	// GIVEN: An item tagged feature+ticket, each tag mapped to a label
	// WHEN: Aggregating
	// THEN: The item is assigned and on-time under both labels

	src := kpi.NewMemoryWorkItems(
		done("both", at(10, 12), at(10, 9), "feature", "ticket"),
		done("late", at(11, 12), at(13, 12), "feature"),
		open("todo", at(12, 12), "feature"),
		done("unmapped", at(12, 12), at(12, 9), "chore"),
	)
	agg := &kpi.Aggregator{Source: src}
	counts, err := agg.Aggregate(context.Background(), emp, march(), config().ActiveLabels())
	require.NoError(t, err)
	require.Len(t, counts, 2)

	features, tickets := counts[0], counts[1]
	assert.Equal(t, 3, features.Assigned)
	assert.Equal(t, 1, features.OnTime)
	assert.Equal(t, 1, features.Late)
	assert.Equal(t, 1, tickets.Assigned)
	assert.Equal(t, 1, tickets.OnTime)
}

func TestAggregate_ZeroThresholdCountsLateAsOverdue(t *testing.T) {
	// GIVEN: An item finished two days after its deadline
	src := kpi.NewMemoryWorkItems(done("late", at(11, 12), at(13, 12), "feature"))
	zero := 0

	// WHEN: Aggregating with the default and with a zero threshold
	byDefault, err := (&kpi.Aggregator{Source: src}).Aggregate(context.Background(), emp, march(), config().ActiveLabels())
	require.NoError(t, err)
	strict, err := (&kpi.Aggregator{Source: src, ThresholdDays: &zero}).Aggregate(context.Background(), emp, march(), config().ActiveLabels())
	require.NoError(t, err)

	// THEN: Zero is honoured rather than replaced by the default
	assert.Equal(t, 1, byDefault[0].Late)
	assert.Equal(t, 0, byDefault[0].Overdue)
	assert.Equal(t, 0, strict[0].Late)
	assert.Equal(t, 1, strict[0].Overdue)
}

func TestAggregate_DeadlineWindowIncludesWholeEndDay(t *testing.T) {
	lastMinute := time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC)
	nextMonth := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	beforeStart := time.Date(2025, time.February, 28, 23, 0, 0, 0, time.UTC)

	src := kpi.NewMemoryWorkItems(
		open("in", &lastMinute, "feature"),
		open("after", &nextMonth, "feature"),
		open("before", &beforeStart, "feature"),
	)
	counts, err := (&kpi.Aggregator{Source: src}).Aggregate(context.Background(), emp, march(), config().ActiveLabels())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[0].Assigned)
}

func TestAggregate_NoAccountGivesEmptyResult(t *testing.T) {
	counts, err := (&kpi.Aggregator{Source: panicSource{t}}).Aggregate(context.Background(), generic.Employee{ID: "x"}, march(), config().ActiveLabels())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestAggregate_EmptyTagScopeSkipsQuery(t *testing.T) {
	labels := []kpi.Label{{ID: "L1", GroupCode: "N1", Active: true}}
	counts, err := (&kpi.Aggregator{Source: panicSource{t}}).Aggregate(context.Background(), emp, march(), labels)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Zero(t, counts[0].Assigned)
}

func TestAggregate_SourceFailureIsDataUnavailable(t *testing.T) {
	counts, err := (&kpi.Aggregator{Source: downSource{}}).Aggregate(context.Background(), emp, march(), config().ActiveLabels())
	assert.True(t, generic.IsDataUnavailable(err))
	assert.Len(t, counts, 2)
}

// =============================================================================
// SERVICE
// =============================================================================

func TestService_RecomputeUpsertsOneRecordPerGroup(t *testing.T) {
	// GIVEN: A computed employee
	// WHEN: Computing again after more work is done
	// THEN: Still one record per group, holding the new score

	ctx := context.Background()
	gw := store.NewMemory()
	src := kpi.NewMemoryWorkItems(done("a", at(10, 12), at(10, 9), "feature"))
	svc := kpi.NewService(src, gw, nil)

	_, err := svc.ComputeEmployee(ctx, emp, march(), config())
	require.NoError(t, err)

	src.Add(open("b", at(20, 12), "feature"))
	res, err := svc.ComputeEmployee(ctx, emp, march(), config())
	require.NoError(t, err)

	records, err := gw.KpiRecords(ctx, "emp-1", march().ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "N1", records[0].GroupCode)
	assert.True(t, dec("20").Equal(records[0].Score), "1 of 2 on time in a 40 percent group")
	assert.Equal(t, 2, records[0].Details.Labels[0].Assigned)
	assert.True(t, records[1].Score.IsZero())
	assert.True(t, dec("20").Equal(res.Scorecard.Total))

	total, _, err := svc.Total(ctx, "emp-1", march().ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(total))
}

func TestService_ClosedPeriodIsRefused(t *testing.T) {
	p := march()
	p.State = generic.PeriodClosed

	_, err := kpi.NewService(panicSource{t}, store.NewMemory(), nil).ComputeEmployee(context.Background(), emp, p, config())
	assert.ErrorIs(t, err, generic.ErrPeriodClosed)
	assert.True(t, generic.IsClientError(err))
}

func TestService_MissingProfileIsConfigurationError(t *testing.T) {
	cfg := config()
	cfg.Profile = nil

	_, err := kpi.NewService(panicSource{t}, store.NewMemory(), nil).ComputeEmployee(context.Background(), emp, march(), cfg)
	assert.True(t, generic.IsConfiguration(err))
}

func TestService_UnavailableSourceFlagsDetails(t *testing.T) {
	ctx := context.Background()
	gw := store.NewMemory()
	res, err := kpi.NewService(downSource{}, gw, nil).ComputeEmployee(ctx, emp, march(), config())
	require.NoError(t, err)
	assert.Equal(t, []string{kpi.SourceWorkItems}, res.Defaulted)

	records, _ := gw.KpiRecords(ctx, "emp-1", march().ID)
	require.Len(t, records, 2)
	assert.Equal(t, []string{kpi.SourceWorkItems}, records[0].Details.Defaulted)
}

func TestMarkComputed(t *testing.T) {
	p := kpi.MarkComputed(march())
	assert.Equal(t, generic.PeriodComputed, p.State)

	p.State = generic.PeriodClosed
	assert.Equal(t, generic.PeriodClosed, kpi.MarkComputed(p).State)
}

// =============================================================================
// CONFIG AND SHEET
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, config().Validate())

	dup := config()
	dup.Labels = append(dup.Labels, kpi.Label{ID: "L3", GroupCode: "N1", TagID: "feature"})
	assert.True(t, generic.IsConfiguration(dup.Validate()))

	neg := config()
	neg.Groups[0].Weight = dec("-1")
	assert.Error(t, neg.Validate())

	orphan := config()
	orphan.Labels[0].GroupCode = "N9"
	assert.Error(t, orphan.Validate())
}

func TestSheet_ApplyDropsEmployeesNoLongerInRun(t *testing.T) {
	sheet := kpi.NewSheet("run-03", "2025-03")
	sheet.Apply([]*kpi.Result{
		{Employee: generic.Employee{ID: "a"}, Scorecard: kpi.Scorecard{Total: dec("10")}},
		{Employee: generic.Employee{ID: "b"}, Scorecard: kpi.Scorecard{Total: dec("20")}},
	})
	assert.Equal(t, kpi.SheetDone, sheet.State)
	assert.Len(t, sheet.Lines, 2)

	sheet.Apply([]*kpi.Result{{Employee: generic.Employee{ID: "b"}, Scorecard: kpi.Scorecard{Total: dec("25")}}})
	require.Len(t, sheet.Lines, 1)
	line, ok := sheet.Line("b")
	require.True(t, ok)
	assert.True(t, dec("25").Equal(line.Total))

	_, ok = sheet.Line("a")
	assert.False(t, ok)
}
