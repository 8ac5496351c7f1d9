package kpi

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// GroupScore is one group's share of the scorecard.
type GroupScore struct {
	Group       Group
	Numerator   decimal.Decimal
	Denominator decimal.Decimal
	Ratio       decimal.Decimal
	Score       decimal.Decimal
	Labels      []generic.KpiLabelBreakdown
}

// Details converts the group score into the persisted audit payload.
func (g GroupScore) Details() generic.KpiDetails {
	return generic.KpiDetails{
		Code:        g.Group.Code,
		Name:        g.Group.Name,
		Weight:      g.Group.Weight,
		Numerator:   g.Numerator,
		Denominator: g.Denominator,
		Ratio:       g.Ratio,
		Labels:      g.Labels,
	}
}

// Scorecard is the scored result for one employee and period.
type Scorecard struct {
	Total  decimal.Decimal
	Groups []GroupScore
}

// EffectiveGood is on×c_on + late×c_late + overdue×c_overdue.
func EffectiveGood(c LabelCounts, p QualityProfile) decimal.Decimal {
	return decimal.NewFromInt(int64(c.OnTime)).Mul(p.OnTime).
		Add(decimal.NewFromInt(int64(c.Late)).Mul(p.Late)).
		Add(decimal.NewFromInt(int64(c.Overdue)).Mul(p.Overdue))
}

// Score rolls label counts into groups.
//
// Per group: numerator = Σ E_G×w, denominator = Σ assigned×w, ratio =
// numerator/denominator (0 when the denominator is 0) and score = ratio ×
// group weight. The total is the sum of group scores. Labels of groups
// not listed are dropped; every listed group gets a GroupScore even with
// no labels.
func Score(counts []LabelCounts, profile QualityProfile, groups []Group) Scorecard {
	index := make(map[string]int, len(groups))
	card := Scorecard{Total: decimal.Zero, Groups: make([]GroupScore, len(groups))}
	for i, g := range groups {
		index[g.Code] = i
		card.Groups[i] = GroupScore{Group: g, Numerator: decimal.Zero, Denominator: decimal.Zero}
	}

	for _, c := range counts {
		i, ok := index[c.Label.GroupCode]
		if !ok {
			continue
		}
		eg := EffectiveGood(c, profile)
		gs := &card.Groups[i]
		gs.Numerator = gs.Numerator.Add(eg.Mul(c.Weight))
		gs.Denominator = gs.Denominator.Add(decimal.NewFromInt(int64(c.Assigned)).Mul(c.Weight))
		gs.Labels = append(gs.Labels, generic.KpiLabelBreakdown{
			LabelID:       c.Label.ID,
			Name:          c.Label.Name,
			Weight:        c.Weight,
			Assigned:      c.Assigned,
			OnTime:        c.OnTime,
			Late:          c.Late,
			Overdue:       c.Overdue,
			EffectiveGood: eg,
			Percent:       percent(eg, c.Assigned),
		})
	}

	for i := range card.Groups {
		gs := &card.Groups[i]
		gs.Ratio = decimal.Zero
		if !gs.Denominator.IsZero() {
			gs.Ratio = gs.Numerator.Div(gs.Denominator)
		}
		gs.Score = gs.Ratio.Mul(gs.Group.Weight)
		distribute(gs)
		card.Total = card.Total.Add(gs.Score)
	}
	return card
}

func percent(eg decimal.Decimal, assigned int) decimal.Decimal {
	if assigned == 0 {
		return decimal.Zero
	}
	return eg.Div(decimal.NewFromInt(int64(assigned))).Mul(hundred)
}

// distribute splits the group score across its labels for display. Each
// label's share is w×assigned over the group's Σ w×assigned; with nothing
// assigned it falls back to the weight proportion, then an equal share.
func distribute(gs *GroupScore) {
	n := len(gs.Labels)
	if n == 0 {
		return
	}
	totalWeight := decimal.Zero
	for _, l := range gs.Labels {
		totalWeight = totalWeight.Add(l.Weight)
	}
	for i := range gs.Labels {
		l := &gs.Labels[i]
		var share decimal.Decimal
		switch {
		case gs.Denominator.IsPositive():
			share = l.Weight.Mul(decimal.NewFromInt(int64(l.Assigned))).Div(gs.Denominator)
		case totalWeight.IsPositive():
			share = l.Weight.Div(totalWeight)
		default:
			share = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
		}
		l.Contribution = share.Mul(gs.Ratio).Mul(gs.Group.Weight)
	}
}
