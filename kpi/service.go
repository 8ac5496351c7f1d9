package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// SERVICE - Aggregate, score and persist for one employee
// =============================================================================

// Result is one employee's KPI computation.
type Result struct {
	Employee  generic.Employee
	Scorecard Scorecard
	Records   []generic.KpiRecord
	Defaulted []string
}

// Service computes and persists KPI records.
type Service struct {
	Source WorkItemSource
	Store  generic.KpiRecordStore
	Log    logrus.FieldLogger
	Now    func() time.Time
}

func NewService(source WorkItemSource, store generic.KpiRecordStore, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{Source: source, Store: store, Log: log, Now: time.Now}
}

// CheckPeriod refuses periods that cannot be (re)computed.
func CheckPeriod(period generic.Period) error {
	if err := period.Validate(); err != nil {
		return err
	}
	if period.IsClosed() {
		return fmt.Errorf("%w: %s", generic.ErrPeriodClosed, period.ID)
	}
	return nil
}

// ComputeEmployee scores emp over period and upserts one record per active
// group. Re-running overwrites the same records.
//
// A missing quality profile is a ConfigurationError. An unavailable work
// item source degrades to zero counters; the records are still written and
// their details list the defaulted input.
func (s *Service) ComputeEmployee(ctx context.Context, emp generic.Employee, period generic.Period, cfg Config) (*Result, error) {
	if err := CheckPeriod(period); err != nil {
		return nil, err
	}
	if cfg.Profile == nil {
		return nil, generic.NewConfigurationError("quality profile", "no quality profile configured")
	}
	log := s.Log.WithFields(logrus.Fields{"employee": emp.ID, "period": period.ID})

	agg := &Aggregator{Source: s.Source, ThresholdDays: cfg.OverdueThresholdDays}
	counts, err := agg.Aggregate(ctx, emp, period, cfg.ActiveLabels())
	res := &Result{Employee: emp}
	if err != nil {
		if !generic.IsDataUnavailable(err) {
			return nil, err
		}
		res.Defaulted = generic.DefaultedInputs(err)
		log.WithError(err).Warn("work items unavailable, counters defaulted to zero")
	}

	res.Scorecard = Score(counts, *cfg.Profile, cfg.ActiveGroups())

	now := s.now()
	for _, gs := range res.Scorecard.Groups {
		details := gs.Details()
		details.Defaulted = res.Defaulted
		rec, err := s.Store.UpsertKpiRecord(ctx, generic.KpiRecord{
			EmployeeID: emp.ID,
			PeriodID:   period.ID,
			GroupCode:  gs.Group.Code,
			Score:      gs.Score,
			Details:    details,
			UpdatedAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert kpi record %s/%s/%s: %w", emp.ID, period.ID, gs.Group.Code, err)
		}
		res.Records = append(res.Records, rec)
	}

	log.WithField("total", res.Scorecard.Total.StringFixed(4)).Debug("kpi computed")
	return res, nil
}

// Total sums the stored group scores of an employee for a period.
func (s *Service) Total(ctx context.Context, employeeID generic.EmployeeID, periodID generic.PeriodID) (decimal.Decimal, []generic.KpiRecord, error) {
	records, err := s.Store.KpiRecords(ctx, employeeID, periodID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return SumScores(records), records, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// MarkComputed moves a draft period to computed. Other states are kept.
func MarkComputed(p generic.Period) generic.Period {
	if p.State == generic.PeriodDraft || p.State == "" {
		p.State = generic.PeriodComputed
	}
	return p
}
