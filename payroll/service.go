package payroll

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/variables"
)

// =============================================================================
// SERVICE - Resolve, evaluate and persist one payslip
// =============================================================================

// Store is the part of the gateway the payroll service writes to.
type Store interface {
	generic.LineStore
	generic.KpiRecordStore
}

// Payslip identifies one computation target.
type Payslip struct {
	ID        generic.PayslipID
	Employee  generic.Employee
	Structure Structure
	Period    generic.Period

	// KpiPeriodID, when set, feeds that period's KPI records into the
	// variable map (KPI_TOTAL, KPI_<GROUP>).
	KpiPeriodID generic.PeriodID
}

// Service computes payslips.
type Service struct {
	Engine   *Engine
	Resolver variables.Resolver
	Store    Store
	Log      logrus.FieldLogger
}

func NewService(engine *Engine, resolver variables.Resolver, store Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{Engine: engine, Resolver: resolver, Store: store, Log: log}
}

// Compute resolves the employee's variables over the payslip period,
// evaluates the structure and replaces the payslip's lines.
//
// Unavailable variable sources degrade to empty values; the defaulted
// inputs are listed in Result.Defaulted. Configuration errors abort this
// payslip only and leave its previous lines untouched.
func (s *Service) Compute(ctx context.Context, slip Payslip, params Params) (*Result, error) {
	if err := slip.Period.Validate(); err != nil {
		return nil, err
	}
	log := s.Log.WithFields(logrus.Fields{"employee": slip.Employee.ID, "payslip": slip.ID})

	vars, defaulted, err := s.resolve(ctx, slip)
	if err != nil {
		return nil, err
	}
	for _, key := range defaulted {
		log.WithField("input", key).Warn("input defaulted, source unavailable")
	}

	res, err := s.Engine.Evaluate(Input{
		Structure: slip.Structure,
		Vars:      vars,
		Employee:  slip.Employee,
		Period:    slip.Period,
		Params:    params,
	})
	if err != nil {
		return nil, err
	}
	res.Defaulted = defaulted

	for i := range res.Lines {
		res.Lines[i].PayslipID = slip.ID
	}
	if err := s.Store.ReplaceLines(ctx, slip.ID, res.Lines); err != nil {
		return nil, fmt.Errorf("replace lines of %s: %w", slip.ID, err)
	}

	log.WithFields(logrus.Fields{
		"lines":    len(res.Lines),
		"failures": len(res.Failures),
	}).Debug("payslip computed")
	return res, nil
}

func (s *Service) resolve(ctx context.Context, slip Payslip) (variables.Map, []string, error) {
	vars, err := s.Resolver.Resolve(ctx, slip.Employee, slip.Period.Start, slip.Period.End, nil)
	var defaulted []string
	if err != nil {
		if !generic.IsDataUnavailable(err) {
			return nil, nil, fmt.Errorf("resolve variables: %w", err)
		}
		defaulted = generic.DefaultedInputs(err)
	}
	if vars == nil {
		vars = variables.Map{}
	}

	if slip.KpiPeriodID != "" {
		records, err := s.Store.KpiRecords(ctx, slip.Employee.ID, slip.KpiPeriodID)
		if err != nil {
			return nil, nil, fmt.Errorf("load kpi records: %w", err)
		}
		vars.Merge(variables.KpiVariables(records))
	}
	return vars, defaulted, nil
}
