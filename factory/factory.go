package factory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/adjust"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/variables"
)

// =============================================================================
// FACTORY - Validated domain objects built from a Config
// =============================================================================

// Factory holds everything built from one configuration. Read-only after New.
type Factory struct {
	params      payroll.Params
	structures  map[string]payroll.Structure
	defaultCode string
	catalog     *variables.Catalog
	kpiConfig   kpi.Config
	adjustments adjust.Rules

	employees []generic.Employee
	periods   []generic.Period
	payslips  []PayslipYAML
	fixtures  FixturesYAML
	timesheet *variables.MemoryTimesheet
	workItems *kpi.MemoryWorkItems
}

// New validates cfg and builds the domain objects.
func New(cfg *Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{structures: make(map[string]payroll.Structure), fixtures: cfg.Fixtures}

	var err error
	if f.params, err = buildParams(cfg.Params); err != nil {
		return nil, err
	}
	if err := f.buildStructures(cfg.Structures); err != nil {
		return nil, err
	}
	if f.catalog, err = buildCatalog(cfg.Variables); err != nil {
		return nil, err
	}
	if f.kpiConfig, err = buildKpiConfig(cfg.KPI); err != nil {
		return nil, err
	}
	if f.adjustments, err = buildAdjustments(cfg.Adjustments); err != nil {
		return nil, err
	}
	if err := f.buildFixtures(cfg.Fixtures); err != nil {
		return nil, err
	}
	return f, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (f *Factory) Params() payroll.Params { return f.params }
func (f *Factory) Catalog() *variables.Catalog { return f.catalog }
func (f *Factory) KpiConfig() kpi.Config { return f.kpiConfig }
func (f *Factory) AdjustmentRules() adjust.Rules { return f.adjustments }
func (f *Factory) Employees() []generic.Employee { return f.employees }
func (f *Factory) Periods() []generic.Period { return f.periods }
func (f *Factory) WorkItems() *kpi.MemoryWorkItems { return f.workItems }

// Structure finds a structure by code; an empty code means the first
// configured structure.
func (f *Factory) Structure(code string) (payroll.Structure, bool) {
	if code == "" {
		code = f.defaultCode
	}
	s, ok := f.structures[code]
	return s, ok
}

// Structures returns every structure ordered by code.
func (f *Factory) Structures() []payroll.Structure {
	out := make([]payroll.Structure, 0, len(f.structures))
	for _, s := range f.structures {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (f *Factory) Employee(id generic.EmployeeID) (generic.Employee, bool) {
	for _, e := range f.employees {
		if e.ID == id {
			return e, true
		}
	}
	return generic.Employee{}, false
}

func (f *Factory) Period(id generic.PeriodID) (generic.Period, bool) {
	for _, p := range f.periods {
		if p.ID == id {
			return p, true
		}
	}
	return generic.Period{}, false
}

// Resolver resolves catalog variables from the fixture sources: the
// employee record, salary profiles, allowances and the timesheet. Inputs
// are layered on top.
func (f *Factory) Resolver() variables.Resolver {
	src := variables.NewSourceResolver(f.catalog).
		Register("employee", variables.EmployeeSource{}).
		Register("profile", variables.StaticSource(f.fixtures.Profiles)).
		Register("allowance", variables.StaticSource(f.fixtures.Allowances)).
		Register("timesheet", variables.TimesheetSource{Reader: f.timesheet})
	return variables.Chain{src, &variables.StaticResolver{Catalog: f.catalog, Values: f.fixtures.Inputs}}
}

// Runs lists the payroll run IDs of the fixtures.
func (f *Factory) Runs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ps := range f.payslips {
		if !seen[ps.Run] {
			seen[ps.Run] = true
			out = append(out, ps.Run)
		}
	}
	sort.Strings(out)
	return out
}

// PayrollRun assembles the payslips of one run. Payslips without a
// structure use the default one.
func (f *Factory) PayrollRun(runID string) (batch.PayrollRun, error) {
	run := batch.PayrollRun{ID: runID}
	for _, ps := range f.payslips {
		if ps.Run != runID {
			continue
		}
		slip, err := f.payslip(ps)
		if err != nil {
			return run, err
		}
		run.Period = slip.Period
		run.Payslips = append(run.Payslips, slip)
	}
	if len(run.Payslips) == 0 {
		return run, fmt.Errorf("%w: payroll run %s", generic.ErrNotFound, runID)
	}
	return run, nil
}

// Payslip looks up one configured payslip by ID.
func (f *Factory) Payslip(id generic.PayslipID) (payroll.Payslip, error) {
	for _, ps := range f.payslips {
		if generic.PayslipID(ps.ID) == id {
			return f.payslip(ps)
		}
	}
	return payroll.Payslip{}, fmt.Errorf("%w: payslip %s", generic.ErrNotFound, id)
}

func (f *Factory) payslip(ps PayslipYAML) (payroll.Payslip, error) {
	emp, _ := f.Employee(generic.EmployeeID(ps.Employee))
	period, _ := f.Period(generic.PeriodID(ps.Period))
	structure, ok := f.Structure(ps.Structure)
	if !ok {
		return payroll.Payslip{}, generic.NewConfigurationError("payslip "+ps.ID, "structure %q not configured", ps.Structure)
	}
	return payroll.Payslip{
		ID:        generic.PayslipID(ps.ID),
		Employee:  emp,
		Structure: structure,
		Period:    period,
	}, nil
}

// Cycle wires the configured engines over store. A zero Runner uses
// GOMAXPROCS workers.
func (f *Factory) Cycle(store generic.Gateway, runner *batch.Runner, log logrus.FieldLogger) *batch.Cycle {
	if runner == nil {
		runner = batch.NewRunner(0, log, nil)
	}
	resolver := f.Resolver()
	return &batch.Cycle{
		Runner:    runner,
		KPI:       kpi.NewService(f.workItems, store, log),
		KpiConfig: f.kpiConfig,
		Adjust:    adjust.NewEngine(f.adjustments, resolver, store, log),
		Payroll:   payroll.NewService(payroll.NewEngine(log), resolver, store, log),
		Params:    f.params,
		Log:       log,
	}
}

// =============================================================================
// BUILDERS
// =============================================================================

func buildParams(py *ParamsYAML) (payroll.Params, error) {
	p := payroll.DefaultParams()
	if py == nil {
		return p, nil
	}
	if py.PersonalDeduction != nil {
		p.PersonalDeduction = *py.PersonalDeduction
	}
	if py.DependentDeduction != nil {
		p.DependentDeduction = *py.DependentDeduction
	}
	if py.UnionFeeRate != nil {
		p.UnionFeeRate = *py.UnionFeeRate
	}
	for name, rate := range py.Insurance {
		emp, cmp := &p.BHXHRateEmployee, &p.BHXHRateCompany
		switch name {
		case "bhxh":
		case "bhyt":
			emp, cmp = &p.BHYTRateEmployee, &p.BHYTRateCompany
		case "bhtn":
			emp, cmp = &p.BHTNRateEmployee, &p.BHTNRateCompany
		default:
			return p, generic.NewConfigurationError("params", "unknown insurance %q", name)
		}
		if rate.Employee != nil {
			*emp = *rate.Employee
		}
		if rate.Company != nil {
			*cmp = *rate.Company
		}
	}
	if py.PIT != nil && len(py.PIT.Brackets) > 0 {
		table := formula.BracketTable{TopRate: py.PIT.TopRate}
		for _, b := range py.PIT.Brackets {
			table.Brackets = append(table.Brackets, formula.Bracket{Cap: b.Cap, Rate: b.Rate})
		}
		p.PIT = table
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (f *Factory) buildStructures(in []StructureYAML) error {
	if len(in) == 0 {
		s := payroll.DefaultStructure()
		f.structures[s.Code] = s
		f.defaultCode = s.Code
		return nil
	}
	for i, sy := range in {
		s := payroll.Structure{Code: sy.Code, Name: sy.Name}
		for _, ry := range sy.Rules {
			rule, err := parseRule(ry)
			if err != nil {
				return fmt.Errorf("structure %s: %w", sy.Code, err)
			}
			s.Rules = append(s.Rules, rule)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		f.structures[s.Code] = s
		if i == 0 {
			f.defaultCode = s.Code
		}
	}
	return nil
}

func parseRule(ry RuleYAML) (payroll.Rule, error) {
	rule := payroll.Rule{
		ID:        ry.ID,
		Code:      ry.Code,
		Name:      ry.Name,
		Sequence:  ry.Sequence,
		Category:  generic.Category(ry.Category),
		Condition: payroll.Always{},
		Active:    enabled(ry.Active),
		Note:      ry.Note,
	}
	if rule.Name == "" {
		rule.Name = rule.Code
	}
	if ry.Condition != "" {
		rule.Condition = payroll.WhenExpr{Expr: ry.Condition}
	}

	amount, err := parseAmount(ry.Code, ry.Amount)
	if err != nil {
		return rule, err
	}
	rule.Amount = amount
	return rule, nil
}

func parseAmount(code string, a AmountYAML) (payroll.Amount, error) {
	set := 0
	var amount payroll.Amount
	if a.Fixed != nil {
		set++
		amount = payroll.Fixed{Value: *a.Fixed}
	}
	if a.Percent != nil {
		set++
		amount = payroll.PercentOf{Percent: *a.Percent, BaseCode: a.Base}
	}
	if a.Formula != "" {
		set++
		amount = payroll.Formula{Expr: a.Formula}
	}
	if set != 1 {
		return nil, generic.NewConfigurationError("rule "+code, "amount needs exactly one of fixed, percent or formula")
	}
	return amount, nil
}

func buildCatalog(in []VariableYAML) (*variables.Catalog, error) {
	if len(in) == 0 {
		return variables.DefaultCatalog(), nil
	}
	defs := make([]variables.Definition, 0, len(in))
	for _, vy := range in {
		defs = append(defs, variables.Definition{
			Key:         vy.Key,
			Name:        vy.Name,
			Category:    variables.Category(vy.Category),
			Kind:        variables.Kind(vy.Kind),
			Type:        variables.Type(vy.Type),
			SystemKey:   vy.SystemKey,
			Definition:  vy.Definition,
			Description: vy.Description,
			Active:      enabled(vy.Active),
		})
	}
	c, err := variables.NewCatalog(defs...)
	if err != nil {
		return nil, generic.NewConfigurationError("variables", "%v", err)
	}
	return c, nil
}

func buildKpiConfig(ky KpiYAML) (kpi.Config, error) {
	profile := kpi.DefaultQualityProfile()
	if ky.Profile != nil {
		profile = kpi.QualityProfile{Name: ky.Profile.Name, OnTime: ky.Profile.OnTime, Late: ky.Profile.Late, Overdue: ky.Profile.Overdue}
	}
	cfg := kpi.Config{Profile: &profile, OverdueThresholdDays: ky.OverdueThresholdDays}
	for _, g := range ky.Groups {
		name := g.Name
		if name == "" {
			name = g.Code
		}
		cfg.Groups = append(cfg.Groups, kpi.Group{Code: g.Code, Name: name, Weight: g.Weight, Sequence: g.Sequence, Active: enabled(g.Active)})
	}
	for _, l := range ky.Labels {
		cfg.Labels = append(cfg.Labels, kpi.Label{ID: l.ID, Name: l.Name, GroupCode: l.Group, TagID: l.Tag, Weight: l.Weight, Active: enabled(l.Active)})
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildAdjustments(in []AdjustmentYAML) (adjust.Rules, error) {
	rules := make(adjust.Rules, 0, len(in))
	for _, ay := range in {
		rules = append(rules, adjust.Rule{
			Code:                ay.Code,
			Name:                ay.Name,
			Sequence:            ay.Sequence,
			Kind:                generic.AdjustmentKind(ay.Kind),
			PointsPerOccurrence: ay.Points,
			Source:              generic.AdjustmentSource(ay.Source),
			VariableKey:         ay.Variable,
			Description:         ay.Description,
			Active:              enabled(ay.Active),
		})
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (f *Factory) buildFixtures(fx FixturesYAML) error {
	for _, e := range fx.Employees {
		f.employees = append(f.employees, generic.Employee{
			ID:           generic.EmployeeID(e.ID),
			Code:         e.Code,
			Name:         e.Name,
			AccountID:    e.Account,
			DepartmentID: e.Department,
			JobTitle:     e.JobTitle,
		})
	}
	for _, py := range fx.Periods {
		p := generic.NewPeriod(generic.PeriodID(py.ID), py.Name, py.Start, py.End)
		p.State, _ = parsePeriodState(py.State)
		if err := p.Validate(); err != nil {
			return err
		}
		f.periods = append(f.periods, p)
	}
	f.payslips = fx.Payslips

	f.timesheet = variables.NewMemoryTimesheet()
	for _, row := range fx.Timesheet {
		f.timesheet.Add(variables.TimesheetRow{
			EmployeeID:         generic.EmployeeID(row.Employee),
			Date:               row.Date,
			ShiftPoint:         row.Points,
			StandardShiftPoint: row.Standard,
			UnpaidLeaveDay:     row.Unpaid,
			SumLate:            row.Late,
		})
	}

	f.workItems = kpi.NewMemoryWorkItems()
	for _, w := range fx.WorkItems {
		f.workItems.Add(kpi.WorkItem{ID: w.ID, Assignee: w.Assignee, Done: w.Done, DoneAt: w.DoneAt, Deadline: w.Deadline, TagIDs: w.Tags})
	}
	return nil
}

func parsePeriodState(s string) (generic.PeriodState, error) {
	switch generic.PeriodState(s) {
	case "", generic.PeriodDraft:
		return generic.PeriodDraft, nil
	case generic.PeriodComputed, generic.PeriodClosed:
		return generic.PeriodState(s), nil
	}
	return "", generic.NewConfigurationError("period", "unknown state %q", s)
}
