/*
Package factory provides YAML to Go configuration conversion.

PURPOSE:
  Converts a YAML configuration file into the objects the engines run on:
  payroll parameters, salary structures, the variable catalog, the KPI
  configuration and adjustment rules. Optional fixture sections (employees,
  periods, payslips, salary profiles, timesheet rows, work items) let the
  CLI and the HTTP server run end to end without external systems.

WHY YAML?
  - Payroll officers can edit rules and weights without code changes
  - Formulas read naturally as block scalars
  - Version control for rule sets

YAML SCHEMA (abridged):
  params:
    personal_deduction: 11000000
    union_fee_rate: 1
    insurance:
      bhxh: {employee: 8, company: 17.5}
    pit:
      brackets: [{cap: 5000000, rate: 0.05}]
      top_rate: 0.35
  structures:
    - code: VN_STD
      rules:
        - {id: 1, code: BASIC, sequence: 1, category: earning,
           amount: {formula: 'V.base_wage'}}
  kpi:
    profile: {name: Default, ontime: 1, late: 0.5, overdue: 0.2}
    groups: [{code: N1, weight: 40}]
    labels: [{id: L1, group: N1, tag: feature}]
  adjustments:
    - {code: LATE, kind: subtract, points: 0.5, source: automatic, variable: sum_late}

DEFAULTS:
  - No params section: payroll.DefaultParams()
  - No structures: payroll.DefaultStructure()
  - No variables: variables.DefaultDefinitions()
  - No kpi profile: kpi.DefaultQualityProfile()
  - Omitted "active" flags mean active

USAGE:
  f, err := factory.Load("payroll.yaml")
  structure, ok := f.Structure("VN_STD")
  run, err := f.PayrollRun("2025-03")

SEE ALSO:
  - factory.go: Builds domain objects from Config
  - sample.go: Annotated sample configuration
*/
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Config models the configuration file.
type Config struct {
	Params      *ParamsYAML      `yaml:"params"`
	Structures  []StructureYAML  `yaml:"structures"`
	Variables   []VariableYAML   `yaml:"variables"`
	KPI         KpiYAML          `yaml:"kpi"`
	Adjustments []AdjustmentYAML `yaml:"adjustments"`
	Fixtures    FixturesYAML     `yaml:"fixtures"`
}

// ParamsYAML overrides payroll parameters. Nil fields keep the defaults.
type ParamsYAML struct {
	PersonalDeduction  *decimal.Decimal         `yaml:"personal_deduction"`
	DependentDeduction *decimal.Decimal         `yaml:"dependent_deduction"`
	UnionFeeRate       *decimal.Decimal         `yaml:"union_fee_rate"`
	Insurance          map[string]InsuranceRate `yaml:"insurance"` // bhxh, bhyt, bhtn
	PIT                *BracketsYAML            `yaml:"pit"`
}

// InsuranceRate is an employee/company percent pair.
type InsuranceRate struct {
	Employee *decimal.Decimal `yaml:"employee"`
	Company  *decimal.Decimal `yaml:"company"`
}

type BracketsYAML struct {
	Brackets []struct {
		Cap  decimal.Decimal `yaml:"cap"`
		Rate decimal.Decimal `yaml:"rate"`
	} `yaml:"brackets"`
	TopRate decimal.Decimal `yaml:"top_rate"`
}

type StructureYAML struct {
	Code  string     `yaml:"code"`
	Name  string     `yaml:"name"`
	Rules []RuleYAML `yaml:"rules"`
}

// RuleYAML is one salary rule. An empty condition means always.
type RuleYAML struct {
	ID        int64      `yaml:"id"`
	Code      string     `yaml:"code"`
	Name      string     `yaml:"name"`
	Sequence  int        `yaml:"sequence"`
	Category  string     `yaml:"category"`
	Condition string     `yaml:"condition,omitempty"`
	Amount    AmountYAML `yaml:"amount"`
	Active    *bool      `yaml:"active,omitempty"`
	Note      string     `yaml:"note,omitempty"`
}

// AmountYAML holds exactly one of fixed, percent (with base) or formula.
type AmountYAML struct {
	Fixed   *decimal.Decimal `yaml:"fixed,omitempty"`
	Percent *decimal.Decimal `yaml:"percent,omitempty"`
	Base    string           `yaml:"base,omitempty"`
	Formula string           `yaml:"formula,omitempty"`
}

type VariableYAML struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Kind        string `yaml:"kind"`
	Type        string `yaml:"type"`
	SystemKey   string `yaml:"system_key"`
	Definition  string `yaml:"definition"`
	Description string `yaml:"description"`
	Active      *bool  `yaml:"active,omitempty"`
}

type KpiYAML struct {
	OverdueThresholdDays *int           `yaml:"overdue_threshold_days"`
	Profile              *ProfileYAML   `yaml:"profile"`
	Groups               []KpiGroupYAML `yaml:"groups"`
	Labels               []KpiLabelYAML `yaml:"labels"`
}

type ProfileYAML struct {
	Name    string          `yaml:"name"`
	OnTime  decimal.Decimal `yaml:"ontime"`
	Late    decimal.Decimal `yaml:"late"`
	Overdue decimal.Decimal `yaml:"overdue"`
}

type KpiGroupYAML struct {
	Code     string          `yaml:"code"`
	Name     string          `yaml:"name"`
	Weight   decimal.Decimal `yaml:"weight"`
	Sequence int             `yaml:"sequence"`
	Active   *bool           `yaml:"active,omitempty"`
}

type KpiLabelYAML struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name"`
	Group  string          `yaml:"group"`
	Tag    string          `yaml:"tag"`
	Weight decimal.Decimal `yaml:"weight"`
	Active *bool           `yaml:"active,omitempty"`
}

type AdjustmentYAML struct {
	Code        string          `yaml:"code"`
	Name        string          `yaml:"name"`
	Sequence    int             `yaml:"sequence"`
	Kind        string          `yaml:"kind"`
	Points      decimal.Decimal `yaml:"points"`
	Source      string          `yaml:"source"`
	Variable    string          `yaml:"variable"`
	Description string          `yaml:"description"`
	Active      *bool           `yaml:"active,omitempty"`
}

// =============================================================================
// FIXTURES
// =============================================================================

type FixturesYAML struct {
	Employees  []EmployeeYAML                        `yaml:"employees"`
	Periods    []PeriodYAML                          `yaml:"periods"`
	Payslips   []PayslipYAML                         `yaml:"payslips"`
	Profiles   map[generic.EmployeeID]map[string]any `yaml:"profiles"`
	Allowances map[generic.EmployeeID]map[string]any `yaml:"allowances"`
	Inputs     map[generic.EmployeeID]map[string]any `yaml:"inputs"`
	Timesheet  []TimesheetYAML                       `yaml:"timesheet"`
	WorkItems  []WorkItemYAML                        `yaml:"work_items"`
}

type EmployeeYAML struct {
	ID         string `yaml:"id"`
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Account    string `yaml:"account"`
	Department string `yaml:"department"`
	JobTitle   string `yaml:"job_title"`
}

type PeriodYAML struct {
	ID    string    `yaml:"id"`
	Name  string    `yaml:"name"`
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
	State string    `yaml:"state"`
}

// PayslipYAML places one employee in a payroll run over a period.
type PayslipYAML struct {
	ID        string `yaml:"id"`
	Run       string `yaml:"run"`
	Employee  string `yaml:"employee"`
	Structure string `yaml:"structure"`
	Period    string `yaml:"period"`
}

type TimesheetYAML struct {
	Employee string          `yaml:"employee"`
	Date     time.Time       `yaml:"date"`
	Points   decimal.Decimal `yaml:"points"`
	Standard decimal.Decimal `yaml:"standard"`
	Unpaid   decimal.Decimal `yaml:"unpaid"`
	Late     int64           `yaml:"late"`
}

type WorkItemYAML struct {
	ID       string     `yaml:"id"`
	Assignee string     `yaml:"assignee"`
	Done     bool       `yaml:"done"`
	DoneAt   *time.Time `yaml:"done_at"`
	Deadline *time.Time `yaml:"deadline"`
	Tags     []string   `yaml:"tags"`
}

// =============================================================================
// LOADING
// =============================================================================

// FromYAML parses raw YAML bytes. The result is not validated; New does that.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load reads, validates and builds the configuration at path. An empty
// path builds the sample configuration.
func Load(path string) (*Factory, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = FromYAML([]byte(SampleYAML))
	} else {
		cfg, err = FromFile(path)
	}
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Validate checks cross references between sections. Per-object checks
// run when New builds the domain objects.
func (c *Config) Validate() error {
	employees := make(map[string]bool, len(c.Fixtures.Employees))
	for _, e := range c.Fixtures.Employees {
		if e.ID == "" {
			return generic.NewConfigurationError("employee "+e.Name, "id is required")
		}
		if employees[e.ID] {
			return generic.NewConfigurationError("employee "+e.ID, "duplicate id")
		}
		employees[e.ID] = true
	}

	periods := make(map[string]bool, len(c.Fixtures.Periods))
	for _, p := range c.Fixtures.Periods {
		if p.ID == "" {
			return generic.NewConfigurationError("period "+p.Name, "id is required")
		}
		if periods[p.ID] {
			return generic.NewConfigurationError("period "+p.ID, "duplicate id")
		}
		if _, err := parsePeriodState(p.State); err != nil {
			return err
		}
		periods[p.ID] = true
	}

	structures := make(map[string]bool, len(c.Structures))
	for _, s := range c.Structures {
		if structures[s.Code] {
			return generic.NewConfigurationError("structure "+s.Code, "duplicate code")
		}
		structures[s.Code] = true
	}

	type slipKey struct{ run, employee string }
	seenSlip := make(map[string]bool, len(c.Fixtures.Payslips))
	seenRunEmp := make(map[slipKey]bool, len(c.Fixtures.Payslips))
	runPeriod := make(map[string]string)
	for _, ps := range c.Fixtures.Payslips {
		subject := "payslip " + ps.ID
		switch {
		case ps.ID == "":
			return generic.NewConfigurationError("payslip", "id is required")
		case seenSlip[ps.ID]:
			return generic.NewConfigurationError(subject, "duplicate id")
		case !employees[ps.Employee]:
			return generic.NewConfigurationError(subject, "unknown employee %q", ps.Employee)
		case !periods[ps.Period]:
			return generic.NewConfigurationError(subject, "unknown period %q", ps.Period)
		case ps.Structure != "" && len(c.Structures) > 0 && !structures[ps.Structure]:
			return generic.NewConfigurationError(subject, "unknown structure %q", ps.Structure)
		}
		key := slipKey{ps.Run, ps.Employee}
		if seenRunEmp[key] {
			return generic.NewConfigurationError(subject, "employee %s already has a payslip in run %s", ps.Employee, ps.Run)
		}
		if prev, ok := runPeriod[ps.Run]; ok && prev != ps.Period {
			return generic.NewConfigurationError("run "+ps.Run, "payslips span periods %s and %s", prev, ps.Period)
		}
		seenSlip[ps.ID] = true
		seenRunEmp[key] = true
		runPeriod[ps.Run] = ps.Period
	}

	for _, row := range c.Fixtures.Timesheet {
		if !employees[row.Employee] {
			return generic.NewConfigurationError("timesheet row", "unknown employee %q", row.Employee)
		}
	}
	return nil
}

// enabled reads an optional active flag; omitted means active.
func enabled(b *bool) bool {
	return b == nil || *b
}
