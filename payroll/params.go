package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// PARAMS - Statutory parameters, loaded once per run and passed down
// =============================================================================

// Params holds the deduction amounts and contribution rates the standard
// formulas read through the params binding. Rates are percentages
// (8 means 8%).
type Params struct {
	PersonalDeduction  decimal.Decimal
	DependentDeduction decimal.Decimal
	UnionFeeRate       decimal.Decimal

	BHXHRateEmployee decimal.Decimal
	BHXHRateCompany  decimal.Decimal
	BHYTRateEmployee decimal.Decimal
	BHYTRateCompany  decimal.Decimal
	BHTNRateEmployee decimal.Decimal
	BHTNRateCompany  decimal.Decimal

	// PIT is the progressive income tax table behind pit(x).
	PIT formula.BracketTable
}

// DefaultParams returns the Vietnamese statutory defaults.
func DefaultParams() Params {
	d := decimal.RequireFromString
	return Params{
		PersonalDeduction:  d("11000000"),
		DependentDeduction: d("4400000"),
		UnionFeeRate:       d("1"),
		BHXHRateEmployee:   d("8"),
		BHXHRateCompany:    d("17.5"),
		BHYTRateEmployee:   d("1.5"),
		BHYTRateCompany:    d("3"),
		BHTNRateEmployee:   d("1"),
		BHTNRateCompany:    d("1"),
		PIT: formula.BracketTable{
			Brackets: []formula.Bracket{
				{Cap: d("5000000"), Rate: d("0.05")},
				{Cap: d("10000000"), Rate: d("0.10")},
				{Cap: d("18000000"), Rate: d("0.15")},
				{Cap: d("32000000"), Rate: d("0.20")},
				{Cap: d("52000000"), Rate: d("0.25")},
				{Cap: d("80000000"), Rate: d("0.30")},
			},
			TopRate: d("0.35"),
		},
	}
}

// Validate rejects negative amounts and malformed brackets.
func (p Params) Validate() error {
	for key, v := range p.values() {
		if v.IsNegative() {
			return generic.NewConfigurationError("params", "%s must not be negative", key)
		}
	}
	if err := p.PIT.Validate(); err != nil {
		return generic.NewConfigurationError("params", "pit brackets: %v", err)
	}
	return nil
}

// EmployeeInsuranceRate is the summed employee contribution percentage.
func (p Params) EmployeeInsuranceRate() decimal.Decimal {
	return p.BHXHRateEmployee.Add(p.BHYTRateEmployee).Add(p.BHTNRateEmployee)
}

// CompanyInsuranceRate is the summed company contribution percentage.
func (p Params) CompanyInsuranceRate() decimal.Decimal {
	return p.BHXHRateCompany.Add(p.BHYTRateCompany).Add(p.BHTNRateCompany)
}

func (p Params) values() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"personal_deduction":  p.PersonalDeduction,
		"dependent_deduction": p.DependentDeduction,
		"union_fee_rate":      p.UnionFeeRate,
		"bhxh_rate_emp":       p.BHXHRateEmployee,
		"bhxh_rate_cmp":       p.BHXHRateCompany,
		"bhyt_rate_emp":       p.BHYTRateEmployee,
		"bhyt_rate_cmp":       p.BHYTRateCompany,
		"bhtn_rate_emp":       p.BHTNRateEmployee,
		"bhtn_rate_cmp":       p.BHTNRateCompany,
	}
}

// Record exposes the parameters to formulas, plus the two summed
// insurance rates as ins_rate_emp and ins_rate_cmp.
func (p Params) Record() formula.Record {
	rec := make(formula.Record, 11)
	for k, v := range p.values() {
		rec[k] = formula.Number(v)
	}
	rec["ins_rate_emp"] = formula.Number(p.EmployeeInsuranceRate())
	rec["ins_rate_cmp"] = formula.Number(p.CompanyInsuranceRate())
	return rec
}
