package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// DefaultStructureCode identifies the standard Vietnamese structure.
const DefaultStructureCode = "VN_STD"

// NetCode is the code of the net pay line.
const NetCode = "NET"

// Standard formulas. Insurance and union rates are percentages read from
// params; pit applies the parameter brackets.
const (
	exprBasicBase = `number(v("base_wage", 0))`
	exprSIBase    = `coalesce(v("si_wage"), get_code("BASIC_BASE"))`
	exprWorkDay   = `number(v("work_day", v("work_day_from_sheet", 0)))`
	exprPoints    = `number(v("points", v("points_from_sheet", 0)))`
	exprBasic     = `if(get_code("WORK_DAY") != 0, get_code("BASIC_BASE") * get_code("POINTS") / get_code("WORK_DAY"), 0)`
	exprInsEmp    = `-round(get_code("SI_BASE") * params.ins_rate_emp / 100, 2)`
	exprInsCmp    = `round(get_code("SI_BASE") * params.ins_rate_cmp / 100, 2)`
	exprUnion     = `-round((get_code("BASIC") + get_code("ALLOW")) * params.union_fee_rate / 100, 2)`
	exprPIT       = `-round(pit(get_code("BASIC") + get_code("ALLOW") + get_code("INS_EMP") - params.personal_deduction - int(v("dependent_count", 0)) * params.dependent_deduction), 2)`
	exprNet       = `round(get_code("BASIC") + get_code("ALLOW") + get_code("INS_EMP") + get_code("UNION") + get_code("PIT"), 2)`
)

// DefaultRules returns the standard rule set, ids 1..11 in sequence order.
//
//	BASIC_BASE  1   base wage
//	SI_BASE     2   insurance wage, falls back to BASIC_BASE
//	WORK_DAY    3   standard days
//	POINTS      4   worked days
//	BASIC      10   BASIC_BASE × POINTS / WORK_DAY
//	ALLOW      20   allowances
//	INS_EMP    30   employee BHXH + BHYT + BHTN
//	INS_CMP    40   company contributions
//	UNION      50   union fee on gross
//	PIT        60   progressive income tax
//	NET        80   take-home pay
func DefaultRules() []Rule {
	rule := func(id int64, code, name string, seq int, cat generic.Category, amount Amount) Rule {
		return Rule{
			ID:        id,
			Code:      code,
			Name:      name,
			Sequence:  seq,
			Category:  cat,
			Condition: Always{},
			Amount:    amount,
			Active:    true,
		}
	}
	earn, ded, contrib := generic.CategoryEarning, generic.CategoryDeduction, generic.CategoryContribution
	return []Rule{
		rule(1, "BASIC_BASE", "Base wage", 1, earn, Formula{Expr: exprBasicBase}),
		rule(2, "SI_BASE", "Social insurance wage", 2, earn, Formula{Expr: exprSIBase}),
		rule(3, "WORK_DAY", "Standard work days", 3, earn, Formula{Expr: exprWorkDay}),
		rule(4, "POINTS", "Worked days", 4, earn, Formula{Expr: exprPoints}),
		rule(5, "BASIC", "Wage for worked days", 10, earn, Formula{Expr: exprBasic}),
		rule(6, "ALLOW", "Allowances", 20, earn, Fixed{Value: decimal.Zero}),
		rule(7, "INS_EMP", "Insurance (employee)", 30, ded, Formula{Expr: exprInsEmp}),
		rule(8, "INS_CMP", "Insurance (company)", 40, contrib, Formula{Expr: exprInsCmp}),
		rule(9, "UNION", "Union fee", 50, ded, Formula{Expr: exprUnion}),
		rule(10, "PIT", "Personal income tax", 60, ded, Formula{Expr: exprPIT}),
		rule(11, NetCode, "Net pay", 80, earn, Formula{Expr: exprNet}),
	}
}

// DefaultStructure returns the standard structure over DefaultRules.
func DefaultStructure() Structure {
	return Structure{Code: DefaultStructureCode, Name: "Vietnam standard", Rules: DefaultRules()}
}
