package variables

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// KPI cross-feed keys.
const (
	KeyKpiTotal      = "KPI_TOTAL"
	KeyKpiTotalLower = "kpi_total"
)

// KpiVariables exposes KPI scores to salary formulas: the total under
// KPI_TOTAL and kpi_total, and each group under KPI_<CODE> and kpi_<code>.
func KpiVariables(records []generic.KpiRecord) Map {
	m := make(Map, 2+2*len(records))
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Score)
		m.Set("KPI_"+strings.ToUpper(r.GroupCode), TypeFloat, r.Score)
		m.Set("kpi_"+strings.ToLower(r.GroupCode), TypeFloat, r.Score)
	}
	m.Set(KeyKpiTotal, TypeFloat, total)
	m.Set(KeyKpiTotalLower, TypeFloat, total)
	return m
}
