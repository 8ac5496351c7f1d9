package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/kpi"
	"github.com/warp/payroll-engine/payroll"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func rightAlign(cols ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, 0, len(cols))
	for _, n := range cols {
		out = append(out, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	return out
}

// =============================================================================
// PAYROLL
// =============================================================================

func printPayroll(w io.Writer, res *batch.CycleResult) {
	ids := make([]string, 0, len(res.Outcomes))
	for id := range res.Outcomes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	for _, id := range ids {
		out := res.Outcomes[generic.PayslipID(id)]
		tw := newTable(w, fmt.Sprintf("%s  %s (%s)", id, out.Payslip.Employee.Name, out.Payslip.Employee.ID))
		tw.AppendHeader(table.Row{"Seq", "Code", "Name", "Category", "Total"})
		tw.SetColumnConfigs(rightAlign(1, 5))
		for _, l := range out.Lines.Lines {
			tw.AppendRow(table.Row{l.Sequence, l.Code, l.Name, l.Category, l.Total.String()})
		}
		tw.AppendFooter(table.Row{"", payroll.NetCode, "", "", out.Lines.Code(payroll.NetCode).String()})
		tw.Render()

		f := out.Final
		fmt.Fprintf(w, "KPI %s  +%s  -%s  = %s\n", f.KpiTotal, f.Add, f.Subtract, f.Total)
		for _, fl := range out.Lines.Failures {
			fmt.Fprintf(w, "  formula failure: %s (%s): %v\n", fl.RuleCode, fl.Mode, fl.Err)
		}
		if len(out.Lines.Defaulted) > 0 {
			fmt.Fprintf(w, "  defaulted inputs: %s\n", strings.Join(out.Lines.Defaulted, ", "))
		}
		fmt.Fprintln(w)
	}

	printSheet(w, res.Sheet)
	printFailures(w, res.Report)
}

func printFailures(w io.Writer, r *batch.Report) {
	if r.OK() {
		return
	}
	tw := newTable(w, "Not processed")
	tw.AppendHeader(table.Row{"Employee", "Reason"})
	for _, f := range r.Failed {
		tw.AppendRow(table.Row{f.EmployeeID, f.Err.Error()})
	}
	for _, id := range r.Skipped {
		tw.AppendRow(table.Row{id, "skipped: run cancelled"})
	}
	tw.Render()
}

// =============================================================================
// KPI
// =============================================================================

// printSheet renders one row per employee with a column per group.
func printSheet(w io.Writer, s *kpi.Sheet) {
	var groups []string
	seen := make(map[string]bool)
	for _, l := range s.Lines {
		for _, g := range l.Groups {
			if !seen[g.Group.Code] {
				seen[g.Group.Code] = true
				groups = append(groups, g.Group.Code)
			}
		}
	}

	tw := newTable(w, fmt.Sprintf("KPI %s  profile %s  %s", s.PeriodID, s.Profile, s.State))
	header := table.Row{"Employee", "Name"}
	for _, code := range groups {
		header = append(header, code)
	}
	header = append(header, "Total")
	tw.AppendHeader(header)

	cols := make([]int, 0, len(groups)+1)
	for i := range groups {
		cols = append(cols, i+3)
	}
	tw.SetColumnConfigs(rightAlign(append(cols, len(groups)+3)...))

	for _, l := range s.Lines {
		scores := make(map[string]string, len(l.Groups))
		for _, g := range l.Groups {
			scores[g.Group.Code] = g.Score.String()
		}
		row := table.Row{l.EmployeeID, l.EmployeeName}
		for _, code := range groups {
			row = append(row, scores[code])
		}
		row = append(row, l.Total.String())
		tw.AppendRow(row)
	}
	tw.Render()
}

// printBreakdown renders the per-label counters behind one employee's score.
func printBreakdown(w io.Writer, res *kpi.Result) {
	tw := newTable(w, fmt.Sprintf("%s  %s", res.Employee.ID, res.Employee.Name))
	tw.AppendHeader(table.Row{"Group", "Label", "Assigned", "On time", "Late", "Overdue", "E_G", "KPI %", "Contribution"})
	tw.SetColumnConfigs(rightAlign(3, 4, 5, 6, 7, 8, 9))
	for _, g := range res.Scorecard.Groups {
		for _, l := range g.Labels {
			tw.AppendRow(table.Row{
				g.Group.Code, l.Name, l.Assigned, l.OnTime, l.Late, l.Overdue,
				l.EffectiveGood.String(), l.Percent.StringFixed(2), l.Contribution.StringFixed(2),
			})
		}
		tw.AppendSeparator()
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", res.Scorecard.Total.String()})
	tw.Render()
	if len(res.Defaulted) > 0 {
		fmt.Fprintf(w, "defaulted inputs: %s\n", strings.Join(res.Defaulted, ", "))
	}
}

// =============================================================================
// FORMULA
// =============================================================================

func errorPos(err error) int {
	var fe *generic.FormulaError
	if errors.As(err, &fe) {
		return fe.Pos
	}
	return -1
}

// printCaret points at the error offset under the expression.
func printCaret(w io.Writer, src string, pos int) {
	fmt.Fprintln(w, src)
	if pos < 0 || pos > len(src) {
		return
	}
	fmt.Fprintln(w, strings.Repeat(" ", pos)+"^")
}
