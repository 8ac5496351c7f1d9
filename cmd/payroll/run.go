package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// PAYSLIP
// =============================================================================

func payslipCmd() *cobra.Command {
	var req api.PayrollRunRequest
	cmd := &cobra.Command{
		Use:   "payslip",
		Short: "Run a payroll cycle and print the payslips",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.handler.RunPayroll(ctx, req)
				if err != nil {
					return err
				}
				if v.GetBool(config.KeyJSON) {
					if err := printJSON(api.NewPayrollRunDTO(res)); err != nil {
						return err
					}
				} else {
					printPayroll(os.Stdout, res)
				}
				return reportErr(res.Report)
			})
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run", "", "payroll run id")
	cmd.Flags().StringVar(&req.KpiPeriodID, "kpi-period", "", "KPI period id (default: the payslips' period)")
	cmd.Flags().StringSliceVar(&req.EmployeeIDs, "employee", nil, "limit the run to these employees")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

// =============================================================================
// KPI
// =============================================================================

func kpiCmd() *cobra.Command {
	var (
		period    string
		employees []string
	)
	cmd := &cobra.Command{
		Use:   "kpi",
		Short: "Compute KPI records for a period and print the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				run, err := a.handler.ComputeKPI(ctx, generic.PeriodID(period), employees)
				if err != nil {
					return err
				}
				if v.GetBool(config.KeyJSON) {
					if err := printJSON(api.NewKpiRunDTO(run)); err != nil {
						return err
					}
				} else {
					printSheet(os.Stdout, run.Sheet)
					if len(employees) == 1 {
						if res, ok := run.Results[generic.EmployeeID(employees[0])]; ok {
							printBreakdown(os.Stdout, res)
						}
					}
					printFailures(os.Stdout, run.Report)
				}
				return reportErr(run.Report)
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "KPI period id")
	cmd.Flags().StringSliceVar(&employees, "employee", nil, "limit the run to these employees")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

// =============================================================================
// FORMULA
// =============================================================================

func formulaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "formula", Short: "Work with rule formulas"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check EXPR",
		Short: "Report syntax errors in a formula without evaluating it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := strings.Join(args, " ")
			_, err := formula.Compile(src)
			if v.GetBool(config.KeyJSON) {
				dto := api.CheckFormulaDTO{Valid: err == nil}
				if err != nil {
					dto.Error = err.Error()
					if pos := errorPos(err); pos >= 0 {
						dto.Position = &pos
					}
				}
				if perr := printJSON(dto); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				printCaret(os.Stdout, src, errorPos(err))
				return err
			}
			fmt.Fprintln(os.Stdout, "ok")
			return nil
		},
	})
	return cmd
}

// reportErr turns failed or skipped employees into a non-zero exit.
func reportErr(r *batch.Report) error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%s: %d failed, %d skipped of %d employees",
		r.Job, len(r.Failed), len(r.Skipped), len(r.Succeeded)+len(r.Failed)+len(r.Skipped))
}
