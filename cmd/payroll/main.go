/*
main.go - payroll command entry point

PURPOSE:
  One binary for the HTTP server and the batch jobs. Every command loads
  the runtime configuration (flags, PAYROLL_* environment), the domain
  YAML and the SQLite store, then wires the engines the same way.

COMMANDS:
  serve                          Start the HTTP API and the KPI scheduler
  payslip --run RUN [--employee] Run a payroll cycle and print the payslips
  kpi --period ID [--employee]   Compute KPI records and print the sheet
  formula check EXPR             Report syntax errors in an expression

PERSISTENT FLAGS:
  --config      Domain YAML (default: bundled sample)
  --db          SQLite database path (":memory:" allowed)
  --workers     Batch workers, 0 = GOMAXPROCS
  --json        JSON output instead of tables
  --log-level   debug, info, warn, error

EXAMPLES:
  payroll payslip --run 2025-03
  payroll kpi --period 2025-03 --employee emp-1 --json
  PAYROLL_KPI_SCHEDULE="0 0 2 * * *" payroll serve --db ./data/payroll.db

SEE ALSO:
  - config/config.go: Keys and environment variables
  - factory/config.go: Domain YAML schema
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/store/sqlite"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:           "payroll",
	Short:         "Payroll rule and KPI scoring engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	addPersistentFlags()
	rootCmd.AddCommand(serveCmd(), payslipCmd(), kpiCmd(), formulaCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyConfig, "", "domain configuration YAML (default: bundled sample)")
	flags.String(config.KeyDB, "payroll.db", "SQLite database path")
	flags.Int(config.KeyWorkers, 0, "batch workers, 0 = GOMAXPROCS")
	flags.Bool(config.KeyJSON, false, "output JSON")
	flags.String(config.KeyLogLevel, "info", "log level")
	for _, key := range []string{config.KeyConfig, config.KeyDB, config.KeyWorkers, config.KeyJSON, config.KeyLogLevel} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app is everything a command needs, built from the configuration.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	factory *factory.Factory
	store   *sqlite.Store
	handler *api.Handler
}

func newApp() (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger()

	f, err := factory.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", describe(cfg.ConfigPath), err)
	}
	store, err := sqlite.New(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cycle := f.Cycle(store, batch.NewRunner(cfg.Workers, log, batch.NewMetrics()), log)
	if cfg.OverdueThresholdDays != nil {
		cycle.KpiConfig.OverdueThresholdDays = cfg.OverdueThresholdDays
	}

	log.WithFields(logrus.Fields{
		"config":     describe(cfg.ConfigPath),
		"db":         cfg.DB,
		"employees":  len(f.Employees()),
		"structures": len(f.Structures()),
	}).Debug("configuration loaded")

	return &app{
		cfg:     cfg,
		log:     log,
		factory: f,
		store:   store,
		handler: api.NewHandler(f, store, cycle, log),
	}, nil
}

// withApp builds the app, runs fn and closes the store.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.store.Close()
	return fn(ctx, a)
}

func describe(path string) string {
	if path == "" {
		return "bundled sample"
	}
	return path
}
