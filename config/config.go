/*
Package config holds the runtime settings of the payroll binary.

SOURCES (highest wins):
  1. Command-line flags bound with BindPFlag
  2. Environment variables, prefix PAYROLL_ with dashes as underscores
     (PAYROLL_LOG_LEVEL, PAYROLL_KPI_SCHEDULE, ...)
  3. Defaults below

KEYS:
  addr                     HTTP listen address            ":8080"
  db                       SQLite path, ":memory:" allowed "payroll.db"
  config                   Domain YAML, empty uses the bundled sample
  workers                  Batch workers, 0 = GOMAXPROCS   0
  log-level                logrus level                    "info"
  log-format               "text" or "json"                "text"
  overdue-threshold-days   Overrides the YAML when set, 0 = any delay overdue
  kpi-schedule             Cron spec with seconds, empty disables
  cors-origins             Comma separated allowed origins
  json                     CLI output as JSON

The domain configuration (rules, KPI groups, fixtures) lives in the YAML
file read by package factory, not here.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "PAYROLL"

// Keys.
const (
	KeyAddr          = "addr"
	KeyDB            = "db"
	KeyConfig        = "config"
	KeyWorkers       = "workers"
	KeyLogLevel      = "log-level"
	KeyLogFormat     = "log-format"
	KeyOverdueDays   = "overdue-threshold-days"
	KeyKpiSchedule   = "kpi-schedule"
	KeyCORSOrigins   = "cors-origins"
	KeyJSON          = "json"
	defaultAddr      = ":8080"
	defaultDB        = "payroll.db"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Config is the resolved runtime configuration.
type Config struct {
	Addr                 string
	DB                   string
	ConfigPath           string
	Workers              int
	LogLevel             string
	LogFormat            string
	OverdueThresholdDays *int // nil unless set by flag or environment
	KpiSchedule          string
	CORSOrigins          []string
	JSON                 bool
}

// New returns a viper instance reading PAYROLL_* variables with defaults set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAddr, defaultAddr)
	v.SetDefault(KeyDB, defaultDB)
	v.SetDefault(KeyConfig, "")
	v.SetDefault(KeyWorkers, 0)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyLogFormat, defaultLogFormat)
	v.SetDefault(KeyKpiSchedule, "")
	v.SetDefault(KeyCORSOrigins, []string{})
	v.SetDefault(KeyJSON, false)
	return v
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Addr:                 v.GetString(KeyAddr),
		DB:                   v.GetString(KeyDB),
		ConfigPath:           v.GetString(KeyConfig),
		Workers:              v.GetInt(KeyWorkers),
		LogLevel:             strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:            strings.ToLower(v.GetString(KeyLogFormat)),
		KpiSchedule:          strings.TrimSpace(v.GetString(KeyKpiSchedule)),
		CORSOrigins:          splitList(v.GetStringSlice(KeyCORSOrigins)),
		JSON:                 v.GetBool(KeyJSON),
	}
	if v.IsSet(KeyOverdueDays) {
		days := v.GetInt(KeyOverdueDays)
		c.OverdueThresholdDays = &days
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values that have a closed set or a lower bound.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("invalid %s %d: must not be negative", KeyWorkers, c.Workers)
	}
	if c.OverdueThresholdDays != nil && *c.OverdueThresholdDays < 0 {
		return fmt.Errorf("invalid %s %d: must not be negative", KeyOverdueDays, *c.OverdueThresholdDays)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid %s %q: want text or json", KeyLogFormat, c.LogFormat)
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// splitList accepts both repeated values and one comma separated value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
