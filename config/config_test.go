package config_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "payroll.db", c.DB)
	assert.Equal(t, 0, c.Workers)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.Empty(t, c.KpiSchedule)
	assert.Empty(t, c.CORSOrigins)
}

func TestLoad_Environment(t *testing.T) {
	// GIVEN: PAYROLL_* variables
	t.Setenv("PAYROLL_WORKERS", "4")
	t.Setenv("PAYROLL_LOG_FORMAT", "JSON")
	t.Setenv("PAYROLL_KPI_SCHEDULE", "0 0 2 * * *")
	t.Setenv("PAYROLL_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PAYROLL_OVERDUE_THRESHOLD_DAYS", "10")

	// WHEN: Loading
	c, err := config.Load(config.New())
	require.NoError(t, err)

	// THEN: Dashed keys map to underscored variables
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, "0 0 2 * * *", c.KpiSchedule)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	require.NotNil(t, c.OverdueThresholdDays)
	assert.Equal(t, 10, *c.OverdueThresholdDays)
}

func TestLoad_OverdueThresholdZeroIsKept(t *testing.T) {
	c, err := config.Load(config.New())
	require.NoError(t, err)
	assert.Nil(t, c.OverdueThresholdDays, "unset keeps the YAML value")

	t.Setenv("PAYROLL_OVERDUE_THRESHOLD_DAYS", "0")
	c, err = config.Load(config.New())
	require.NoError(t, err)
	require.NotNil(t, c.OverdueThresholdDays)
	assert.Equal(t, 0, *c.OverdueThresholdDays)
}

func TestLoad_OverridesWin(t *testing.T) {
	v := config.New()
	t.Setenv("PAYROLL_DB", "env.db")
	v.Set(config.KeyDB, ":memory:")

	c, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", c.DB)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct{ key, value string }{
		"negative workers": {config.KeyWorkers, "-1"},
		"unknown level":    {config.KeyLogLevel, "chatty"},
		"unknown format":   {config.KeyLogFormat, "xml"},
		"negative overdue": {config.KeyOverdueDays, "-3"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := config.New()
			v.Set(tc.key, tc.value)
			_, err := config.Load(v)
			assert.Error(t, err)
		})
	}
}

func TestLogger(t *testing.T) {
	log := config.Config{LogLevel: "debug", LogFormat: "json"}.Logger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log = config.Config{LogLevel: "warn", LogFormat: "text"}.Logger()
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}
