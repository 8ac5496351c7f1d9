package batch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/payroll-engine/payroll"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	Jobs            *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	FormulaFailures *prometheus.CounterVec
	DefaultedInputs *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "employee_jobs_total",
			Help:      "Per-employee passes by job and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payroll",
			Name:      "employee_job_duration_seconds",
			Help:      "Duration of one employee pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		FormulaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "formula_failures_total",
			Help:      "Rule formulas recovered by the failure policy.",
		}, []string{"rule", "mode"}),
		DefaultedInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "defaulted_inputs_total",
			Help:      "Inputs replaced by empty values because their source was unavailable.",
		}, []string{"input"}),
	}
	m.Registry.MustRegister(
		m.Jobs, m.JobDuration, m.FormulaFailures, m.DefaultedInputs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveJob(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Jobs.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ObserveFormulaFailures(failures []payroll.Failure) {
	if m == nil {
		return
	}
	for _, f := range failures {
		m.FormulaFailures.WithLabelValues(f.RuleCode, f.Mode).Inc()
	}
}

func (m *Metrics) ObserveDefaulted(inputs []string) {
	if m == nil {
		return
	}
	for _, in := range inputs {
		m.DefaultedInputs.WithLabelValues(in).Inc()
	}
}
