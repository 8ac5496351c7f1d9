/*
Package batch runs per-employee computations across a worker pool.

PURPOSE:
  Employee passes are independent: each reads shared read-only
  configuration and writes only its own derived records. The Runner
  fans them out over a bounded pool and reports failures per employee,
  so one misconfigured employee never blocks the rest of the batch.

CANCELLATION:
  Cancelling the run context stops dispatching new employees, including
  one already waiting for a free worker. Passes
  already started finish on a context detached from the cancellation;
  their results are complete and stay valid. Employees never dispatched
  are listed in Report.Skipped.

KEY TYPES:
  - Runner: worker pool (golang.org/x/sync/errgroup, slot channel)
  - Report: succeeded, failed and skipped employees of one run
  - Metrics: Prometheus collectors for jobs, durations, formula failures
  - Cycle: KPI, adjustment sync, payslip lines and final score per employee

SEE ALSO:
  - cycle.go: Payroll cycle orchestration
  - metrics.go: Collectors and registry
*/
package batch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/generic"
	"golang.org/x/sync/errgroup"
)

// Failure is one employee's failed pass.
type Failure struct {
	EmployeeID generic.EmployeeID
	Err        error
}

// Report summarises one run.
type Report struct {
	Job       string
	Started   time.Time
	Finished  time.Time
	Succeeded []generic.EmployeeID
	Failed    []Failure
	Skipped   []generic.EmployeeID
}

// OK reports whether every employee was processed without error.
func (r *Report) OK() bool { return len(r.Failed) == 0 && len(r.Skipped) == 0 }

// Err returns the failure of one employee, nil if it succeeded.
func (r *Report) Err(id generic.EmployeeID) error {
	for _, f := range r.Failed {
		if f.EmployeeID == id {
			return f.Err
		}
	}
	return nil
}

// Runner executes a function per employee with bounded concurrency.
type Runner struct {
	Workers int
	Log     logrus.FieldLogger
	Metrics *Metrics
}

func NewRunner(workers int, log logrus.FieldLogger, metrics *Metrics) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{Workers: workers, Log: log, Metrics: metrics}
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Run calls fn once per employee. Errors and panics are collected, never
// propagated to the other employees.
func (r *Runner) Run(ctx context.Context, job string, employees []generic.Employee, fn func(context.Context, generic.Employee) error) *Report {
	report := &Report{Job: job, Started: time.Now()}
	log := r.Log.WithField("job", job)

	var (
		mu    sync.Mutex
		g     errgroup.Group
		slots = make(chan struct{}, r.workers())
	)

	for i, emp := range employees {
		acquired := false
		select {
		case <-ctx.Done():
		case slots <- struct{}{}:
			acquired = true
		}
		if ctx.Err() != nil {
			if acquired {
				<-slots
			}
			for _, rest := range employees[i:] {
				report.Skipped = append(report.Skipped, rest.ID)
			}
			log.WithField("skipped", len(employees)-i).Warn("run cancelled, remaining employees not dispatched")
			break
		}

		emp := emp
		g.Go(func() error {
			defer func() { <-slots }()
			start := time.Now()
			err := r.call(context.WithoutCancel(ctx), emp, fn)
			r.Metrics.ObserveJob(job, err, time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{EmployeeID: emp.ID, Err: err})
				log.WithField("employee", emp.ID).WithError(err).Error("employee pass failed")
				return nil
			}
			report.Succeeded = append(report.Succeeded, emp.ID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Succeeded, func(i, j int) bool { return report.Succeeded[i] < report.Succeeded[j] })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].EmployeeID < report.Failed[j].EmployeeID })
	report.Finished = time.Now()

	log.WithFields(logrus.Fields{
		"succeeded": len(report.Succeeded),
		"failed":    len(report.Failed),
		"skipped":   len(report.Skipped),
		"duration":  report.Finished.Sub(report.Started).String(),
	}).Info("run finished")
	return report
}

// call runs one pass and turns a panic into that employee's error.
func (r *Runner) call(ctx context.Context, emp generic.Employee, fn func(context.Context, generic.Employee) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.Log.WithFields(logrus.Fields{"employee": emp.ID, "stack": string(debug.Stack())}).Error("employee pass panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, emp)
}
