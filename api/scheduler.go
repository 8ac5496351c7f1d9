/*
scheduler.go - Periodic KPI recompute

PURPOSE:
  Recomputes the KPI records of every open period on a cron schedule so
  scores follow work item changes without a manual run.

DESIGN:
  - robfig/cron with a seconds field ("0 0 2 * * *" = every day at 02:00)
  - Closed periods are skipped
  - Overlapping ticks are skipped while a recompute is still running
  - The last runs are kept for the status endpoint

CONFIGURATION:
  - Spec: cron expression, empty disables the scheduler

USAGE:
  s := NewScheduler(handler, "0 0 * * * *", log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - handlers.go: ComputeKPI (shared with POST /api/kpi/runs)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/generic"
)

const scheduleHistory = 20

// ScheduledRun is the outcome of one scheduled recompute of one period.
type ScheduledRun struct {
	PeriodID  generic.PeriodID
	Started   time.Time
	Succeeded int
	Failed    int
	Err       error
}

// Scheduler recomputes KPI records periodically.
type Scheduler struct {
	Handler *Handler
	Spec    string
	Log     logrus.FieldLogger

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
	runs  []ScheduledRun
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(h *Handler, spec string, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{Handler: h, Spec: spec, Log: log.WithField("job", "kpi-schedule")}
}

// Enabled reports whether a schedule is configured.
func (s *Scheduler) Enabled() bool { return s.Spec != "" }

// Start registers the recompute job and starts the cron loop. An invalid
// spec is a ConfigurationError.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		s.Log.Info("scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.Log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.Log)),
	))
	id, err := c.AddFunc(s.Spec, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return generic.NewConfigurationError("kpi schedule "+s.Spec, "%v", err)
	}
	s.cron, s.entry = c, id
	c.Start()

	s.Log.WithField("spec", s.Spec).Info("scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running recompute to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Log.Info("scheduler stopped")
}

// RunOnce recomputes every period that is not closed.
func (s *Scheduler) RunOnce(ctx context.Context) []ScheduledRun {
	var out []ScheduledRun
	for _, p := range s.Handler.Periods() {
		if p.IsClosed() {
			continue
		}
		run := ScheduledRun{PeriodID: p.ID, Started: time.Now()}
		res, err := s.Handler.ComputeKPI(ctx, p.ID, nil)
		if err != nil {
			run.Err = err
			s.Log.WithError(err).WithField("period", p.ID).Error("scheduled KPI recompute failed")
		} else {
			run.Succeeded = len(res.Report.Succeeded)
			run.Failed = len(res.Report.Failed)
		}
		out = append(out, run)
	}

	s.mu.Lock()
	s.runs = append(s.runs, out...)
	if len(s.runs) > scheduleHistory {
		s.runs = s.runs[len(s.runs)-scheduleHistory:]
	}
	s.mu.Unlock()
	return out
}

// Status reports the schedule and the latest runs, newest first.
func (s *Scheduler) Status() ScheduleDTO {
	s.mu.Lock()
	defer s.mu.Unlock()

	dto := ScheduleDTO{Spec: s.Spec, Enabled: s.Enabled(), Runs: make([]ScheduledRunDTO, 0, len(s.runs))}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			dto.NextRun = next.Format(time.RFC3339)
		}
	}
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		rd := ScheduledRunDTO{
			PeriodID:  string(r.PeriodID),
			Started:   r.Started.Format(time.RFC3339),
			Succeeded: r.Succeeded,
			Failed:    r.Failed,
		}
		if r.Err != nil {
			rd.Error = r.Err.Error()
		}
		dto.Runs = append(dto.Runs, rd)
	}
	return dto
}
