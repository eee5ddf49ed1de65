// Package scheduler runs the reconciliation sweeps of the admission
// engine. Each sweep is a PeriodicService supervised by suture; a sweep
// that fails on one row logs it and moves on, and the next tick picks up
// whatever is left.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/metrics"
)

// Report summarises one sweep run.
type Report struct {
	Name     string
	Affected int
	Failed   int
}

// Task is one sweep. now is the instant the run treats as current.
type Task interface {
	Name() string
	Run(ctx context.Context, now time.Time) (Report, error)
}

// PeriodicService runs a Task on a fixed interval until its context is
// canceled. It implements suture.Service.
type PeriodicService struct {
	task     Task
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewPeriodicService runs task every interval. A single run is bounded by
// the interval so a stuck store cannot stack runs.
func NewPeriodicService(task Task, interval time.Duration) *PeriodicService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PeriodicService{
		task:     task,
		interval: interval,
		timeout:  interval,
		now:      time.Now,
		log:      logging.Component("sweep").With().Str("sweep", task.Name()).Logger(),
	}
}

func (p *PeriodicService) String() string { return "sweep-" + p.task.Name() }

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("sweep starting")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("sweep shutting down")
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs one run and records it.
func (p *PeriodicService) RunOnce(ctx context.Context) Report {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	rep, err := p.task.Run(runCtx, p.now())
	rep.Name = p.task.Name()
	metrics.RecordSweep(rep.Name, rep.Affected, rep.Failed, time.Since(start))

	switch {
	case err != nil:
		p.log.Warn().Err(err).Int("affected", rep.Affected).Int("failed", rep.Failed).Msg("sweep run failed")
	case rep.Affected > 0 || rep.Failed > 0:
		p.log.Info().Int("affected", rep.Affected).Int("failed", rep.Failed).Dur("took", time.Since(start)).Msg("sweep run")
	}
	return rep
}
