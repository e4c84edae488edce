// Package scheduler triggers harvesting cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/logger"
)

// Runner runs one cycle synchronously.
type Runner interface {
	RunOnce(ctx context.Context) (*collector.CycleReport, error)
}

// Scheduler calls Runner.RunOnce every interval unless paused.
// A tick that arrives while a cycle is in flight is rejected, not queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	paused   atomic.Bool
	log      *logger.Logger

	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// New creates a scheduler.
func New(runner Runner, interval time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Get()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log.Component("scheduler"),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Run blocks until ctx is done. Cycles started by it are awaited before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticks, stop := s.newTicker(s.interval)
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticks:
			if s.paused.Load() {
				s.log.Debug().Msg("tick skipped: paused")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.fire(ctx)
			}()
		}
	}
}

// fire runs one cycle. The cycle does not inherit cancellation from the scheduler:
// shutdown stops it through the run manager's stop token so persistence can finish.
func (s *Scheduler) fire(ctx context.Context) {
	report, err := s.runner.RunOnce(context.WithoutCancel(ctx))
	if err != nil {
		if errors.Is(err, collector.ErrAlreadyRunning) {
			s.log.Warn().Msg("tick rejected: a cycle is already running")
			return
		}
		s.log.Error().Err(err).Msg("scheduled cycle failed")
		return
	}
	if report != nil {
		s.log.Info().
			Str("parsing_session_id", report.ParsingSessionID.String()).
			Int("inserted", report.Inserted()).
			Msg("scheduled cycle finished")
	}
}

// Pause makes the scheduler skip ticks until Resume.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.log.Info().Msg("scheduler paused")
	}
}

// Resume undoes Pause.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.log.Info().Msg("scheduler resumed")
	}
}

// Paused reports whether ticks are being skipped.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
