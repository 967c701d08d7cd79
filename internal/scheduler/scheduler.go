// Package scheduler runs batch analyses on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"chart-analyst/internal/pipeline"
)

// BatchFunc runs one batch; a BatchRunner's Run method can be passed directly.
type BatchFunc func(ctx context.Context, symbols []string) (*pipeline.BatchResult, error)

// Scheduler triggers a batch for a fixed symbol list. Ticks that fire while
// a batch is still running are skipped.
type Scheduler struct {
	cron    *cron.Cron
	run     BatchFunc
	symbols []string
	logger  zerolog.Logger

	ctx     context.Context
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	results chan *pipeline.BatchResult
}

// New creates a scheduler. Schedules use six fields, seconds first.
func New(ctx context.Context, run BatchFunc, symbols []string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		run:     run,
		symbols: symbols,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		ctx:     ctx,
		results: make(chan *pipeline.BatchResult, 1),
	}
}

// Register adds the batch job for spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("register batch schedule %q: %w", spec, err)
	}
	return nil
}

// Results delivers each finished batch. Results are dropped when nobody is
// reading.
func (s *Scheduler) Results() <-chan *pipeline.BatchResult {
	return s.results
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("symbols", len(s.symbols)).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunNow executes a batch immediately, outside the schedule.
func (s *Scheduler) RunNow() {
	s.tick()
}

// Next returns the time of the next scheduled run, zero if none.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous batch still running, skipping tick")
		return
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.logger.Info().Msg("Running scheduled batch")
	res, err := s.run(s.ctx, s.symbols)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled batch failed")
		return
	}

	select {
	case s.results <- res:
	default:
	}
}
