package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler drives the engine's recurring work: a periodic queue drain and a
// once-a-day analytics ingestion at a fixed local time.
type Scheduler struct {
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Start launches the background loops. Call Stop to terminate them.
func (s *Scheduler) Start(drainInterval time.Duration, drainJob Job, dailyAt string, dailyJob Job) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if drainJob != nil && drainInterval > 0 {
		s.wg.Add(1)
		go s.runEvery(ctx, drainInterval, "queue_drain", drainJob)
	}
	if dailyJob != nil {
		s.wg.Add(1)
		go s.runDaily(ctx, dailyAt, "analytics_ingest", dailyJob)
	}
}

// Stop cancels the loops and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runEvery(ctx context.Context, interval time.Duration, name string, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}

// runDaily fires the job at the given "HH:MM" local time each day. A
// malformed time falls back to 04:30.
func (s *Scheduler) runDaily(ctx context.Context, at string, name string, job Job) {
	defer s.wg.Done()

	target, err := time.Parse("15:04", at)
	if err != nil {
		s.logger.Warn("invalid daily schedule, using 04:30", zap.String("value", at))
		target, _ = time.Parse("15:04", "04:30")
	}

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.logger.Info("running scheduled job", zap.String("job", name))
			if err := job(ctx); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
