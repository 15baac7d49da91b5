package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/clients"
	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

// ImportStore persists bulk backfill progress and the completion flag.
type ImportStore interface {
	GetProgress(ctx context.Context) (*merchant.ImportProgress, error)
	SaveProgress(ctx context.Context, progress *merchant.ImportProgress) error
	Completed(ctx context.Context) (bool, error)
	MarkCompleted(ctx context.Context, at time.Time) error
}

// BulkImportService runs the one-time historical backfill: the 90 days
// before today, oldest first, in fixed 10-day batches. Progress is persisted
// after every batch so an interrupted run resumes from the next incomplete
// batch rather than starting over.
type BulkImportService struct {
	ingest     *AnalyticsIngestService
	store      ImportStore
	notifier   Notifier
	clock      merchant.Clock
	logger     *zap.Logger
	batchDelay time.Duration

	mu      sync.Mutex
	running bool
}

// NewBulkImportService wires the backfill runner. notifier may be nil.
// batchDelay spaces remote calls between batches.
func NewBulkImportService(ingest *AnalyticsIngestService, store ImportStore, notifier Notifier, clock merchant.Clock, batchDelay time.Duration, logger *zap.Logger) *BulkImportService {
	if clock == nil {
		clock = merchant.SystemClock{}
	}
	return &BulkImportService{
		ingest:     ingest,
		store:      store,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
		batchDelay: batchDelay,
	}
}

// Progress returns the persisted backfill state.
func (s *BulkImportService) Progress(ctx context.Context) (*merchant.ImportProgress, error) {
	return s.store.GetProgress(ctx)
}

// Run executes the backfill, resuming from the last completed batch. A batch
// failure stops the run and leaves all previously stored days intact; the
// completion flag is only set once every batch has finished.
func (s *BulkImportService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("bulk import already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	done, err := s.store.Completed(ctx)
	if err != nil {
		return err
	}
	if done {
		s.logger.Info("bulk import already completed, skipping")
		return nil
	}

	progress, err := s.store.GetProgress(ctx)
	if err != nil {
		return err
	}
	if progress.Status == merchant.ImportNotStarted || progress.Status == merchant.ImportCompleted {
		progress = &merchant.ImportProgress{
			Status:       merchant.ImportRunning,
			TotalBatches: merchant.BackfillBatches,
			StartedAt:    s.clock.Now(),
		}
	} else {
		progress.Status = merchant.ImportRunning
	}
	if err := s.store.SaveProgress(ctx, progress); err != nil {
		return err
	}

	// The window covers [today-90, today-1], oldest batch first.
	today := s.clock.Now()
	windowStart := today.AddDate(0, 0, -merchant.BackfillDays)

	for batch := progress.CurrentBatch; batch < merchant.BackfillBatches; batch++ {
		batchStart := windowStart.AddDate(0, 0, batch*merchant.BackfillBatchDays)
		batchEnd := batchStart.AddDate(0, 0, merchant.BackfillBatchDays-1)

		s.logger.Info("running backfill batch",
			zap.Int("batch", batch+1),
			zap.Int("total", merchant.BackfillBatches),
			zap.String("start", batchStart.Format(merchant.DayFormat)),
			zap.String("end", batchEnd.Format(merchant.DayFormat)),
		)

		processed, err := s.ingest.IngestRange(ctx, batchStart, batchEnd)
		progress.ProductsProcessed += processed
		if err != nil {
			progress.Status = merchant.ImportError
			progress.Errors = append(progress.Errors, fmt.Sprintf("batch %d: %v", batch+1, err))
			if saveErr := s.store.SaveProgress(ctx, progress); saveErr != nil {
				s.logger.Error("failed to persist import error state", zap.Error(saveErr))
			}
			return fmt.Errorf("backfill batch %d: %w", batch+1, err)
		}

		progress.CurrentBatch = batch + 1
		if err := s.store.SaveProgress(ctx, progress); err != nil {
			return err
		}

		if batch+1 < merchant.BackfillBatches && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}

	now := s.clock.Now()
	progress.Status = merchant.ImportCompleted
	progress.FinishedAt = now
	if err := s.store.SaveProgress(ctx, progress); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, now); err != nil {
		return err
	}
	if err := s.ingest.ArchiveAged(ctx); err != nil {
		s.logger.Error("post-backfill archive maintenance failed", zap.Error(err))
	}

	s.logger.Info("bulk import completed",
		zap.Int("products_processed", progress.ProductsProcessed),
	)
	if s.notifier != nil {
		data := map[string]interface{}{
			"products_processed": progress.ProductsProcessed,
			"finished_at":        now.Format(time.RFC3339),
		}
		if err := s.notifier.Notify(ctx, clients.TemplateImportCompleted, data); err != nil {
			s.logger.Warn("failed to send import completion notification", zap.Error(err))
		}
	}
	return nil
}

// RunIfNeeded triggers the backfill unless the completion flag is already
// set. Invoked once at startup.
func (s *BulkImportService) RunIfNeeded(ctx context.Context) error {
	done, err := s.store.Completed(ctx)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	return s.Run(ctx)
}
