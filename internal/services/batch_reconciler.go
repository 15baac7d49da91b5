package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/clients"
	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/monitoring"
	provider "github.com/niaga-platform/service-merchant/internal/providers/merchant"
)

// EntityStore is the read-only catalog collaborator.
type EntityStore interface {
	GetProduct(ctx context.Context, entityID int64) (*clients.Product, error)
}

// BatchCaller pushes one chunk of entries in a single remote call.
type BatchCaller interface {
	BatchSync(ctx context.Context, entries []merchant.BatchEntry) (map[int64]provider.BatchResult, error)
}

// OutcomeStore is the durable failure/outcome surface for the admin UI.
type OutcomeStore interface {
	SaveSyncOutcome(ctx context.Context, outcome *merchant.SyncOutcome) error
	AppendDroppedItems(ctx context.Context, items []merchant.DroppedItem) error
}

// SyncEventPublisher emits sync outcome signals for external collaborators.
type SyncEventPublisher interface {
	PublishSyncCompleted(runID string, synced int) error
	PublishSyncFailed(runID string, requeued, dropped int, reason string) error
}

// BatchReconciler turns a dequeued chunk into one remote batch call and
// matches the per-item results back to the queue: successes are dropped
// permanently, failures are re-enqueued with an incremented attempt counter
// up to the retry ceiling.
type BatchReconciler struct {
	queue     *SyncQueue
	entities  EntityStore
	caller    BatchCaller
	outcomes  OutcomeStore
	publisher SyncEventPublisher
	metrics   *monitoring.Metrics
	clock     merchant.Clock
	logger    *zap.Logger

	chunkSize int

	// runMu serializes runs; the scheduler assumes at most one concurrent
	// run but overlapping triggers do happen.
	runMu sync.Mutex
}

// NewBatchReconciler creates a reconciler over the given collaborators.
// publisher and metrics may be nil.
func NewBatchReconciler(
	queue *SyncQueue,
	entities EntityStore,
	caller BatchCaller,
	outcomes OutcomeStore,
	publisher SyncEventPublisher,
	metrics *monitoring.Metrics,
	clock merchant.Clock,
	logger *zap.Logger,
) *BatchReconciler {
	if clock == nil {
		clock = merchant.SystemClock{}
	}
	return &BatchReconciler{
		queue:     queue,
		entities:  entities,
		caller:    caller,
		outcomes:  outcomes,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		chunkSize: merchant.ChunkSize,
	}
}

// Run drains one chunk from the queue and reconciles it against the remote
// batch results. Invoked by the scheduled trigger and by the queue's drain
// timer.
func (r *BatchReconciler) Run(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	runID := uuid.NewString()
	chunk, err := r.queue.DequeueChunk(ctx, r.chunkSize)
	if err != nil {
		return fmt.Errorf("failed to dequeue chunk: %w", err)
	}
	if len(chunk) == 0 {
		return nil
	}

	r.logger.Info("starting sync run",
		zap.String("run_id", runID),
		zap.Int("chunk", len(chunk)),
	)

	entries, sent := r.buildEntries(ctx, chunk)
	if len(entries) == 0 {
		// Everything in the chunk was invalid or missing; nothing was sent.
		outcome := &merchant.SyncOutcome{RunID: runID, RanAt: r.clock.Now()}
		if err := r.outcomes.SaveSyncOutcome(ctx, outcome); err != nil {
			r.logger.Warn("failed to save sync outcome", zap.Error(err))
		}
		r.scheduleFollowUp(ctx)
		return nil
	}

	results, callErr := r.caller.BatchSync(ctx, entries)

	var failed []merchant.QueueItem
	succeeded := 0
	if callErr != nil {
		// A whole-call failure fails every entry that was sent.
		for _, item := range sent {
			item.Attempts++
			failed = append(failed, item)
		}
	} else {
		for _, item := range sent {
			result, ok := results[item.EntityID]
			if !ok || !result.OK() {
				// Missing from the result map and explicit error status
				// are treated identically.
				item.Attempts++
				failed = append(failed, item)
				continue
			}
			succeeded++
		}
	}

	requeued, dropped, err := r.queue.Requeue(ctx, failed)
	if err != nil {
		return fmt.Errorf("failed to requeue items: %w", err)
	}

	outcome := &merchant.SyncOutcome{
		RunID:     runID,
		Sent:      len(entries),
		Succeeded: succeeded,
		Requeued:  len(requeued),
		Dropped:   len(dropped),
		RanAt:     r.clock.Now(),
	}
	if callErr != nil {
		outcome.LastError = callErr.Error()
	} else if len(failed) > 0 {
		outcome.LastError = fmt.Sprintf("%d of %d entries failed on the remote side", len(failed), len(entries))
	} else {
		outcome.LastSuccessAt = r.clock.Now()
	}
	if err := r.outcomes.SaveSyncOutcome(ctx, outcome); err != nil {
		r.logger.Warn("failed to save sync outcome", zap.Error(err))
	}

	if len(dropped) > 0 {
		r.recordDropped(ctx, dropped, callErr)
	}
	r.publishOutcome(runID, outcome)
	r.observeRun(outcome)

	r.logger.Info("sync run finished",
		zap.String("run_id", runID),
		zap.Int("sent", outcome.Sent),
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("requeued", outcome.Requeued),
		zap.Int("dropped", outcome.Dropped),
	)

	r.scheduleFollowUp(ctx)
	return callErr
}

// buildEntries resolves each queue item against the catalog and keeps the
// valid ones. Items whose entity is missing or carries invalid price data
// are excluded from the batch and their queue item is destroyed without an
// attempts increment; that is a local validation drop, not a remote failure.
func (r *BatchReconciler) buildEntries(ctx context.Context, chunk []merchant.QueueItem) ([]merchant.BatchEntry, []merchant.QueueItem) {
	entries := make([]merchant.BatchEntry, 0, len(chunk))
	sent := make([]merchant.QueueItem, 0, len(chunk))

	for _, item := range chunk {
		product, err := r.entities.GetProduct(ctx, item.EntityID)
		if err != nil || product == nil {
			r.logger.Warn("dropping unresolvable entity from batch",
				zap.Int64("entity_id", item.EntityID),
				zap.Error(err),
			)
			if r.metrics != nil {
				r.metrics.SyncItemsTotal.WithLabelValues("invalid").Inc()
			}
			continue
		}

		availability := "out_of_stock"
		if product.StockQuantity > 0 {
			availability = "in_stock"
		}
		entry := merchant.BatchEntry{
			EntityID:     product.ID,
			SKU:          product.SKU,
			Price:        product.EffectivePrice(),
			Currency:     product.Currency,
			Availability: availability,
			Locale:       product.Locale,
			Country:      product.Country,
		}
		if err := entry.Validate(); err != nil {
			r.logger.Warn("dropping invalid entry from batch",
				zap.Int64("entity_id", item.EntityID),
				zap.Error(err),
			)
			if r.metrics != nil {
				r.metrics.SyncItemsTotal.WithLabelValues("invalid").Inc()
			}
			continue
		}

		entries = append(entries, entry)
		sent = append(sent, item)
	}
	return entries, sent
}

func (r *BatchReconciler) recordDropped(ctx context.Context, dropped []merchant.QueueItem, callErr error) {
	reason := "remote sync failed repeatedly"
	if callErr != nil {
		reason = callErr.Error()
	}
	items := make([]merchant.DroppedItem, 0, len(dropped))
	for _, item := range dropped {
		items = append(items, merchant.DroppedItem{
			EntityID:  item.EntityID,
			Attempts:  item.Attempts,
			Reason:    reason,
			DroppedAt: r.clock.Now(),
		})
	}
	if err := r.outcomes.AppendDroppedItems(ctx, items); err != nil {
		r.logger.Warn("failed to record dropped items", zap.Error(err))
	}
}

func (r *BatchReconciler) publishOutcome(runID string, outcome *merchant.SyncOutcome) {
	if r.publisher == nil {
		return
	}
	if outcome.Requeued > 0 || outcome.Dropped > 0 || outcome.LastError != "" {
		if err := r.publisher.PublishSyncFailed(runID, outcome.Requeued, outcome.Dropped, outcome.LastError); err != nil {
			r.logger.Warn("failed to publish sync failed event", zap.Error(err))
		}
		return
	}
	if outcome.Sent > 0 {
		if err := r.publisher.PublishSyncCompleted(runID, outcome.Succeeded); err != nil {
			r.logger.Warn("failed to publish sync completed event", zap.Error(err))
		}
	}
}

func (r *BatchReconciler) observeRun(outcome *merchant.SyncOutcome) {
	if r.metrics == nil {
		return
	}
	result := "success"
	if outcome.LastError != "" {
		result = "failure"
	}
	r.metrics.SyncRunsTotal.WithLabelValues(result).Inc()
	r.metrics.SyncItemsTotal.WithLabelValues("synced").Add(float64(outcome.Succeeded))
	r.metrics.SyncItemsTotal.WithLabelValues("requeued").Add(float64(outcome.Requeued))
	r.metrics.SyncItemsTotal.WithLabelValues("dropped").Add(float64(outcome.Dropped))
}

// scheduleFollowUp arranges a fast retry when a backlog remains after this
// run, instead of waiting out the debounce window.
func (r *BatchReconciler) scheduleFollowUp(ctx context.Context) {
	depth, err := r.queue.Depth(ctx)
	if err != nil {
		r.logger.Warn("failed to read queue depth", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(depth))
	}
	if depth > 0 {
		r.queue.ScheduleFastRetry()
	}
}

// SetChunkSize overrides the batch chunk size, mainly for tests.
func (r *BatchReconciler) SetChunkSize(n int) {
	if n > 0 {
		r.chunkSize = n
	}
}
