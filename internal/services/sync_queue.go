// Package services implements the sync engine: queue, reconciler, analytics
// ingestion, and the bulk backfill.
package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

// QueueStore is the durable queue document. Mutate runs fn inside a single
// locked read-modify-write cycle.
type QueueStore interface {
	Mutate(ctx context.Context, fn func(items []merchant.QueueItem) ([]merchant.QueueItem, error)) error
	Items(ctx context.Context) ([]merchant.QueueItem, error)
}

// SyncQueue is the durable list of pending sync work. Enqueues are deduped by
// entity id and coalesced behind a debounce timer; drains pull bounded FIFO
// chunks; failed items are re-enqueued until the retry ceiling.
type SyncQueue struct {
	store  QueueStore
	logger *zap.Logger

	debounce  time.Duration
	fastRetry time.Duration

	mu           sync.Mutex
	drainPending bool
	timer        *time.Timer
	drain        func()

	// afterFunc is swapped out by tests to observe scheduling without
	// waiting on real timers.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewSyncQueue creates a sync queue over the given store.
func NewSyncQueue(store QueueStore, logger *zap.Logger) *SyncQueue {
	return &SyncQueue{
		store:     store,
		logger:    logger,
		debounce:  merchant.DebounceWindow,
		fastRetry: merchant.FastRetryDelay,
		afterFunc: time.AfterFunc,
	}
}

// SetDrain wires the function invoked when a scheduled drain fires. Must be
// called before the first Enqueue.
func (q *SyncQueue) SetDrain(drain func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drain = drain
}

// Enqueue appends a new item for the entity unless one is already queued,
// then schedules a debounced drain so bursts coalesce into one batch.
func (q *SyncQueue) Enqueue(ctx context.Context, entityID int64) error {
	added := false
	err := q.store.Mutate(ctx, func(items []merchant.QueueItem) ([]merchant.QueueItem, error) {
		for _, item := range items {
			if item.EntityID == entityID {
				return items, nil
			}
		}
		added = true
		return append(items, merchant.QueueItem{EntityID: entityID}), nil
	})
	if err != nil {
		return err
	}

	if added {
		q.logger.Debug("enqueued entity for sync", zap.Int64("entity_id", entityID))
	}
	q.ScheduleDrain(q.debounce)
	return nil
}

// DequeueChunk removes and returns up to maxSize items FIFO, leaving the
// remainder queued. The removal is atomic with respect to the persisted
// queue, so overlapping triggers cannot double-dequeue a chunk.
func (q *SyncQueue) DequeueChunk(ctx context.Context, maxSize int) ([]merchant.QueueItem, error) {
	if maxSize <= 0 {
		maxSize = merchant.ChunkSize
	}
	var chunk []merchant.QueueItem
	err := q.store.Mutate(ctx, func(items []merchant.QueueItem) ([]merchant.QueueItem, error) {
		n := maxSize
		if n > len(items) {
			n = len(items)
		}
		chunk = append([]merchant.QueueItem(nil), items[:n]...)
		return items[n:], nil
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// Requeue re-appends items whose attempts the caller has already
// incremented. Items at or above the retry ceiling are not re-queued; they
// are returned as dropped so the caller can report them as permanent
// failures.
func (q *SyncQueue) Requeue(ctx context.Context, items []merchant.QueueItem) (requeued, dropped []merchant.QueueItem, err error) {
	for _, item := range items {
		if item.Attempts >= merchant.MaxRetries {
			dropped = append(dropped, item)
		} else {
			requeued = append(requeued, item)
		}
	}
	if len(requeued) > 0 {
		err = q.store.Mutate(ctx, func(existing []merchant.QueueItem) ([]merchant.QueueItem, error) {
			queued := make(map[int64]bool, len(existing))
			for _, item := range existing {
				queued[item.EntityID] = true
			}
			for _, item := range requeued {
				if !queued[item.EntityID] {
					existing = append(existing, item)
				}
			}
			return existing, nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	for _, item := range dropped {
		q.logger.Warn("abandoning queue item at retry ceiling",
			zap.Int64("entity_id", item.EntityID),
			zap.Int("attempts", item.Attempts),
		)
	}
	return requeued, dropped, nil
}

// Items returns the current queue contents for the admin surface.
func (q *SyncQueue) Items(ctx context.Context) ([]merchant.QueueItem, error) {
	return q.store.Items(ctx)
}

// Depth returns the number of queued items.
func (q *SyncQueue) Depth(ctx context.Context) (int, error) {
	items, err := q.store.Items(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// ScheduleDrain arranges a drain after delay unless one is already pending.
// The reconciler calls this with a short delay when a backlog remains after a
// run, so multi-chunk backlogs drain continuously.
func (q *SyncQueue) ScheduleDrain(delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.drainPending || q.drain == nil {
		return
	}
	q.drainPending = true
	q.timer = q.afterFunc(delay, func() {
		q.mu.Lock()
		q.drainPending = false
		drain := q.drain
		q.mu.Unlock()
		drain()
	})
}

// ScheduleFastRetry schedules a drain on the short backlog cadence.
func (q *SyncQueue) ScheduleFastRetry() {
	q.ScheduleDrain(q.fastRetry)
}

// Stop cancels any pending drain timer.
func (q *SyncQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.drainPending = false
}
