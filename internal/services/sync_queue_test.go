package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

// memQueueStore is an in-memory QueueStore for tests.
type memQueueStore struct {
	mu    sync.Mutex
	items []merchant.QueueItem
}

func (s *memQueueStore) Mutate(ctx context.Context, fn func(items []merchant.QueueItem) ([]merchant.QueueItem, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := fn(append([]merchant.QueueItem(nil), s.items...))
	if err != nil {
		return err
	}
	s.items = items
	return nil
}

func (s *memQueueStore) Items(ctx context.Context) ([]merchant.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]merchant.QueueItem(nil), s.items...), nil
}

// captureTimers replaces the queue's timer factory and records scheduled
// delays without firing anything.
func captureTimers(q *SyncQueue) *[]time.Duration {
	delays := &[]time.Duration{}
	q.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		*delays = append(*delays, d)
		return time.NewTimer(time.Hour)
	}
	return delays
}

func newTestQueue(t *testing.T) (*SyncQueue, *memQueueStore, *[]time.Duration) {
	t.Helper()
	store := &memQueueStore{}
	queue := NewSyncQueue(store, zap.NewNop())
	queue.SetDrain(func() {})
	delays := captureTimers(queue)
	t.Cleanup(queue.Stop)
	return queue, store, delays
}

func TestEnqueueDeduplicates(t *testing.T) {
	queue, store, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []int64{7, 8, 7, 7, 8} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	items, _ := store.Items(ctx)
	if len(items) != 2 {
		t.Fatalf("expected 2 unique items, got %d: %+v", len(items), items)
	}
	if items[0].EntityID != 7 || items[1].EntityID != 8 {
		t.Fatalf("unexpected queue order: %+v", items)
	}
}

func TestEnqueueSchedulesDebouncedDrainOnce(t *testing.T) {
	queue, _, delays := newTestQueue(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := queue.Enqueue(ctx, i); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if len(*delays) != 1 {
		t.Fatalf("burst of enqueues should coalesce behind one timer, got %d", len(*delays))
	}
	if (*delays)[0] != merchant.DebounceWindow {
		t.Fatalf("expected debounce delay %v, got %v", merchant.DebounceWindow, (*delays)[0])
	}
}

func TestDequeueChunkIsFIFOAndBounded(t *testing.T) {
	queue, _, _ := newTestQueue(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := queue.Enqueue(ctx, i); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	chunk, err := queue.DequeueChunk(ctx, 3)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(chunk) != 3 || chunk[0].EntityID != 1 || chunk[2].EntityID != 3 {
		t.Fatalf("expected FIFO chunk [1 2 3], got %+v", chunk)
	}

	depth, _ := queue.Depth(ctx)
	if depth != 2 {
		t.Fatalf("expected 2 items remaining, got %d", depth)
	}
}

func TestRequeueSplitsAtRetryCeiling(t *testing.T) {
	queue, store, _ := newTestQueue(t)
	ctx := context.Background()

	requeued, dropped, err := queue.Requeue(ctx, []merchant.QueueItem{
		{EntityID: 1, Attempts: 1},
		{EntityID: 2, Attempts: merchant.MaxRetries},
		{EntityID: 3, Attempts: merchant.MaxRetries + 1},
	})
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if len(requeued) != 1 || requeued[0].EntityID != 1 {
		t.Fatalf("expected only entity 1 requeued, got %+v", requeued)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected entities 2 and 3 dropped, got %+v", dropped)
	}

	items, _ := store.Items(ctx)
	if len(items) != 1 || items[0].Attempts != 1 {
		t.Fatalf("queue should hold entity 1 with attempts=1, got %+v", items)
	}
}

func TestRequeueDoesNotDuplicateExistingEntries(t *testing.T) {
	queue, store, _ := newTestQueue(t)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, 1); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := queue.Requeue(ctx, []merchant.QueueItem{{EntityID: 1, Attempts: 2}}); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	items, _ := store.Items(ctx)
	if len(items) != 1 {
		t.Fatalf("expected no duplicate for already-queued entity, got %+v", items)
	}
}

func TestScheduleFastRetryUsesShortDelay(t *testing.T) {
	queue, _, delays := newTestQueue(t)

	queue.ScheduleFastRetry()
	if len(*delays) != 1 || (*delays)[0] != merchant.FastRetryDelay {
		t.Fatalf("expected one fast retry at %v, got %v", merchant.FastRetryDelay, *delays)
	}

	// A pending drain absorbs further scheduling.
	queue.ScheduleDrain(merchant.DebounceWindow)
	if len(*delays) != 1 {
		t.Fatalf("pending drain should absorb later schedules, got %v", *delays)
	}
}
