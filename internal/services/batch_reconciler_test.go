package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/clients"
	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	provider "github.com/niaga-platform/service-merchant/internal/providers/merchant"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

// fakeCatalog resolves entity ids to products. Missing ids return not found.
type fakeCatalog struct {
	products map[int64]*clients.Product
}

func (f *fakeCatalog) GetProduct(ctx context.Context, entityID int64) (*clients.Product, error) {
	return f.products[entityID], nil
}

// fakeBatchCaller records sent entries and replies with canned results.
type fakeBatchCaller struct {
	results map[int64]provider.BatchResult
	callErr error
	sent    [][]merchant.BatchEntry
}

func (f *fakeBatchCaller) BatchSync(ctx context.Context, entries []merchant.BatchEntry) (map[int64]provider.BatchResult, error) {
	f.sent = append(f.sent, entries)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.results, nil
}

// fakeOutcomeStore captures reconciler state writes.
type fakeOutcomeStore struct {
	outcome *merchant.SyncOutcome
	dropped []merchant.DroppedItem
}

func (f *fakeOutcomeStore) SaveSyncOutcome(ctx context.Context, outcome *merchant.SyncOutcome) error {
	f.outcome = outcome
	return nil
}

func (f *fakeOutcomeStore) AppendDroppedItems(ctx context.Context, items []merchant.DroppedItem) error {
	f.dropped = append(f.dropped, items...)
	return nil
}

func product(id int64, price float64) *clients.Product {
	return &clients.Product{
		ID:            id,
		SKU:           "SKU",
		BasePrice:     price,
		Currency:      "IDR",
		StockQuantity: 3,
	}
}

func newTestReconciler(t *testing.T, catalog *fakeCatalog, caller *fakeBatchCaller) (*BatchReconciler, *SyncQueue, *memQueueStore, *fakeOutcomeStore) {
	t.Helper()
	store := &memQueueStore{}
	queue := NewSyncQueue(store, zap.NewNop())
	queue.SetDrain(func() {})
	captureTimers(queue)
	t.Cleanup(queue.Stop)

	outcomes := &fakeOutcomeStore{}
	clock := &testClock{now: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	reconciler := NewBatchReconciler(queue, catalog, caller, outcomes, nil, nil, clock, zap.NewNop())
	return reconciler, queue, store, outcomes
}

func TestRunRequeuesPartialFailures(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{
		1: product(1, 10), 2: product(2, 20), 3: product(3, 30),
	}}
	caller := &fakeBatchCaller{results: map[int64]provider.BatchResult{
		1: {EntityID: 1, Status: "success"},
		2: {EntityID: 2, Status: "error", Message: "rejected"},
		3: {EntityID: 3, Status: "success"},
	}}
	reconciler, queue, store, outcomes := newTestReconciler(t, catalog, caller)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	if err := reconciler.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	items, _ := store.Items(ctx)
	if len(items) != 1 || items[0].EntityID != 2 || items[0].Attempts != 1 {
		t.Fatalf("expected queue to hold entity 2 with attempts=1, got %+v", items)
	}
	if outcomes.outcome == nil {
		t.Fatalf("expected a persisted outcome")
	}
	if outcomes.outcome.Sent != 3 || outcomes.outcome.Succeeded != 2 || outcomes.outcome.Requeued != 1 {
		t.Fatalf("unexpected outcome: %+v", outcomes.outcome)
	}
}

func TestRunTreatsAbsentResultsAsFailed(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{
		1: product(1, 10), 2: product(2, 20),
	}}
	caller := &fakeBatchCaller{results: map[int64]provider.BatchResult{
		1: {EntityID: 1, Status: "success"},
	}}
	reconciler, queue, store, _ := newTestReconciler(t, catalog, caller)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if err := reconciler.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	items, _ := store.Items(ctx)
	if len(items) != 1 || items[0].EntityID != 2 || items[0].Attempts != 1 {
		t.Fatalf("absent result should requeue entity 2, got %+v", items)
	}
}

func TestRunWholeCallFailureFailsAllSent(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{
		1: product(1, 10), 2: product(2, 20),
	}}
	caller := &fakeBatchCaller{callErr: merchant.NewTransportError("gmc_products_batch", errors.New("connection reset"))}
	reconciler, queue, store, outcomes := newTestReconciler(t, catalog, caller)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if err := reconciler.Run(ctx); err == nil {
		t.Fatalf("expected run to surface the call error")
	}

	items, _ := store.Items(ctx)
	if len(items) != 2 {
		t.Fatalf("expected both entities requeued, got %+v", items)
	}
	for _, item := range items {
		if item.Attempts != 1 {
			t.Fatalf("expected incremented attempts, got %+v", item)
		}
	}
	if outcomes.outcome.LastError == "" {
		t.Fatalf("expected outcome to record the call error")
	}
}

func TestRunDropsUnresolvableAndInvalidEntities(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{
		1: product(1, 10),
		3: product(3, -5), // invalid price
	}}
	caller := &fakeBatchCaller{results: map[int64]provider.BatchResult{
		1: {EntityID: 1, Status: "success"},
	}}
	reconciler, queue, store, _ := newTestReconciler(t, catalog, caller)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if err := reconciler.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(caller.sent) != 1 || len(caller.sent[0]) != 1 || caller.sent[0][0].EntityID != 1 {
		t.Fatalf("only entity 1 should be sent, got %+v", caller.sent)
	}
	// Local validation drops leave nothing behind and never count as attempts.
	items, _ := store.Items(ctx)
	if len(items) != 0 {
		t.Fatalf("expected empty queue, got %+v", items)
	}
}

func TestRunRecordsPermanentDropsAtCeiling(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{1: product(1, 10)}}
	caller := &fakeBatchCaller{results: map[int64]provider.BatchResult{
		1: {EntityID: 1, Status: "error", Message: "rejected"},
	}}
	reconciler, _, store, outcomes := newTestReconciler(t, catalog, caller)
	ctx := context.Background()

	// Seed an item one failure away from the ceiling.
	seed := store.Mutate(ctx, func(items []merchant.QueueItem) ([]merchant.QueueItem, error) {
		return append(items, merchant.QueueItem{EntityID: 1, Attempts: merchant.MaxRetries - 1}), nil
	})
	if seed != nil {
		t.Fatalf("seed failed: %v", seed)
	}

	if err := reconciler.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	items, _ := store.Items(ctx)
	if len(items) != 0 {
		t.Fatalf("item at ceiling must not be requeued, got %+v", items)
	}
	if len(outcomes.dropped) != 1 || outcomes.dropped[0].EntityID != 1 || outcomes.dropped[0].Attempts != merchant.MaxRetries {
		t.Fatalf("expected a permanent drop record, got %+v", outcomes.dropped)
	}
}

func TestRunSchedulesFastRetryForBacklog(t *testing.T) {
	catalog := &fakeCatalog{products: map[int64]*clients.Product{
		1: product(1, 10), 2: product(2, 20),
	}}
	caller := &fakeBatchCaller{results: map[int64]provider.BatchResult{
		1: {EntityID: 1, Status: "success"},
	}}

	store := &memQueueStore{}
	queue := NewSyncQueue(store, zap.NewNop())
	queue.SetDrain(func() {})
	delays := captureTimers(queue)
	t.Cleanup(queue.Stop)

	reconciler := NewBatchReconciler(queue, catalog, caller, &fakeOutcomeStore{}, nil, nil, nil, zap.NewNop())
	reconciler.SetChunkSize(1)

	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		if err := queue.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	// Clear the pending debounce drain so the follow-up schedule is visible.
	queue.Stop()
	*delays = nil

	if err := reconciler.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(*delays) != 1 || (*delays)[0] != merchant.FastRetryDelay {
		t.Fatalf("expected a fast retry schedule for the backlog, got %v", *delays)
	}
}
