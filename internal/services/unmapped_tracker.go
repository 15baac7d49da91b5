package services

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/clients"
	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/monitoring"
)

// UnmappedStore persists the unmapped-entity set and the alert throttle day.
type UnmappedStore interface {
	LoadUnmapped(ctx context.Context) ([]merchant.UnmappedEntity, error)
	SaveUnmapped(ctx context.Context, entities []merchant.UnmappedEntity) error
	GetUnmappedAlertDay(ctx context.Context) (string, error)
	SetUnmappedAlertDay(ctx context.Context, day string) error
}

// Notifier sends templated operator notifications.
type Notifier interface {
	Notify(ctx context.Context, templateID string, data map[string]interface{}) error
}

// UnmappedTracker remembers remote offers that could not be matched to a
// local entity. The set is capped; when full, the oldest entry is evicted.
// Operator alerts go out at most once per calendar day and only for offers
// seen for the first time.
type UnmappedTracker struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, merchant.UnmappedEntity]
	pending  []merchant.UnmappedEntity
	store    UnmappedStore
	notifier Notifier
	metrics  *monitoring.Metrics
	clock    merchant.Clock
	logger   *zap.Logger
}

// NewUnmappedTracker creates a tracker capped at the standard set size.
// notifier and metrics may be nil.
func NewUnmappedTracker(store UnmappedStore, notifier Notifier, metrics *monitoring.Metrics, clock merchant.Clock, logger *zap.Logger) (*UnmappedTracker, error) {
	if clock == nil {
		clock = merchant.SystemClock{}
	}
	cache, err := lru.New[string, merchant.UnmappedEntity](merchant.UnmappedCap)
	if err != nil {
		return nil, err
	}
	return &UnmappedTracker{
		cache:    cache,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Restore loads the persisted set, oldest first so LRU eviction order
// survives a restart.
func (t *UnmappedTracker) Restore(ctx context.Context) error {
	entities, err := t.store.LoadUnmapped(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entity := range entities {
		t.cache.Add(entity.RemoteOfferID, entity)
	}
	t.observeSize()
	return nil
}

// Observe records remote offers with no local mapping. Offers seen for the
// first time join the pending alert batch; already-known offers do not.
func (t *UnmappedTracker) Observe(ctx context.Context, entities []merchant.UnmappedEntity) error {
	if len(entities) == 0 {
		return nil
	}
	t.mu.Lock()
	for _, entity := range entities {
		if _, known := t.cache.Get(entity.RemoteOfferID); known {
			continue
		}
		if entity.FirstSeenAt.IsZero() {
			entity.FirstSeenAt = t.clock.Now()
		}
		t.cache.Add(entity.RemoteOfferID, entity)
		t.pending = append(t.pending, entity)
	}
	t.observeSize()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	return t.store.SaveUnmapped(ctx, snapshot)
}

// Resolve removes an offer from the set, typically after an operator adds a
// mapping override for it.
func (t *UnmappedTracker) Resolve(ctx context.Context, remoteOfferID string) error {
	t.mu.Lock()
	t.cache.Remove(remoteOfferID)
	for i, entity := range t.pending {
		if entity.RemoteOfferID == remoteOfferID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.observeSize()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	return t.store.SaveUnmapped(ctx, snapshot)
}

// List returns the current unmapped set, oldest first.
func (t *UnmappedTracker) List() []merchant.UnmappedEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// NotifyPending alerts the operator about newly seen unmapped offers. At most
// one alert goes out per calendar day; when the alert is throttled the
// pending batch is still cleared, so those offers never alert twice.
func (t *UnmappedTracker) NotifyPending(ctx context.Context) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(pending) == 0 || t.notifier == nil {
		return nil
	}

	today := t.clock.Now().Format(merchant.DayFormat)
	lastDay, err := t.store.GetUnmappedAlertDay(ctx)
	if err != nil {
		return err
	}
	if lastDay == today {
		t.logger.Debug("unmapped alert throttled",
			zap.Int("pending", len(pending)),
			zap.String("day", today),
		)
		return nil
	}

	names := make([]string, 0, len(pending))
	for _, entity := range pending {
		names = append(names, entity.DisplayName)
	}
	data := map[string]interface{}{
		"count":    len(pending),
		"products": names,
	}
	if err := t.notifier.Notify(ctx, clients.TemplateUnmappedProducts, data); err != nil {
		return err
	}
	return t.store.SetUnmappedAlertDay(ctx, today)
}

func (t *UnmappedTracker) snapshotLocked() []merchant.UnmappedEntity {
	keys := t.cache.Keys()
	entities := make([]merchant.UnmappedEntity, 0, len(keys))
	for _, key := range keys {
		if entity, ok := t.cache.Peek(key); ok {
			entities = append(entities, entity)
		}
	}
	return entities
}

func (t *UnmappedTracker) observeSize() {
	if t.metrics != nil {
		t.metrics.UnmappedGauge.Set(float64(t.cache.Len()))
	}
}
