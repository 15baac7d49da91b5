package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/models"
)

// droppedItemsCap bounds the durable permanent-failure list.
const droppedItemsCap = 500

// StateRepository stores the engine's small JSON state documents: last sync
// outcome, permanently dropped items, the unmapped-entity set, and the
// unmapped alert throttle day.
type StateRepository struct {
	db *gorm.DB
}

// NewStateRepository creates a new StateRepository
func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

func (r *StateRepository) get(ctx context.Context, key string, out interface{}) (bool, error) {
	var record models.EngineStateRecord
	err := r.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load state %s: %w", key, err)
	}
	if err := json.Unmarshal(record.Value, out); err != nil {
		return false, fmt.Errorf("failed to decode state %s: %w", key, err)
	}
	return true, nil
}

func (r *StateRepository) set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state %s: %w", key, err)
	}
	record := models.EngineStateRecord{Key: key, Value: datatypes.JSON(raw)}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
}

// GetSyncOutcome returns the most recent reconciler outcome, or nil.
func (r *StateRepository) GetSyncOutcome(ctx context.Context) (*merchant.SyncOutcome, error) {
	var outcome merchant.SyncOutcome
	found, err := r.get(ctx, models.StateKeySyncOutcome, &outcome)
	if err != nil || !found {
		return nil, err
	}
	return &outcome, nil
}

// SaveSyncOutcome records the outcome of a reconciler run.
func (r *StateRepository) SaveSyncOutcome(ctx context.Context, outcome *merchant.SyncOutcome) error {
	return r.set(ctx, models.StateKeySyncOutcome, outcome)
}

// AppendDroppedItems adds abandoned queue items to the durable failure list,
// evicting the oldest entries beyond the cap.
func (r *StateRepository) AppendDroppedItems(ctx context.Context, items []merchant.DroppedItem) error {
	if len(items) == 0 {
		return nil
	}
	existing := []merchant.DroppedItem{}
	if _, err := r.get(ctx, models.StateKeyDroppedItems, &existing); err != nil {
		return err
	}
	existing = append(existing, items...)
	if len(existing) > droppedItemsCap {
		existing = existing[len(existing)-droppedItemsCap:]
	}
	return r.set(ctx, models.StateKeyDroppedItems, existing)
}

// ListDroppedItems returns the durable permanent-failure list.
func (r *StateRepository) ListDroppedItems(ctx context.Context) ([]merchant.DroppedItem, error) {
	items := []merchant.DroppedItem{}
	if _, err := r.get(ctx, models.StateKeyDroppedItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// LoadUnmapped returns the persisted unmapped-entity set, oldest first.
func (r *StateRepository) LoadUnmapped(ctx context.Context) ([]merchant.UnmappedEntity, error) {
	entities := []merchant.UnmappedEntity{}
	if _, err := r.get(ctx, models.StateKeyUnmapped, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// SaveUnmapped replaces the persisted unmapped-entity set.
func (r *StateRepository) SaveUnmapped(ctx context.Context, entities []merchant.UnmappedEntity) error {
	return r.set(ctx, models.StateKeyUnmapped, entities)
}

// LoadPricingSnapshot returns the latest pricing snapshot, or nil.
func (r *StateRepository) LoadPricingSnapshot(ctx context.Context) (*merchant.PricingSnapshot, error) {
	var snapshot merchant.PricingSnapshot
	found, err := r.get(ctx, models.StateKeyPricingSnapshot, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

// SavePricingSnapshot replaces the pricing snapshot wholesale.
func (r *StateRepository) SavePricingSnapshot(ctx context.Context, snapshot *merchant.PricingSnapshot) error {
	return r.set(ctx, models.StateKeyPricingSnapshot, snapshot)
}

// GetUnmappedAlertDay returns the calendar day the last unmapped alert was
// sent, or "" when none was ever sent.
func (r *StateRepository) GetUnmappedAlertDay(ctx context.Context) (string, error) {
	var day string
	if _, err := r.get(ctx, models.StateKeyUnmappedAlertDay, &day); err != nil {
		return "", err
	}
	return day, nil
}

// SetUnmappedAlertDay records the day an unmapped alert was sent, throttling
// further alerts until the next day.
func (r *StateRepository) SetUnmappedAlertDay(ctx context.Context, day string) error {
	return r.set(ctx, models.StateKeyUnmappedAlertDay, day)
}
