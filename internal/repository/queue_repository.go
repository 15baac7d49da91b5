// Package repository implements the persisted state surface on Postgres via gorm.
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

// queueRowID pins the queue to a single document row.
const queueRowID = 1

// QueueRepository stores the sync queue as one JSON document row. Every
// read-modify-write cycle runs inside a transaction holding a row lock, so an
// overlapping trigger cannot dequeue the same chunk twice.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Mutate loads the queue under a row lock, applies fn, and persists the
// result in the same transaction. fn receives normalized items (legacy bare
// ids already upgraded) and returns the replacement contents.
func (r *QueueRepository) Mutate(ctx context.Context, fn func(items []merchant.QueueItem) ([]merchant.QueueItem, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.SyncQueueDocument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, queueRowID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			doc = models.SyncQueueDocument{ID: queueRowID, Entries: datatypes.JSON("[]")}
		} else if err != nil {
			return fmt.Errorf("failed to load queue document: %w", err)
		}

		items, err := merchant.NormalizeQueueEntries(doc.Entries)
		if err != nil {
			return fmt.Errorf("failed to normalize queue entries: %w", err)
		}

		updated, err := fn(items)
		if err != nil {
			return err
		}
		if updated == nil {
			updated = []merchant.QueueItem{}
		}

		raw, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal queue entries: %w", err)
		}
		doc.Entries = datatypes.JSON(raw)

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"entries", "updated_at"}),
		}).Create(&doc).Error
	})
}

// Items returns the current queue contents without mutating them.
func (r *QueueRepository) Items(ctx context.Context) ([]merchant.QueueItem, error) {
	var doc models.SyncQueueDocument
	err := r.db.WithContext(ctx).First(&doc, queueRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []merchant.QueueItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue document: %w", err)
	}
	return merchant.NormalizeQueueEntries(doc.Entries)
}
