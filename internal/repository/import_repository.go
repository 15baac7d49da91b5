package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/models"
)

// importRowID pins the backfill progress to a single row.
const importRowID = 1

// ImportRepository persists bulk backfill progress and the separate
// completed flag.
type ImportRepository struct {
	db *gorm.DB
}

// NewImportRepository creates a new ImportRepository
func NewImportRepository(db *gorm.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// GetProgress returns the persisted backfill progress. A missing row means
// the backfill never started.
func (r *ImportRepository) GetProgress(ctx context.Context) (*merchant.ImportProgress, error) {
	var record models.ImportProgressRecord
	err := r.db.WithContext(ctx).First(&record, importRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &merchant.ImportProgress{
			Status:       merchant.ImportNotStarted,
			TotalBatches: merchant.BackfillBatches,
			Errors:       []string{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import progress: %w", err)
	}

	importErrors := []string{}
	if len(record.Errors) > 0 {
		if err := json.Unmarshal(record.Errors, &importErrors); err != nil {
			return nil, fmt.Errorf("failed to decode import errors: %w", err)
		}
	}
	progress := &merchant.ImportProgress{
		Status:            merchant.ImportStatus(record.Status),
		CurrentBatch:      record.CurrentBatch,
		TotalBatches:      record.TotalBatches,
		ProductsProcessed: record.ProductsProcessed,
		Errors:            importErrors,
	}
	if record.StartedAt != nil {
		progress.StartedAt = *record.StartedAt
	}
	if record.FinishedAt != nil {
		progress.FinishedAt = *record.FinishedAt
	}
	return progress, nil
}

// SaveProgress upserts the backfill progress row.
func (r *ImportRepository) SaveProgress(ctx context.Context, progress *merchant.ImportProgress) error {
	importErrors, err := json.Marshal(progress.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode import errors: %w", err)
	}
	record := models.ImportProgressRecord{
		ID:                importRowID,
		Status:            string(progress.Status),
		CurrentBatch:      progress.CurrentBatch,
		TotalBatches:      progress.TotalBatches,
		ProductsProcessed: progress.ProductsProcessed,
		Errors:            datatypes.JSON(importErrors),
	}
	if !progress.StartedAt.IsZero() {
		startedAt := progress.StartedAt
		record.StartedAt = &startedAt
	}
	if !progress.FinishedAt.IsZero() {
		finishedAt := progress.FinishedAt
		record.FinishedAt = &finishedAt
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_batch", "total_batches", "products_processed",
			"errors", "started_at", "finished_at", "updated_at",
		}),
	}).Create(&record).Error
}

// Completed reports whether the one-time backfill has fully finished.
func (r *ImportRepository) Completed(ctx context.Context) (bool, error) {
	var record models.EngineStateRecord
	err := r.db.WithContext(ctx).First(&record, "key = ?", models.StateKeyImportCompleted).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load backfill flag: %w", err)
	}
	var completed struct {
		Completed   bool      `json:"completed"`
		CompletedAt time.Time `json:"completed_at"`
	}
	if err := json.Unmarshal(record.Value, &completed); err != nil {
		return false, fmt.Errorf("failed to decode backfill flag: %w", err)
	}
	return completed.Completed, nil
}

// MarkCompleted sets the completed flag. Only full completion of all batches
// calls this; an errored run leaves the flag unset.
func (r *ImportRepository) MarkCompleted(ctx context.Context, at time.Time) error {
	value, err := json.Marshal(map[string]interface{}{
		"completed":    true,
		"completed_at": at,
	})
	if err != nil {
		return err
	}
	record := models.EngineStateRecord{
		Key:   models.StateKeyImportCompleted,
		Value: datatypes.JSON(value),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
}
