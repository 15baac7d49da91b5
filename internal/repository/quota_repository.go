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

// QuotaRepository persists the per-day quota counter. It implements
// merchant.QuotaStore.
type QuotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new QuotaRepository
func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// LoadQuotaCounter returns the most recent counter, or nil when none exists.
func (r *QuotaRepository) LoadQuotaCounter(ctx context.Context) (*merchant.QuotaCounter, error) {
	var record models.QuotaCounterRecord
	err := r.db.WithContext(ctx).Order("date DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota counter: %w", err)
	}

	byAction := make(map[string]int)
	if len(record.ByAction) > 0 {
		if err := json.Unmarshal(record.ByAction, &byAction); err != nil {
			return nil, fmt.Errorf("failed to decode quota by_action: %w", err)
		}
	}
	return &merchant.QuotaCounter{
		Date:     record.Date,
		Total:    record.Total,
		ByAction: byAction,
		ResetAt:  record.ResetAt,
	}, nil
}

// SaveQuotaCounter upserts the counter for its calendar day.
func (r *QuotaRepository) SaveQuotaCounter(ctx context.Context, counter *merchant.QuotaCounter) error {
	byAction, err := json.Marshal(counter.ByAction)
	if err != nil {
		return fmt.Errorf("failed to encode quota by_action: %w", err)
	}
	record := models.QuotaCounterRecord{
		Date:     counter.Date,
		Total:    counter.Total,
		ByAction: datatypes.JSON(byAction),
		ResetAt:  counter.ResetAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total", "by_action", "reset_at", "updated_at"}),
	}).Create(&record).Error
}
