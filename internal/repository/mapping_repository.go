package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/niaga-platform/service-merchant/internal/models"
)

// MappingRepository stores manual identity overrides from remote offer ids to
// local entity ids. Overrides win over SKU and raw-id resolution.
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository creates a new MappingRepository
func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// Upsert creates or replaces an override.
func (r *MappingRepository) Upsert(ctx context.Context, remoteOfferID string, entityID int64) error {
	record := models.MappingOverrideRecord{RemoteOfferID: remoteOfferID, EntityID: entityID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "remote_offer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entity_id"}),
	}).Create(&record).Error
}

// Delete removes an override.
func (r *MappingRepository) Delete(ctx context.Context, remoteOfferID string) error {
	return r.db.WithContext(ctx).
		Delete(&models.MappingOverrideRecord{}, "remote_offer_id = ?", remoteOfferID).Error
}

// List returns all overrides.
func (r *MappingRepository) List(ctx context.Context) ([]models.MappingOverrideRecord, error) {
	var records []models.MappingOverrideRecord
	err := r.db.WithContext(ctx).Order("remote_offer_id ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping overrides: %w", err)
	}
	return records, nil
}

// LookupAll loads every override as a map for the ingestion run's identity
// resolution.
func (r *MappingRepository) LookupAll(ctx context.Context) (map[string]int64, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]int64, len(records))
	for _, record := range records {
		overrides[record.RemoteOfferID] = record.EntityID
	}
	return overrides, nil
}
