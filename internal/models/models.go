// Package models defines the persisted state surface of the sync engine.
// Every table here is individually readable by the admin UI without the
// engine running.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncQueueDocument is the single-row durable sync queue. Entries is a JSON
// array whose elements are either structured queue items or, for rows written
// by legacy producers, bare entity ids; normalization happens once on load.
type SyncQueueDocument struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Entries   datatypes.JSON `gorm:"type:jsonb" json:"entries"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (SyncQueueDocument) TableName() string {
	return "merchant_sync_queue"
}

// QuotaCounterRecord persists the per-day quota counter.
type QuotaCounterRecord struct {
	Date      string         `gorm:"primaryKey;size:10" json:"date"`
	Total     int            `json:"total"`
	ByAction  datatypes.JSON `gorm:"type:jsonb" json:"by_action"`
	ResetAt   time.Time      `json:"reset_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (QuotaCounterRecord) TableName() string {
	return "merchant_quota_counters"
}

// DailyBucketRecord persists one calendar day of per-entity metrics.
type DailyBucketRecord struct {
	Date      string         `gorm:"primaryKey;size:10" json:"date"`
	Entries   datatypes.JSON `gorm:"type:jsonb" json:"entries"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (DailyBucketRecord) TableName() string {
	return "merchant_analytics_daily"
}

// WeeklyBucketRecord persists one archived ISO week of accumulated metrics.
// FoldedDays keeps per-day contributions so re-archiving a day replaces its
// prior contribution.
type WeeklyBucketRecord struct {
	Key        string         `gorm:"primaryKey;size:8" json:"key"`
	Year       int            `gorm:"index" json:"year"`
	Week       int            `json:"week"`
	Entries    datatypes.JSON `gorm:"type:jsonb" json:"entries"`
	FoldedDays datatypes.JSON `gorm:"type:jsonb" json:"folded_days"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (WeeklyBucketRecord) TableName() string {
	return "merchant_analytics_weekly"
}

// ImportProgressRecord is the single-row bulk backfill progress. The
// completed marker lives in EngineStateRecord, separate from the progress row,
// so an errored run can never look finished.
type ImportProgressRecord struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Status            string         `gorm:"size:20" json:"status"`
	CurrentBatch      int            `json:"current_batch"`
	TotalBatches      int            `json:"total_batches"`
	ProductsProcessed int            `json:"products_processed"`
	Errors            datatypes.JSON `gorm:"type:jsonb" json:"errors"`
	StartedAt         *time.Time     `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (ImportProgressRecord) TableName() string {
	return "merchant_import_progress"
}

// MappingOverrideRecord is a manual identity mapping from a remote offer id
// to a local entity, consulted before SKU and raw-id resolution.
type MappingOverrideRecord struct {
	RemoteOfferID string    `gorm:"primaryKey;size:120" json:"remote_offer_id"`
	EntityID      int64     `gorm:"not null;index" json:"entity_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName overrides the table name
func (MappingOverrideRecord) TableName() string {
	return "merchant_mapping_overrides"
}

// Engine state keys for EngineStateRecord.
const (
	StateKeySyncOutcome       = "sync_last_outcome"
	StateKeyDroppedItems      = "sync_dropped_items"
	StateKeyUnmapped          = "analytics_unmapped"
	StateKeyUnmappedAlertDay  = "analytics_unmapped_alert_day"
	StateKeyImportCompleted   = "analytics_backfill_completed"
	StateKeyPricingSnapshot   = "analytics_pricing_snapshot"
)

// EngineStateRecord holds small JSON state documents owned by the engine:
// last sync outcome, dropped items, the unmapped-entity set, the unmapped
// alert throttle day, and the backfill completed flag.
type EngineStateRecord struct {
	Key       string         `gorm:"primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `gorm:"type:jsonb" json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName overrides the table name
func (EngineStateRecord) TableName() string {
	return "merchant_engine_state"
}
