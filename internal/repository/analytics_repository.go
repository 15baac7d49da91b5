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

// AnalyticsRepository persists daily metric buckets and the weekly archive.
type AnalyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository creates a new AnalyticsRepository
func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// GetDaily returns the bucket for a calendar day, or nil when absent.
func (r *AnalyticsRepository) GetDaily(ctx context.Context, date string) (*merchant.DailyBucket, error) {
	var record models.DailyBucketRecord
	err := r.db.WithContext(ctx).First(&record, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily bucket %s: %w", date, err)
	}
	entries, err := decodeEntries(record.Entries)
	if err != nil {
		return nil, fmt.Errorf("daily bucket %s: %w", date, err)
	}
	return &merchant.DailyBucket{Date: record.Date, Entries: entries}, nil
}

// SaveDaily overwrites the bucket for its day wholesale.
func (r *AnalyticsRepository) SaveDaily(ctx context.Context, bucket *merchant.DailyBucket) error {
	entries, err := encodeEntries(bucket.Entries)
	if err != nil {
		return fmt.Errorf("daily bucket %s: %w", bucket.Date, err)
	}
	record := models.DailyBucketRecord{Date: bucket.Date, Entries: entries}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"entries", "updated_at"}),
	}).Create(&record).Error
}

// DeleteDaily removes a day's bucket once it has been folded into the archive.
func (r *AnalyticsRepository) DeleteDaily(ctx context.Context, date string) error {
	return r.db.WithContext(ctx).Delete(&models.DailyBucketRecord{}, "date = ?", date).Error
}

// ListDailyRange returns the daily buckets with start <= date <= end in
// ascending date order. Days without data are simply absent.
func (r *AnalyticsRepository) ListDailyRange(ctx context.Context, start, end string) ([]merchant.DailyBucket, error) {
	var records []models.DailyBucketRecord
	err := r.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", start, end).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list daily buckets: %w", err)
	}

	buckets := make([]merchant.DailyBucket, 0, len(records))
	for _, record := range records {
		entries, err := decodeEntries(record.Entries)
		if err != nil {
			return nil, fmt.Errorf("daily bucket %s: %w", record.Date, err)
		}
		buckets = append(buckets, merchant.DailyBucket{Date: record.Date, Entries: entries})
	}
	return buckets, nil
}

// ListDailyOlderThan returns buckets dated strictly before cutoff, oldest first.
func (r *AnalyticsRepository) ListDailyOlderThan(ctx context.Context, cutoff string) ([]merchant.DailyBucket, error) {
	var records []models.DailyBucketRecord
	err := r.db.WithContext(ctx).
		Where("date < ?", cutoff).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list aged daily buckets: %w", err)
	}

	buckets := make([]merchant.DailyBucket, 0, len(records))
	for _, record := range records {
		entries, err := decodeEntries(record.Entries)
		if err != nil {
			return nil, fmt.Errorf("daily bucket %s: %w", record.Date, err)
		}
		buckets = append(buckets, merchant.DailyBucket{Date: record.Date, Entries: entries})
	}
	return buckets, nil
}

// GetWeekly returns the archive bucket for a week key, or nil when absent.
func (r *AnalyticsRepository) GetWeekly(ctx context.Context, key merchant.WeekKey) (*merchant.WeeklyBucket, error) {
	var record models.WeeklyBucketRecord
	err := r.db.WithContext(ctx).First(&record, "key = ?", key.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weekly bucket %s: %w", key, err)
	}
	return decodeWeekly(&record)
}

// SaveWeekly upserts an archive bucket.
func (r *AnalyticsRepository) SaveWeekly(ctx context.Context, bucket *merchant.WeeklyBucket) error {
	entries, err := encodeEntries(bucket.Entries)
	if err != nil {
		return fmt.Errorf("weekly bucket %s: %w", bucket.Key, err)
	}
	foldedDays, err := json.Marshal(bucket.FoldedDays)
	if err != nil {
		return fmt.Errorf("weekly bucket %s folded days: %w", bucket.Key, err)
	}
	record := models.WeeklyBucketRecord{
		Key:        bucket.Key.String(),
		Year:       bucket.Key.Year,
		Week:       bucket.Key.Week,
		Entries:    entries,
		FoldedDays: datatypes.JSON(foldedDays),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entries", "folded_days", "updated_at"}),
	}).Create(&record).Error
}

// ListWeekly returns all archive buckets, oldest week first.
func (r *AnalyticsRepository) ListWeekly(ctx context.Context) ([]merchant.WeeklyBucket, error) {
	var records []models.WeeklyBucketRecord
	err := r.db.WithContext(ctx).Order("year ASC, week ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly buckets: %w", err)
	}

	buckets := make([]merchant.WeeklyBucket, 0, len(records))
	for i := range records {
		bucket, err := decodeWeekly(&records[i])
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *bucket)
	}
	return buckets, nil
}

// PruneWeekly deletes the oldest archive buckets beyond keep.
func (r *AnalyticsRepository) PruneWeekly(ctx context.Context, keep int) error {
	var records []models.WeeklyBucketRecord
	err := r.db.WithContext(ctx).
		Select("key").
		Order("year DESC, week DESC").
		Offset(keep).
		Find(&records).Error
	if err != nil {
		return fmt.Errorf("failed to list weekly buckets for pruning: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	keys := make([]string, len(records))
	for i, record := range records {
		keys[i] = record.Key
	}
	return r.db.WithContext(ctx).Delete(&models.WeeklyBucketRecord{}, "key IN ?", keys).Error
}

func decodeWeekly(record *models.WeeklyBucketRecord) (*merchant.WeeklyBucket, error) {
	entries, err := decodeEntries(record.Entries)
	if err != nil {
		return nil, fmt.Errorf("weekly bucket %s: %w", record.Key, err)
	}
	foldedDays := make(map[string]map[int64]merchant.Metrics)
	if len(record.FoldedDays) > 0 {
		raw := make(map[string]map[string]merchant.Metrics)
		if err := json.Unmarshal(record.FoldedDays, &raw); err != nil {
			return nil, fmt.Errorf("weekly bucket %s folded days: %w", record.Key, err)
		}
		for date, dayEntries := range raw {
			foldedDays[date] = stringKeysToInt64(dayEntries)
		}
	}
	return &merchant.WeeklyBucket{
		Key:        merchant.WeekKey{Year: record.Year, Week: record.Week},
		Entries:    entries,
		FoldedDays: foldedDays,
	}, nil
}

// JSON object keys are strings; entity-keyed maps round-trip through a
// string-keyed shape.
func encodeEntries(entries map[int64]merchant.Metrics) (datatypes.JSON, error) {
	keyed := make(map[string]merchant.Metrics, len(entries))
	for entityID, m := range entries {
		keyed[fmt.Sprintf("%d", entityID)] = m
	}
	raw, err := json.Marshal(keyed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeEntries(raw datatypes.JSON) (map[int64]merchant.Metrics, error) {
	if len(raw) == 0 {
		return map[int64]merchant.Metrics{}, nil
	}
	keyed := make(map[string]merchant.Metrics)
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	return stringKeysToInt64(keyed), nil
}

func stringKeysToInt64(keyed map[string]merchant.Metrics) map[int64]merchant.Metrics {
	entries := make(map[int64]merchant.Metrics, len(keyed))
	for key, m := range keyed {
		var entityID int64
		if _, err := fmt.Sscanf(key, "%d", &entityID); err == nil {
			entries[entityID] = m
		}
	}
	return entries
}
