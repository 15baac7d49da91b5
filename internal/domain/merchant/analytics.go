package merchant

import (
	"fmt"
	"time"
)

// Retention tuning for the analytics time series.
const (
	// RollingWindowDays is the span kept as individually addressable daily buckets.
	RollingWindowDays = 30
	// ArchiveWeeks caps the weekly archive; older week keys are evicted.
	ArchiveWeeks = 12
	// UnmappedCap bounds the unmapped-entity set; oldest entries are evicted.
	UnmappedCap = 200
)

// Metrics holds the additive per-entity performance counters.
type Metrics struct {
	Clicks          int64   `json:"clicks"`
	Impressions     int64   `json:"impressions"`
	Conversions     int64   `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
}

// Add accumulates other into m.
func (m *Metrics) Add(other Metrics) {
	m.Clicks += other.Clicks
	m.Impressions += other.Impressions
	m.Conversions += other.Conversions
	m.ConversionValue += other.ConversionValue
}

// Sub removes other from m. Used when a previously folded day is replaced.
func (m *Metrics) Sub(other Metrics) {
	m.Clicks -= other.Clicks
	m.Impressions -= other.Impressions
	m.Conversions -= other.Conversions
	m.ConversionValue -= other.ConversionValue
}

// IsZero reports whether every counter is zero.
func (m Metrics) IsZero() bool {
	return m.Clicks == 0 && m.Impressions == 0 && m.Conversions == 0 && m.ConversionValue == 0
}

// CompiledMetrics is the read-side shape: accumulated counters plus rates
// derived at read time. Rates are never stored.
type CompiledMetrics struct {
	Metrics
	ClickThroughRate float64 `json:"click_through_rate"`
	ConversionRate   float64 `json:"conversion_rate"`
}

// Compile derives the read-time rates from accumulated counters.
func (m Metrics) Compile() CompiledMetrics {
	compiled := CompiledMetrics{Metrics: m}
	if m.Impressions > 0 {
		compiled.ClickThroughRate = float64(m.Clicks) / float64(m.Impressions) * 100
	}
	if m.Clicks > 0 {
		compiled.ConversionRate = float64(m.Conversions) / float64(m.Clicks) * 100
	}
	return compiled
}

// DailyBucket holds one calendar day of per-entity metrics. A day's bucket is
// overwritten wholesale on each ingestion run, so re-running an import for a
// day replaces rather than adds.
type DailyBucket struct {
	Date    string            `json:"date"`
	Entries map[int64]Metrics `json:"entries"`
}

// WeekKey identifies a weekly archive bucket by ISO-8601 year and week number.
type WeekKey struct {
	Year int `json:"year"`
	Week int `json:"week"`
}

// WeekKeyFor derives the ISO-8601 week key for a calendar day.
func WeekKeyFor(day time.Time) WeekKey {
	year, week := day.ISOWeek()
	return WeekKey{Year: year, Week: week}
}

// String renders the key as "2026-W35" for logs and storage keys.
func (k WeekKey) String() string {
	return fmt.Sprintf("%04d-W%02d", k.Year, k.Week)
}

// Before orders week keys chronologically.
func (k WeekKey) Before(other WeekKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Week < other.Week
}

// WeeklyBucket is the archival aggregate of all daily buckets folded into one
// ISO week. Entries are additive accumulations. FoldedDays keeps each day's
// contribution so re-folding a day replaces its prior contribution instead of
// double-counting.
type WeeklyBucket struct {
	Key        WeekKey                      `json:"key"`
	Entries    map[int64]Metrics            `json:"entries"`
	FoldedDays map[string]map[int64]Metrics `json:"folded_days"`
}

// Fold accumulates a day's entries into the weekly totals. If the day was
// folded before, its previous contribution is subtracted first; folding the
// same data twice therefore leaves the totals unchanged.
func (w *WeeklyBucket) Fold(date string, entries map[int64]Metrics) {
	if w.Entries == nil {
		w.Entries = make(map[int64]Metrics)
	}
	if w.FoldedDays == nil {
		w.FoldedDays = make(map[string]map[int64]Metrics)
	}

	if previous, ok := w.FoldedDays[date]; ok {
		for entityID, m := range previous {
			total := w.Entries[entityID]
			total.Sub(m)
			if total.IsZero() {
				delete(w.Entries, entityID)
			} else {
				w.Entries[entityID] = total
			}
		}
	}

	contribution := make(map[int64]Metrics, len(entries))
	for entityID, m := range entries {
		contribution[entityID] = m
		total := w.Entries[entityID]
		total.Add(m)
		w.Entries[entityID] = total
	}
	w.FoldedDays[date] = contribution
}

// UnmappedEntity is a remote record whose identifier resolved to no local
// entity. Deduplicated by RemoteOfferID and size-capped.
type UnmappedEntity struct {
	RemoteOfferID string    `json:"remote_offer_id"`
	DisplayName   string    `json:"display_name"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}

// PricingEntry is one row of the latest pricing dataset after identity
// resolution. EntityID is zero for rows that resolved to no local entity.
type PricingEntry struct {
	RemoteOfferID  string  `json:"remote_offer_id"`
	EntityID       int64   `json:"entity_id,omitempty"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
	BenchmarkPrice float64 `json:"benchmark_price"`
}

// PricingSnapshot is the most recent pricing dataset. Pricing is a point-in-
// time view, not a time series; each successful fetch replaces the snapshot.
type PricingSnapshot struct {
	FetchedAt time.Time      `json:"fetched_at"`
	Entries   []PricingEntry `json:"entries"`
}

// ImportStatus enumerates bulk backfill states.
type ImportStatus string

const (
	ImportNotStarted ImportStatus = "not_started"
	ImportRunning    ImportStatus = "running"
	ImportCompleted  ImportStatus = "completed"
	ImportError      ImportStatus = "error"
)

// Bulk backfill shape: the first activation covers the oldest-to-newest
// 90-day window in fixed 10-day batches.
const (
	BackfillDays      = 90
	BackfillBatchDays = 10
	BackfillBatches   = BackfillDays / BackfillBatchDays
)

// ImportProgress is the persisted state of the one-time bulk backfill. It is
// written after every batch so a crash mid-run resumes from the last
// completed batch.
type ImportProgress struct {
	Status            ImportStatus `json:"status"`
	CurrentBatch      int          `json:"current_batch"`
	TotalBatches      int          `json:"total_batches"`
	ProductsProcessed int          `json:"products_processed"`
	Errors            []string     `json:"errors"`
	StartedAt         time.Time    `json:"started_at,omitempty"`
	FinishedAt        time.Time    `json:"finished_at,omitempty"`
}
