package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/monitoring"
	provider "github.com/niaga-platform/service-merchant/internal/providers/merchant"
)

// Ingest run phases, exposed for the status endpoint.
const (
	PhaseIdle             = "idle"
	PhaseFetchingProducts = "fetching_products"
	PhaseFetchingPricing  = "fetching_pricing"
	PhaseMapping          = "mapping"
	PhaseStoring          = "storing"
	PhaseDone             = "done"
	PhaseError            = "error"
)

// AnalyticsFetcher pulls the remote analytics datasets.
type AnalyticsFetcher interface {
	FetchPerformance(ctx context.Context, start, end time.Time) ([]provider.PerformanceRecord, error)
	FetchPricing(ctx context.Context, start, end time.Time) ([]provider.PricingRecord, error)
}

// AnalyticsStore persists daily buckets and the weekly archive.
type AnalyticsStore interface {
	GetDaily(ctx context.Context, date string) (*merchant.DailyBucket, error)
	SaveDaily(ctx context.Context, bucket *merchant.DailyBucket) error
	DeleteDaily(ctx context.Context, date string) error
	ListDailyRange(ctx context.Context, start, end string) ([]merchant.DailyBucket, error)
	ListDailyOlderThan(ctx context.Context, cutoff string) ([]merchant.DailyBucket, error)
	GetWeekly(ctx context.Context, key merchant.WeekKey) (*merchant.WeeklyBucket, error)
	SaveWeekly(ctx context.Context, bucket *merchant.WeeklyBucket) error
	ListWeekly(ctx context.Context) ([]merchant.WeeklyBucket, error)
	PruneWeekly(ctx context.Context, keep int) error
}

// SKUResolver resolves a remote SKU to a local entity id, 0 when unknown.
type SKUResolver interface {
	ResolveSKU(ctx context.Context, sku string) (int64, error)
}

// OverrideStore exposes operator-managed identity overrides.
type OverrideStore interface {
	LookupAll(ctx context.Context) (map[string]int64, error)
}

// PricingStore persists the latest pricing snapshot.
type PricingStore interface {
	LoadPricingSnapshot(ctx context.Context) (*merchant.PricingSnapshot, error)
	SavePricingSnapshot(ctx context.Context, snapshot *merchant.PricingSnapshot) error
}

// CompiledCache caches compiled range reads; writes invalidate it.
type CompiledCache interface {
	Get(ctx context.Context, start, end string) (map[int64]merchant.CompiledMetrics, bool)
	Set(ctx context.Context, start, end string, compiled map[int64]merchant.CompiledMetrics)
	InvalidateAll(ctx context.Context)
}

// AnalyticsIngestService pulls remote performance and pricing data, resolves
// remote offers to local entities, and maintains the two-tier time series:
// a 30-day rolling window of daily buckets and a 12-week archive beneath it.
type AnalyticsIngestService struct {
	fetcher   AnalyticsFetcher
	store     AnalyticsStore
	resolver  SKUResolver
	overrides OverrideStore
	pricing   PricingStore
	unmapped  *UnmappedTracker
	cache     CompiledCache
	metrics   *monitoring.Metrics
	clock     merchant.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	phase     string
	lastRunAt time.Time
	lastError string
}

// NewAnalyticsIngestService wires the ingestion pipeline. cache and metrics
// may be nil.
func NewAnalyticsIngestService(
	fetcher AnalyticsFetcher,
	store AnalyticsStore,
	resolver SKUResolver,
	overrides OverrideStore,
	pricing PricingStore,
	unmapped *UnmappedTracker,
	cache CompiledCache,
	metrics *monitoring.Metrics,
	clock merchant.Clock,
	logger *zap.Logger,
) *AnalyticsIngestService {
	if clock == nil {
		clock = merchant.SystemClock{}
	}
	return &AnalyticsIngestService{
		fetcher:   fetcher,
		store:     store,
		resolver:  resolver,
		overrides: overrides,
		pricing:   pricing,
		unmapped:  unmapped,
		cache:     cache,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		phase:     PhaseIdle,
	}
}

// IngestStatus is the status endpoint shape.
type IngestStatus struct {
	Phase     string    `json:"phase"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Status returns the current run phase and last outcome.
func (s *AnalyticsIngestService) Status() IngestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IngestStatus{Phase: s.phase, LastRunAt: s.lastRunAt, LastError: s.lastError}
}

func (s *AnalyticsIngestService) setPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

func (s *AnalyticsIngestService) finishRun(err error) {
	s.mu.Lock()
	s.lastRunAt = s.clock.Now()
	if err != nil {
		s.phase = PhaseError
		s.lastError = err.Error()
	} else {
		s.phase = PhaseDone
		s.lastError = ""
	}
	s.mu.Unlock()

	if s.metrics != nil {
		result := "success"
		if err != nil {
			result = "failure"
		}
		s.metrics.IngestRunsTotal.WithLabelValues(result).Inc()
	}
}

// RunDaily is the scheduled ingestion: it ingests yesterday's performance
// data, refreshes the pricing snapshot, folds aged daily buckets into the
// archive, and flushes unmapped alerts. A pricing failure does not fail the
// run; the snapshot is a convenience view, the time series is the product.
func (s *AnalyticsIngestService) RunDaily(ctx context.Context) error {
	yesterday := s.clock.Now().AddDate(0, 0, -1)
	err := s.ingestRun(ctx, yesterday, yesterday, true)
	s.finishRun(err)
	if err != nil {
		return err
	}

	if err := s.ArchiveAged(ctx); err != nil {
		s.logger.Error("archive maintenance failed", zap.Error(err))
	}
	if s.unmapped != nil {
		if err := s.unmapped.NotifyPending(ctx); err != nil {
			s.logger.Warn("failed to send unmapped alert", zap.Error(err))
		}
	}
	return nil
}

// IngestRange pulls performance data for each day in [start, end] and stores
// one daily bucket per day. Used by the bulk backfill; pricing is skipped
// there since only the latest snapshot is meaningful. Returns the number of
// distinct entities seen.
func (s *AnalyticsIngestService) IngestRange(ctx context.Context, start, end time.Time) (int, error) {
	seen := make(map[int64]struct{})
	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return 0, err
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return len(seen), err
		}
		bucket, err := s.ingestDay(ctx, day, overrides)
		if err != nil {
			return len(seen), err
		}
		for entityID := range bucket.Entries {
			seen[entityID] = struct{}{}
		}
	}

	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return len(seen), nil
}

func (s *AnalyticsIngestService) ingestRun(ctx context.Context, start, end time.Time, withPricing bool) error {
	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return err
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, err := s.ingestDay(ctx, day, overrides); err != nil {
			return err
		}
	}

	if withPricing {
		s.setPhase(PhaseFetchingPricing)
		if err := s.refreshPricing(ctx, overrides); err != nil {
			s.logger.Warn("pricing snapshot refresh failed", zap.Error(err))
		}
	}

	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return nil
}

// ingestDay fetches one day of performance data and overwrites that day's
// bucket wholesale. Days older than the rolling window go straight into the
// weekly archive instead of lingering as daily rows.
func (s *AnalyticsIngestService) ingestDay(ctx context.Context, day time.Time, overrides map[string]int64) (*merchant.DailyBucket, error) {
	s.setPhase(PhaseFetchingProducts)
	records, err := s.fetcher.FetchPerformance(ctx, day, day)
	if err != nil {
		return nil, fmt.Errorf("performance fetch for %s: %w", day.Format(merchant.DayFormat), err)
	}

	s.setPhase(PhaseMapping)
	date := day.Format(merchant.DayFormat)
	bucket := &merchant.DailyBucket{Date: date, Entries: make(map[int64]merchant.Metrics)}
	var unknown []merchant.UnmappedEntity

	for _, record := range records {
		entityID, ok := s.resolveOffer(ctx, overrides, record.OfferID)
		if !ok {
			unknown = append(unknown, merchant.UnmappedEntity{
				RemoteOfferID: record.OfferID,
				DisplayName:   record.Title,
			})
			continue
		}
		m := bucket.Entries[entityID]
		m.Add(merchant.Metrics{
			Clicks:          record.Clicks,
			Impressions:     record.Impressions,
			Conversions:     record.Conversions,
			ConversionValue: record.ConversionValue,
		})
		bucket.Entries[entityID] = m
	}

	s.setPhase(PhaseStoring)
	if s.withinWindow(day) {
		if err := s.store.SaveDaily(ctx, bucket); err != nil {
			return nil, err
		}
	} else {
		if err := s.foldIntoArchive(ctx, day, bucket.Entries); err != nil {
			return nil, err
		}
	}

	if s.unmapped != nil && len(unknown) > 0 {
		if err := s.unmapped.Observe(ctx, unknown); err != nil {
			s.logger.Warn("failed to record unmapped offers", zap.Error(err))
		}
	}

	s.logger.Info("ingested analytics day",
		zap.String("date", date),
		zap.Int("records", len(records)),
		zap.Int("entities", len(bucket.Entries)),
		zap.Int("unmapped", len(unknown)),
	)
	return bucket, nil
}

func (s *AnalyticsIngestService) refreshPricing(ctx context.Context, overrides map[string]int64) error {
	today := s.clock.Now()
	records, err := s.fetcher.FetchPricing(ctx, today.AddDate(0, 0, -1), today)
	if err != nil {
		return err
	}

	snapshot := &merchant.PricingSnapshot{
		FetchedAt: s.clock.Now(),
		Entries:   make([]merchant.PricingEntry, 0, len(records)),
	}
	for _, record := range records {
		entityID, _ := s.resolveOffer(ctx, overrides, record.OfferID)
		snapshot.Entries = append(snapshot.Entries, merchant.PricingEntry{
			RemoteOfferID:  record.OfferID,
			EntityID:       entityID,
			Price:          record.Price,
			Currency:       record.Currency,
			BenchmarkPrice: record.BenchmarkPrice,
		})
	}
	return s.pricing.SavePricingSnapshot(ctx, snapshot)
}

// PricingSnapshot returns the latest stored pricing view, or nil.
func (s *AnalyticsIngestService) PricingSnapshot(ctx context.Context) (*merchant.PricingSnapshot, error) {
	return s.pricing.LoadPricingSnapshot(ctx)
}

// resolveOffer maps a remote offer id to a local entity. Overrides win, then
// a SKU lookup against the catalog, then a bare numeric id as a last resort.
func (s *AnalyticsIngestService) resolveOffer(ctx context.Context, overrides map[string]int64, offerID string) (int64, bool) {
	if entityID, ok := overrides[offerID]; ok {
		return entityID, true
	}
	if entityID, err := s.resolver.ResolveSKU(ctx, offerID); err == nil && entityID > 0 {
		return entityID, true
	}
	if entityID, err := strconv.ParseInt(offerID, 10, 64); err == nil && entityID > 0 {
		return entityID, true
	}
	return 0, false
}

func (s *AnalyticsIngestService) loadOverrides(ctx context.Context) (map[string]int64, error) {
	overrides, err := s.overrides.LookupAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping overrides: %w", err)
	}
	return overrides, nil
}

// windowCutoff returns the oldest date (inclusive) still inside the rolling
// window.
func (s *AnalyticsIngestService) windowCutoff() string {
	return s.clock.Now().AddDate(0, 0, -(merchant.RollingWindowDays - 1)).Format(merchant.DayFormat)
}

func (s *AnalyticsIngestService) withinWindow(day time.Time) bool {
	return day.Format(merchant.DayFormat) >= s.windowCutoff()
}

// ArchiveAged folds daily buckets that fell out of the rolling window into
// their ISO week's archive bucket, deletes the daily rows, and prunes the
// archive down to its cap. Folding is idempotent per day, so a crash between
// fold and delete is repaired on the next pass.
func (s *AnalyticsIngestService) ArchiveAged(ctx context.Context) error {
	aged, err := s.store.ListDailyOlderThan(ctx, s.windowCutoff())
	if err != nil {
		return err
	}

	for _, bucket := range aged {
		day, err := time.Parse(merchant.DayFormat, bucket.Date)
		if err != nil {
			s.logger.Error("skipping daily bucket with malformed date", zap.String("date", bucket.Date))
			continue
		}
		if err := s.foldIntoArchive(ctx, day, bucket.Entries); err != nil {
			return err
		}
		if err := s.store.DeleteDaily(ctx, bucket.Date); err != nil {
			return err
		}
	}

	if len(aged) > 0 {
		if err := s.store.PruneWeekly(ctx, merchant.ArchiveWeeks); err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.InvalidateAll(ctx)
		}
		s.logger.Info("archived aged daily buckets", zap.Int("days", len(aged)))
	}
	return nil
}

func (s *AnalyticsIngestService) foldIntoArchive(ctx context.Context, day time.Time, entries map[int64]merchant.Metrics) error {
	key := merchant.WeekKeyFor(day)
	weekly, err := s.store.GetWeekly(ctx, key)
	if err != nil {
		return err
	}
	if weekly == nil {
		weekly = &merchant.WeeklyBucket{Key: key}
	}
	weekly.Fold(day.Format(merchant.DayFormat), entries)
	return s.store.SaveWeekly(ctx, weekly)
}

// Compile aggregates per-entity metrics over [start, end] and derives rates
// at read time. Daily buckets cover the recent window; for older spans the
// per-day contributions retained in the weekly archive are used, so a range
// straddling the window boundary never double-counts a day.
func (s *AnalyticsIngestService) Compile(ctx context.Context, start, end time.Time) (map[int64]merchant.CompiledMetrics, error) {
	startDate := start.Format(merchant.DayFormat)
	endDate := end.Format(merchant.DayFormat)

	if s.cache != nil {
		if compiled, ok := s.cache.Get(ctx, startDate, endDate); ok {
			return compiled, nil
		}
	}

	totals := make(map[int64]merchant.Metrics)
	counted := make(map[string]struct{})

	dailies, err := s.store.ListDailyRange(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}
	for _, bucket := range dailies {
		counted[bucket.Date] = struct{}{}
		for entityID, m := range bucket.Entries {
			total := totals[entityID]
			total.Add(m)
			totals[entityID] = total
		}
	}

	weeklies, err := s.store.ListWeekly(ctx)
	if err != nil {
		return nil, err
	}
	for _, weekly := range weeklies {
		for date, dayEntries := range weekly.FoldedDays {
			if date < startDate || date > endDate {
				continue
			}
			if _, ok := counted[date]; ok {
				continue
			}
			counted[date] = struct{}{}
			for entityID, m := range dayEntries {
				total := totals[entityID]
				total.Add(m)
				totals[entityID] = total
			}
		}
	}

	compiled := make(map[int64]merchant.CompiledMetrics, len(totals))
	for entityID, m := range totals {
		compiled[entityID] = m.Compile()
	}

	if s.cache != nil {
		s.cache.Set(ctx, startDate, endDate, compiled)
	}
	return compiled, nil
}
