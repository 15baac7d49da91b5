package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	provider "github.com/niaga-platform/service-merchant/internal/providers/merchant"
)

// fakeAnalyticsFetcher serves performance records keyed by day.
type fakeAnalyticsFetcher struct {
	performance map[string][]provider.PerformanceRecord
	pricing     []provider.PricingRecord
	perfErr     error
	failOnDay   string
	pricingErr  error
	perfCalls   []string
}

func (f *fakeAnalyticsFetcher) FetchPerformance(ctx context.Context, start, end time.Time) ([]provider.PerformanceRecord, error) {
	day := start.Format(merchant.DayFormat)
	f.perfCalls = append(f.perfCalls, day)
	if f.perfErr != nil {
		return nil, f.perfErr
	}
	if f.failOnDay != "" && day == f.failOnDay {
		return nil, errors.New("remote refused " + day)
	}
	return f.performance[start.Format(merchant.DayFormat)], nil
}

func (f *fakeAnalyticsFetcher) FetchPricing(ctx context.Context, start, end time.Time) ([]provider.PricingRecord, error) {
	if f.pricingErr != nil {
		return nil, f.pricingErr
	}
	return f.pricing, nil
}

// memAnalyticsStore keeps buckets in maps, mimicking the repository.
type memAnalyticsStore struct {
	dailies  map[string]*merchant.DailyBucket
	weeklies map[merchant.WeekKey]*merchant.WeeklyBucket
	pruned   int
}

func newMemAnalyticsStore() *memAnalyticsStore {
	return &memAnalyticsStore{
		dailies:  make(map[string]*merchant.DailyBucket),
		weeklies: make(map[merchant.WeekKey]*merchant.WeeklyBucket),
	}
}

func (s *memAnalyticsStore) GetDaily(ctx context.Context, date string) (*merchant.DailyBucket, error) {
	return s.dailies[date], nil
}

func (s *memAnalyticsStore) SaveDaily(ctx context.Context, bucket *merchant.DailyBucket) error {
	s.dailies[bucket.Date] = bucket
	return nil
}

func (s *memAnalyticsStore) DeleteDaily(ctx context.Context, date string) error {
	delete(s.dailies, date)
	return nil
}

func (s *memAnalyticsStore) ListDailyRange(ctx context.Context, start, end string) ([]merchant.DailyBucket, error) {
	var out []merchant.DailyBucket
	for date, bucket := range s.dailies {
		if date >= start && date <= end {
			out = append(out, *bucket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *memAnalyticsStore) ListDailyOlderThan(ctx context.Context, cutoff string) ([]merchant.DailyBucket, error) {
	var out []merchant.DailyBucket
	for date, bucket := range s.dailies {
		if date < cutoff {
			out = append(out, *bucket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *memAnalyticsStore) GetWeekly(ctx context.Context, key merchant.WeekKey) (*merchant.WeeklyBucket, error) {
	return s.weeklies[key], nil
}

func (s *memAnalyticsStore) SaveWeekly(ctx context.Context, bucket *merchant.WeeklyBucket) error {
	s.weeklies[bucket.Key] = bucket
	return nil
}

func (s *memAnalyticsStore) ListWeekly(ctx context.Context) ([]merchant.WeeklyBucket, error) {
	var out []merchant.WeeklyBucket
	for _, bucket := range s.weeklies {
		out = append(out, *bucket)
	}
	return out, nil
}

func (s *memAnalyticsStore) PruneWeekly(ctx context.Context, keep int) error {
	s.pruned++
	return nil
}

type fakeResolver struct {
	bySKU map[string]int64
}

func (f *fakeResolver) ResolveSKU(ctx context.Context, sku string) (int64, error) {
	if id, ok := f.bySKU[sku]; ok {
		return id, nil
	}
	return 0, errors.New("not found")
}

type fakeOverrides struct {
	mappings map[string]int64
}

func (f *fakeOverrides) LookupAll(ctx context.Context) (map[string]int64, error) {
	return f.mappings, nil
}

type memPricingStore struct {
	snapshot *merchant.PricingSnapshot
}

func (s *memPricingStore) LoadPricingSnapshot(ctx context.Context) (*merchant.PricingSnapshot, error) {
	return s.snapshot, nil
}

func (s *memPricingStore) SavePricingSnapshot(ctx context.Context, snapshot *merchant.PricingSnapshot) error {
	s.snapshot = snapshot
	return nil
}

type ingestFixture struct {
	service *AnalyticsIngestService
	fetcher *fakeAnalyticsFetcher
	store   *memAnalyticsStore
	pricing *memPricingStore
	clock   *testClock
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	fetcher := &fakeAnalyticsFetcher{performance: make(map[string][]provider.PerformanceRecord)}
	store := newMemAnalyticsStore()
	pricing := &memPricingStore{}
	clock := &testClock{now: time.Date(2026, 8, 27, 4, 30, 0, 0, time.UTC)}
	service := NewAnalyticsIngestService(
		fetcher,
		store,
		&fakeResolver{bySKU: map[string]int64{"SKU-7": 7}},
		&fakeOverrides{mappings: map[string]int64{"remote-9": 9}},
		pricing,
		nil,
		nil,
		nil,
		clock,
		zap.NewNop(),
	)
	return &ingestFixture{service: service, fetcher: fetcher, store: store, pricing: pricing, clock: clock}
}

func perfRecord(offerID string, clicks, impressions, conversions int64) provider.PerformanceRecord {
	return provider.PerformanceRecord{
		OfferID:     offerID,
		Title:       "Offer " + offerID,
		Clicks:      clicks,
		Impressions: impressions,
		Conversions: conversions,
	}
}

func TestRunDailyStoresYesterdaysBucket(t *testing.T) {
	fx := newIngestFixture(t)
	yesterday := "2026-08-26"
	fx.fetcher.performance[yesterday] = []provider.PerformanceRecord{
		perfRecord("remote-9", 10, 100, 1), // override -> entity 9
		perfRecord("SKU-7", 5, 50, 0),      // catalog lookup -> entity 7
		perfRecord("42", 2, 20, 0),         // numeric fallback -> entity 42
	}

	if err := fx.service.RunDaily(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	bucket := fx.store.dailies[yesterday]
	if bucket == nil {
		t.Fatalf("expected a daily bucket for %s", yesterday)
	}
	if len(bucket.Entries) != 3 {
		t.Fatalf("expected three resolved entities, got %+v", bucket.Entries)
	}
	if m := bucket.Entries[9]; m.Clicks != 10 || m.Impressions != 100 {
		t.Fatalf("override resolution produced wrong metrics: %+v", m)
	}
	if _, ok := bucket.Entries[42]; !ok {
		t.Fatalf("numeric offer id should resolve to entity 42")
	}
	if status := fx.service.Status(); status.Phase != PhaseDone || status.LastError != "" {
		t.Fatalf("unexpected status after a clean run: %+v", status)
	}
}

func TestRunDailyOverwritesExistingBucket(t *testing.T) {
	fx := newIngestFixture(t)
	yesterday := "2026-08-26"
	fx.store.dailies[yesterday] = &merchant.DailyBucket{
		Date:    yesterday,
		Entries: map[int64]merchant.Metrics{9: {Clicks: 999}, 5: {Clicks: 1}},
	}
	fx.fetcher.performance[yesterday] = []provider.PerformanceRecord{
		perfRecord("remote-9", 10, 100, 1),
	}

	if err := fx.service.RunDaily(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	bucket := fx.store.dailies[yesterday]
	if len(bucket.Entries) != 1 || bucket.Entries[9].Clicks != 10 {
		t.Fatalf("re-ingest must overwrite the day wholesale, got %+v", bucket.Entries)
	}
}

func TestRunDailyRecordsFetchFailure(t *testing.T) {
	fx := newIngestFixture(t)
	fx.fetcher.perfErr = merchant.NewTransportError("gmc_analytics_products", errors.New("timeout"))

	if err := fx.service.RunDaily(context.Background()); err == nil {
		t.Fatalf("expected the fetch failure to surface")
	}
	status := fx.service.Status()
	if status.Phase != PhaseError || status.LastError == "" {
		t.Fatalf("expected an error status, got %+v", status)
	}
}

func TestRunDailyToleratesPricingFailure(t *testing.T) {
	fx := newIngestFixture(t)
	fx.fetcher.performance["2026-08-26"] = []provider.PerformanceRecord{perfRecord("42", 1, 10, 0)}
	fx.fetcher.pricingErr = errors.New("pricing unavailable")

	if err := fx.service.RunDaily(context.Background()); err != nil {
		t.Fatalf("a pricing failure must not fail the run: %v", err)
	}
	if fx.store.dailies["2026-08-26"] == nil {
		t.Fatalf("performance data should still be stored")
	}
	if fx.pricing.snapshot != nil {
		t.Fatalf("no snapshot should be written on failure")
	}
}

func TestRefreshPricingResolvesEntities(t *testing.T) {
	fx := newIngestFixture(t)
	fx.fetcher.performance["2026-08-26"] = nil
	fx.fetcher.pricing = []provider.PricingRecord{
		{OfferID: "remote-9", Price: 120, Currency: "IDR", BenchmarkPrice: 110},
		{OfferID: "mystery", Price: 50, Currency: "IDR"},
	}

	if err := fx.service.RunDaily(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	snapshot := fx.pricing.snapshot
	if snapshot == nil || len(snapshot.Entries) != 2 {
		t.Fatalf("expected a two-entry snapshot, got %+v", snapshot)
	}
	if snapshot.Entries[0].EntityID != 9 {
		t.Fatalf("override should resolve the first entry, got %+v", snapshot.Entries[0])
	}
	if snapshot.Entries[1].EntityID != 0 {
		t.Fatalf("unresolvable offers keep a zero entity id, got %+v", snapshot.Entries[1])
	}
}

func TestIngestRangeFetchesEachDay(t *testing.T) {
	fx := newIngestFixture(t)
	fx.fetcher.performance["2026-08-20"] = []provider.PerformanceRecord{perfRecord("42", 1, 10, 0)}
	fx.fetcher.performance["2026-08-21"] = []provider.PerformanceRecord{perfRecord("43", 2, 20, 0)}
	fx.fetcher.performance["2026-08-22"] = []provider.PerformanceRecord{perfRecord("42", 3, 30, 1)}

	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	seen, err := fx.service.IngestRange(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ingest range failed: %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected two distinct entities, got %d", seen)
	}
	if len(fx.fetcher.perfCalls) != 3 {
		t.Fatalf("expected one fetch per day, got %v", fx.fetcher.perfCalls)
	}
	if len(fx.store.dailies) != 3 {
		t.Fatalf("expected three daily buckets, got %d", len(fx.store.dailies))
	}
}

func TestIngestRangeArchivesDaysOutsideWindow(t *testing.T) {
	fx := newIngestFixture(t)
	// 60 days back is well outside the 30-day window.
	old := fx.clock.now.AddDate(0, 0, -60)
	oldDate := old.Format(merchant.DayFormat)
	fx.fetcher.performance[oldDate] = []provider.PerformanceRecord{perfRecord("42", 4, 40, 2)}

	if _, err := fx.service.IngestRange(context.Background(), old, old); err != nil {
		t.Fatalf("ingest range failed: %v", err)
	}

	if len(fx.store.dailies) != 0 {
		t.Fatalf("out-of-window days must not create daily rows, got %v", fx.store.dailies)
	}
	weekly := fx.store.weeklies[merchant.WeekKeyFor(old)]
	if weekly == nil {
		t.Fatalf("expected the day folded into its weekly bucket")
	}
	if m := weekly.Entries[42]; m.Clicks != 4 {
		t.Fatalf("weekly totals missing the folded day: %+v", weekly.Entries)
	}
	if _, ok := weekly.FoldedDays[oldDate]; !ok {
		t.Fatalf("expected a per-day contribution for %s", oldDate)
	}
}

func TestArchiveAgedFoldsAndDeletes(t *testing.T) {
	fx := newIngestFixture(t)
	aged := fx.clock.now.AddDate(0, 0, -40)
	agedDate := aged.Format(merchant.DayFormat)
	recentDate := fx.clock.now.AddDate(0, 0, -5).Format(merchant.DayFormat)

	fx.store.dailies[agedDate] = &merchant.DailyBucket{
		Date:    agedDate,
		Entries: map[int64]merchant.Metrics{7: {Clicks: 6, Impressions: 60}},
	}
	fx.store.dailies[recentDate] = &merchant.DailyBucket{
		Date:    recentDate,
		Entries: map[int64]merchant.Metrics{7: {Clicks: 1, Impressions: 10}},
	}

	if err := fx.service.ArchiveAged(context.Background()); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	if _, ok := fx.store.dailies[agedDate]; ok {
		t.Fatalf("aged daily row should be deleted")
	}
	if _, ok := fx.store.dailies[recentDate]; !ok {
		t.Fatalf("recent daily row must be left alone")
	}
	weekly := fx.store.weeklies[merchant.WeekKeyFor(aged)]
	if weekly == nil || weekly.Entries[7].Clicks != 6 {
		t.Fatalf("expected the aged day folded into the archive, got %+v", weekly)
	}
	if fx.store.pruned != 1 {
		t.Fatalf("expected one archive prune, got %d", fx.store.pruned)
	}
}

func TestCompileMergesDailiesAndArchiveWithoutDoubleCounting(t *testing.T) {
	fx := newIngestFixture(t)

	// A recent day still inside the window.
	fx.store.dailies["2026-08-20"] = &merchant.DailyBucket{
		Date:    "2026-08-20",
		Entries: map[int64]merchant.Metrics{7: {Clicks: 10, Impressions: 100, Conversions: 1}},
	}
	// An archived day, plus the same recent day folded redundantly; the
	// daily row must win.
	weekKey := merchant.WeekKeyFor(time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))
	weekly := &merchant.WeeklyBucket{Key: weekKey}
	weekly.Fold("2026-07-10", map[int64]merchant.Metrics{7: {Clicks: 5, Impressions: 50}})
	fx.store.weeklies[weekKey] = weekly

	recentKey := merchant.WeekKeyFor(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	redundant := &merchant.WeeklyBucket{Key: recentKey}
	redundant.Fold("2026-08-20", map[int64]merchant.Metrics{7: {Clicks: 999}})
	fx.store.weeklies[recentKey] = redundant

	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	compiled, err := fx.service.Compile(context.Background(), start, end)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	m, ok := compiled[7]
	if !ok {
		t.Fatalf("expected metrics for entity 7, got %+v", compiled)
	}
	if m.Clicks != 15 || m.Impressions != 150 {
		t.Fatalf("expected 10+5 clicks without double counting, got %+v", m)
	}
	if m.ClickThroughRate != 10 {
		t.Fatalf("expected CTR derived at read time, got %v", m.ClickThroughRate)
	}
}

func TestCompileExcludesArchivedDaysOutsideRange(t *testing.T) {
	fx := newIngestFixture(t)
	weekKey := merchant.WeekKeyFor(time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))
	weekly := &merchant.WeeklyBucket{Key: weekKey}
	weekly.Fold("2026-07-06", map[int64]merchant.Metrics{7: {Clicks: 3}})
	weekly.Fold("2026-07-10", map[int64]merchant.Metrics{7: {Clicks: 5}})
	fx.store.weeklies[weekKey] = weekly

	// Only 2026-07-10 falls in range even though both days share a week.
	start := time.Date(2026, 7, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 11, 0, 0, 0, 0, time.UTC)
	compiled, err := fx.service.Compile(context.Background(), start, end)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if compiled[7].Clicks != 5 {
		t.Fatalf("expected only the in-range day counted, got %+v", compiled[7])
	}
}

func TestIngestDayTracksUnmappedOffers(t *testing.T) {
	fetcher := &fakeAnalyticsFetcher{performance: map[string][]provider.PerformanceRecord{
		"2026-08-26": {
			perfRecord("42", 1, 10, 0),
			perfRecord("ghost-offer", 9, 90, 0),
		},
	}}
	store := newMemAnalyticsStore()
	unmappedStore := &memUnmappedStore{}
	tracker, err := NewUnmappedTracker(unmappedStore, nil, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("tracker setup failed: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 8, 27, 4, 30, 0, 0, time.UTC)}
	service := NewAnalyticsIngestService(
		fetcher,
		store,
		&fakeResolver{},
		&fakeOverrides{},
		&memPricingStore{},
		tracker,
		nil,
		nil,
		clock,
		zap.NewNop(),
	)

	if err := service.RunDaily(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	unmapped := tracker.List()
	if len(unmapped) != 1 || unmapped[0].RemoteOfferID != "ghost-offer" {
		t.Fatalf("expected ghost-offer tracked as unmapped, got %+v", unmapped)
	}
	bucket := store.dailies["2026-08-26"]
	if len(bucket.Entries) != 1 {
		t.Fatalf("unmapped offers must not reach the bucket, got %+v", bucket.Entries)
	}
}
