package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

type memImportStore struct {
	progress  *merchant.ImportProgress
	completed bool
	saves     int
}

func (s *memImportStore) GetProgress(ctx context.Context) (*merchant.ImportProgress, error) {
	if s.progress == nil {
		return &merchant.ImportProgress{Status: merchant.ImportNotStarted}, nil
	}
	copied := *s.progress
	return &copied, nil
}

func (s *memImportStore) SaveProgress(ctx context.Context, progress *merchant.ImportProgress) error {
	copied := *progress
	s.progress = &copied
	s.saves++
	return nil
}

func (s *memImportStore) Completed(ctx context.Context) (bool, error) {
	return s.completed, nil
}

func (s *memImportStore) MarkCompleted(ctx context.Context, at time.Time) error {
	s.completed = true
	return nil
}

func newImportFixture(t *testing.T) (*BulkImportService, *ingestFixture, *memImportStore, *fakeNotifier) {
	t.Helper()
	fx := newIngestFixture(t)
	store := &memImportStore{}
	notifier := &fakeNotifier{}
	importer := NewBulkImportService(fx.service, store, notifier, fx.clock, 0, zap.NewNop())
	return importer, fx, store, notifier
}

func TestRunCompletesAllBatches(t *testing.T) {
	importer, fx, store, notifier := newImportFixture(t)

	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !store.completed {
		t.Fatalf("expected the completion flag set")
	}
	if store.progress.Status != merchant.ImportCompleted {
		t.Fatalf("expected completed status, got %s", store.progress.Status)
	}
	if store.progress.CurrentBatch != merchant.BackfillBatches {
		t.Fatalf("expected all %d batches done, got %d", merchant.BackfillBatches, store.progress.CurrentBatch)
	}
	if got := len(fx.fetcher.perfCalls); got != merchant.BackfillDays {
		t.Fatalf("expected %d per-day fetches, got %d", merchant.BackfillDays, got)
	}
	// Oldest day first: today-90.
	first := fx.clock.now.AddDate(0, 0, -merchant.BackfillDays).Format(merchant.DayFormat)
	if fx.fetcher.perfCalls[0] != first {
		t.Fatalf("expected the window to open at %s, got %s", first, fx.fetcher.perfCalls[0])
	}
	last := fx.clock.now.AddDate(0, 0, -1).Format(merchant.DayFormat)
	if fx.fetcher.perfCalls[len(fx.fetcher.perfCalls)-1] != last {
		t.Fatalf("expected the window to close at %s, got %s", last, fx.fetcher.perfCalls[len(fx.fetcher.perfCalls)-1])
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected a completion notification, got %d", len(notifier.calls))
	}
}

func TestRunStopsOnBatchFailureAndKeepsEarlierData(t *testing.T) {
	importer, fx, store, notifier := newImportFixture(t)
	// Fail partway through the fifth batch.
	windowStart := fx.clock.now.AddDate(0, 0, -merchant.BackfillDays)
	failDay := windowStart.AddDate(0, 0, 4*merchant.BackfillBatchDays+3).Format(merchant.DayFormat)
	fx.fetcher.failOnDay = failDay

	if err := importer.Run(context.Background()); err == nil {
		t.Fatalf("expected the batch failure to surface")
	}

	if store.completed {
		t.Fatalf("completion flag must not be set on failure")
	}
	if store.progress.Status != merchant.ImportError {
		t.Fatalf("expected error status, got %s", store.progress.Status)
	}
	if store.progress.CurrentBatch != 4 {
		t.Fatalf("expected four completed batches, got %d", store.progress.CurrentBatch)
	}
	if len(store.progress.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %+v", store.progress.Errors)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("no notification on failure, got %d", len(notifier.calls))
	}
}

func TestRunResumesFromLastCompletedBatch(t *testing.T) {
	importer, fx, store, _ := newImportFixture(t)
	failDay := fx.clock.now.AddDate(0, 0, -merchant.BackfillDays+4*merchant.BackfillBatchDays+3).Format(merchant.DayFormat)
	fx.fetcher.failOnDay = failDay
	if err := importer.Run(context.Background()); err == nil {
		t.Fatalf("expected the seeded failure")
	}

	callsBeforeResume := len(fx.fetcher.perfCalls)
	fx.fetcher.failOnDay = ""
	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if !store.completed {
		t.Fatalf("expected completion after resume")
	}
	// The resume starts at batch five; the four finished batches are not
	// refetched.
	resumed := fx.fetcher.perfCalls[callsBeforeResume:]
	windowStart := fx.clock.now.AddDate(0, 0, -merchant.BackfillDays)
	expectedFirst := windowStart.AddDate(0, 0, 4*merchant.BackfillBatchDays).Format(merchant.DayFormat)
	if resumed[0] != expectedFirst {
		t.Fatalf("expected resume from %s, got %s", expectedFirst, resumed[0])
	}
}

func TestRunIfNeededSkipsWhenCompleted(t *testing.T) {
	importer, fx, store, _ := newImportFixture(t)
	store.completed = true

	if err := importer.RunIfNeeded(context.Background()); err != nil {
		t.Fatalf("run-if-needed failed: %v", err)
	}
	if len(fx.fetcher.perfCalls) != 0 {
		t.Fatalf("completed import must not refetch, got %d calls", len(fx.fetcher.perfCalls))
	}
}
