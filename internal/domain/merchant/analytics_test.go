package merchant

import (
	"testing"
	"time"
)

func TestMetricsCompileRates(t *testing.T) {
	m := Metrics{Clicks: 50, Impressions: 1000, Conversions: 5, ConversionValue: 250}
	compiled := m.Compile()

	if compiled.ClickThroughRate != 5 {
		t.Fatalf("expected CTR 5, got %v", compiled.ClickThroughRate)
	}
	if compiled.ConversionRate != 10 {
		t.Fatalf("expected CR 10, got %v", compiled.ConversionRate)
	}
}

func TestMetricsCompileZeroDenominators(t *testing.T) {
	compiled := Metrics{Conversions: 3}.Compile()
	if compiled.ClickThroughRate != 0 || compiled.ConversionRate != 0 {
		t.Fatalf("expected zero rates without impressions/clicks, got %+v", compiled)
	}
}

func TestWeekKeyForUsesISOWeeks(t *testing.T) {
	// 2026-01-01 falls in ISO week 1 of 2026; 2027-01-01 falls in ISO week
	// 53 of 2026.
	key := WeekKeyFor(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if key.Year != 2026 || key.Week != 1 {
		t.Fatalf("unexpected week key %+v", key)
	}

	key = WeekKeyFor(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	if key.Year != 2026 || key.Week != 53 {
		t.Fatalf("expected year-end day to map to ISO week 53 of 2026, got %+v", key)
	}

	if got := key.String(); got != "2026-W53" {
		t.Fatalf("unexpected key string %q", got)
	}
}

func TestWeeklyBucketFoldAccumulates(t *testing.T) {
	bucket := WeeklyBucket{Key: WeekKey{Year: 2026, Week: 30}}
	bucket.Fold("2026-07-20", map[int64]Metrics{
		1: {Clicks: 10, Impressions: 100},
		2: {Clicks: 5, Impressions: 50},
	})
	bucket.Fold("2026-07-21", map[int64]Metrics{
		1: {Clicks: 3, Impressions: 30},
	})

	if got := bucket.Entries[1]; got.Clicks != 13 || got.Impressions != 130 {
		t.Fatalf("unexpected accumulated metrics for entity 1: %+v", got)
	}
	if got := bucket.Entries[2]; got.Clicks != 5 {
		t.Fatalf("unexpected metrics for entity 2: %+v", got)
	}
}

func TestWeeklyBucketRefoldReplacesDayContribution(t *testing.T) {
	bucket := WeeklyBucket{Key: WeekKey{Year: 2026, Week: 30}}
	day := map[int64]Metrics{1: {Clicks: 10, Impressions: 100}}

	bucket.Fold("2026-07-20", day)
	bucket.Fold("2026-07-20", day)
	if got := bucket.Entries[1]; got.Clicks != 10 {
		t.Fatalf("double fold should be idempotent, got clicks=%d", got.Clicks)
	}

	// A corrected day replaces its prior contribution entirely.
	bucket.Fold("2026-07-20", map[int64]Metrics{1: {Clicks: 7, Impressions: 70}})
	if got := bucket.Entries[1]; got.Clicks != 7 || got.Impressions != 70 {
		t.Fatalf("refold should replace prior contribution, got %+v", got)
	}
}

func TestWeeklyBucketRefoldDropsVanishedEntities(t *testing.T) {
	bucket := WeeklyBucket{Key: WeekKey{Year: 2026, Week: 30}}
	bucket.Fold("2026-07-20", map[int64]Metrics{
		1: {Clicks: 10},
		2: {Clicks: 4},
	})
	bucket.Fold("2026-07-20", map[int64]Metrics{1: {Clicks: 10}})

	if _, ok := bucket.Entries[2]; ok {
		t.Fatalf("entity absent from the refolded day should be removed")
	}
}

func TestWeekKeyBefore(t *testing.T) {
	a := WeekKey{Year: 2025, Week: 52}
	b := WeekKey{Year: 2026, Week: 1}
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if (WeekKey{Year: 2026, Week: 2}).Before(WeekKey{Year: 2026, Week: 2}) {
		t.Fatalf("a key must not precede itself")
	}
}
