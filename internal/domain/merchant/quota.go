package merchant

import (
	"context"
	"sync"
	"time"
)

// Tier identifies the subscription level that selects the daily call limit.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Daily call limits per subscription tier.
var tierLimits = map[Tier]int{
	TierFree:     1000,
	TierStandard: 10000,
	TierPremium:  50000,
}

// admissionThreshold is the fraction of the daily limit at which Admit starts
// refusing expensive remote calls.
const admissionThreshold = 0.95

// DayFormat is the calendar-day key used for quota counters and analytics buckets.
const DayFormat = "2006-01-02"

// QuotaCounter is the per-day usage record. ResetAt is always the next local
// midnight after Date; a counter read after ResetAt is stale and must be
// replaced, never accumulated onto.
type QuotaCounter struct {
	Date     string         `json:"date"`
	Total    int            `json:"total"`
	ByAction map[string]int `json:"by_action"`
	ResetAt  time.Time      `json:"reset_at"`
}

// QuotaStatus is the read-only snapshot exposed to the admin surface.
type QuotaStatus struct {
	Used       int            `json:"used"`
	Limit      int            `json:"limit"`
	Remaining  int            `json:"remaining"`
	Percentage float64        `json:"percentage"`
	ByAction   map[string]int `json:"by_action"`
	ResetAt    time.Time      `json:"reset_at"`
}

// QuotaStore persists the counter so usage survives restarts and is readable
// by the admin surface without the gate running.
type QuotaStore interface {
	LoadQuotaCounter(ctx context.Context) (*QuotaCounter, error)
	SaveQuotaCounter(ctx context.Context, counter *QuotaCounter) error
}

// QuotaGate tracks calls-per-day against the tier limit and gates admission
// of expensive remote calls. All read-modify-write cycles on the counter run
// under a single mutex so concurrent recorders cannot lose updates or double
// a day rollover.
type QuotaGate struct {
	mu      sync.Mutex
	tier    Tier
	clock   Clock
	store   QuotaStore
	counter QuotaCounter
}

// NewQuotaGate creates a gate for the given tier. store may be nil in tests.
func NewQuotaGate(tier Tier, store QuotaStore, clock Clock) *QuotaGate {
	if _, ok := tierLimits[tier]; !ok {
		tier = TierFree
	}
	if clock == nil {
		clock = SystemClock{}
	}
	g := &QuotaGate{tier: tier, clock: clock, store: store}
	g.counter = freshCounter(clock.Now())
	return g
}

// Restore loads the persisted counter, discarding it if its reset time has
// already passed.
func (g *QuotaGate) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	counter, err := g.store.LoadQuotaCounter(ctx)
	if err != nil {
		return err
	}
	if counter == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clock.Now().Before(counter.ResetAt) {
		if counter.ByAction == nil {
			counter.ByAction = make(map[string]int)
		}
		g.counter = *counter
	}
	return nil
}

// Limit returns the daily call limit for the gate's tier.
func (g *QuotaGate) Limit() int {
	return tierLimits[g.tier]
}

// RecordUsage increments the counter by cost for the given action. On the
// first call of a new local day the counter resets to cost instead of
// accumulating onto the stale total.
func (g *QuotaGate) RecordUsage(ctx context.Context, action string, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	g.counter.Total += cost
	g.counter.ByAction[action] += cost

	if g.store != nil {
		snapshot := g.snapshotLocked()
		return g.store.SaveQuotaCounter(ctx, &snapshot)
	}
	return nil
}

// Admit reports whether a remote call for the given action may proceed.
// It returns a quota_exceeded error carrying the reset time once usage
// reaches 95% of the daily limit. Admit never mutates the counter.
func (g *QuotaGate) Admit(action string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	limit := tierLimits[g.tier]
	if float64(g.counter.Total) >= float64(limit)*admissionThreshold {
		return NewQuotaExceededError(action, g.counter.ResetAt)
	}
	return nil
}

// Status returns a snapshot of current usage for the admin surface.
func (g *QuotaGate) Status() QuotaStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	limit := tierLimits[g.tier]
	byAction := make(map[string]int, len(g.counter.ByAction))
	for action, count := range g.counter.ByAction {
		byAction[action] = count
	}
	return QuotaStatus{
		Used:       g.counter.Total,
		Limit:      limit,
		Remaining:  limit - g.counter.Total,
		Percentage: float64(g.counter.Total) / float64(limit) * 100,
		ByAction:   byAction,
		ResetAt:    g.counter.ResetAt,
	}
}

// rolloverLocked replaces the counter when the local day has changed.
// Callers must hold g.mu.
func (g *QuotaGate) rolloverLocked() {
	now := g.clock.Now()
	if now.Format(DayFormat) != g.counter.Date || !now.Before(g.counter.ResetAt) {
		g.counter = freshCounter(now)
	}
}

func (g *QuotaGate) snapshotLocked() QuotaCounter {
	byAction := make(map[string]int, len(g.counter.ByAction))
	for action, count := range g.counter.ByAction {
		byAction[action] = count
	}
	return QuotaCounter{
		Date:     g.counter.Date,
		Total:    g.counter.Total,
		ByAction: byAction,
		ResetAt:  g.counter.ResetAt,
	}
}

// freshCounter builds an empty counter for the day containing now, with
// ResetAt pinned to the next local midnight.
func freshCounter(now time.Time) QuotaCounter {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return QuotaCounter{
		Date:     now.Format(DayFormat),
		ByAction: make(map[string]int),
		ResetAt:  midnight,
	}
}
