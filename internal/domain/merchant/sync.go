package merchant

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sync queue tuning. A queued item is retried at most MaxRetries times before
// it is dropped and reported as a permanent failure.
const (
	MaxRetries = 5
	ChunkSize  = 500

	// DebounceWindow lets bursts of enqueues coalesce into one batch before
	// the queue drains. FastRetryDelay reschedules immediately-following
	// drains while a multi-chunk backlog remains.
	DebounceWindow = 10 * time.Second
	FastRetryDelay = 3 * time.Second
)

// QueueItem is a unit of pending catalog sync work. EntityID is unique within
// the queue; Attempts counts failed remote outcomes, never local validation
// drops.
type QueueItem struct {
	EntityID int64 `json:"entity_id"`
	Attempts int   `json:"attempts"`
}

// NormalizeQueueEntries decodes a persisted queue document. Legacy writers
// stored bare entity ids; current writers store structured items. Both forms
// are accepted here, once, at the storage boundary. Duplicate ids keep the
// first occurrence.
func NormalizeQueueEntries(raw []byte) ([]QueueItem, error) {
	if len(raw) == 0 {
		return []QueueItem{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("queue document is not a JSON array: %w", err)
	}

	items := make([]QueueItem, 0, len(entries))
	seen := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		var item QueueItem
		if err := json.Unmarshal(entry, &item); err != nil {
			// Legacy form: a bare numeric entity id.
			var id int64
			if err := json.Unmarshal(entry, &id); err != nil {
				return nil, fmt.Errorf("unrecognized queue entry %s", string(entry))
			}
			item = QueueItem{EntityID: id}
		}
		if item.Attempts < 0 {
			item.Attempts = 0
		}
		if seen[item.EntityID] {
			continue
		}
		seen[item.EntityID] = true
		items = append(items, item)
	}
	return items, nil
}

// BatchEntry is the per-entity payload of one batch_sync call, derived from
// the queue item and the current catalog state. It is never persisted.
type BatchEntry struct {
	EntityID     int64   `json:"entity_id"`
	SKU          string  `json:"sku"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Availability string  `json:"availability"`
	Locale       string  `json:"locale"`
	Country      string  `json:"country"`
}

// Validate rejects entries that must be excluded from a batch. Invalid
// entries are dropped without incrementing attempts; they are not remote
// failures.
func (e *BatchEntry) Validate() error {
	if e.EntityID <= 0 {
		return NewValidationError("entity id must be positive")
	}
	if e.Price < 0 {
		return NewValidationError(fmt.Sprintf("entity %d has negative price %.2f", e.EntityID, e.Price))
	}
	return nil
}

// DroppedItem records a queue item abandoned at the retry ceiling, kept on a
// durable surface so the admin UI can display permanent failures.
type DroppedItem struct {
	EntityID  int64     `json:"entity_id"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

// SyncOutcome is the durable record of the most recent reconciler run.
type SyncOutcome struct {
	RunID         string    `json:"run_id"`
	Sent          int       `json:"sent"`
	Succeeded     int       `json:"succeeded"`
	Requeued      int       `json:"requeued"`
	Dropped       int       `json:"dropped"`
	LastError     string    `json:"last_error,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	RanAt         time.Time `json:"ran_at"`
}
