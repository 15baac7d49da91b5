package merchant

import (
	"context"

	domain "github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

// Batch result statuses reported per entry by the remote platform.
const (
	BatchStatusSuccess = "success"
	BatchStatusError   = "error"
)

// BatchResult is the per-entry outcome of a batch sync call.
type BatchResult struct {
	EntityID int64  `json:"entity_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// OK reports whether the remote accepted this entry.
func (r BatchResult) OK() bool {
	return r.Status == BatchStatusSuccess
}

type batchSyncPayload struct {
	Entries []domain.BatchEntry `json:"entries"`
}

type batchSyncResponse struct {
	Results []BatchResult `json:"results"`
}

// BatchSync pushes a chunk of catalog entries in a single remote call and
// returns the results keyed by the same entity id used when sending. Entries
// the remote omitted from its results are simply absent from the map; the
// reconciler treats absence as failure.
func (c *Client) BatchSync(ctx context.Context, entries []domain.BatchEntry) (map[int64]BatchResult, error) {
	var resp batchSyncResponse
	if err := c.Call(ctx, ActionBatchSync, batchSyncPayload{Entries: entries}, BulkCallTimeout, &resp); err != nil {
		return nil, err
	}

	results := make(map[int64]BatchResult, len(resp.Results))
	for _, result := range resp.Results {
		results[result.EntityID] = result
	}
	return results, nil
}
