package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/events"
)

// ProductEventHandler enqueues catalog product changes for remote sync.
type ProductEventHandler struct {
	queue  *SyncQueue
	logger *zap.Logger
}

// NewProductEventHandler creates the catalog-event to queue bridge.
func NewProductEventHandler(queue *SyncQueue, logger *zap.Logger) *ProductEventHandler {
	return &ProductEventHandler{queue: queue, logger: logger}
}

// HandleProductChanged queues the changed product. Inactive products still
// sync so the remote side learns about delistings.
func (h *ProductEventHandler) HandleProductChanged(event *events.ProductChangedEvent) error {
	if event.ProductID <= 0 {
		h.logger.Warn("ignoring product event without a valid id", zap.String("sku", event.SKU))
		return nil
	}
	return h.queue.Enqueue(context.Background(), event.ProductID)
}
