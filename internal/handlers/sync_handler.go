package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/services"
)

// SyncStateReader reads persisted reconciler state for the status endpoints.
type SyncStateReader interface {
	GetSyncOutcome(ctx context.Context) (*merchant.SyncOutcome, error)
	ListDroppedItems(ctx context.Context) ([]merchant.DroppedItem, error)
}

// SyncHandler exposes the sync queue and reconciler over the admin API
type SyncHandler struct {
	queue      *services.SyncQueue
	reconciler *services.BatchReconciler
	quota      *merchant.QuotaGate
	state      SyncStateReader
	logger     *zap.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	queue *services.SyncQueue,
	reconciler *services.BatchReconciler,
	quota *merchant.QuotaGate,
	state SyncStateReader,
	logger *zap.Logger,
) *SyncHandler {
	return &SyncHandler{
		queue:      queue,
		reconciler: reconciler,
		quota:      quota,
		state:      state,
		logger:     logger,
	}
}

type enqueueRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// EnqueueProduct queues a product for remote sync
// @Summary Queue a product for sync
// @Tags Sync
// @Param request body enqueueRequest true "Product to queue"
// @Success 202 {object} map[string]interface{}
// @Router /admin/merchant/sync/queue [post]
func (h *SyncHandler) EnqueueProduct(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), req.ProductID); err != nil {
		h.logger.Error("failed to enqueue product", zap.Int64("product_id", req.ProductID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue product"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": req.ProductID})
}

// GetQueue returns the pending queue contents
// @Summary Inspect the sync queue
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Router /admin/merchant/sync/queue [get]
func (h *SyncHandler) GetQueue(c *gin.Context) {
	items, err := h.queue.Items(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"depth": len(items),
		"items": items,
	})
}

// TriggerSync runs one reconciliation pass immediately
// @Summary Trigger a sync run
// @Tags Sync
// @Success 202 {object} map[string]interface{}
// @Router /admin/merchant/sync/run [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	go func() {
		if err := h.reconciler.Run(context.Background()); err != nil {
			h.logger.Error("manual sync run failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sync started"})
}

// GetStatus returns the last reconciler outcome
// @Summary Get sync status
// @Tags Sync
// @Success 200 {object} merchant.SyncOutcome
// @Router /admin/merchant/sync/status [get]
func (h *SyncHandler) GetStatus(c *gin.Context) {
	outcome, err := h.state.GetSyncOutcome(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read sync outcome", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read sync status"})
		return
	}
	if outcome == nil {
		c.JSON(http.StatusOK, gin.H{"status": "never ran"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// GetDropped returns items abandoned after exhausting their retries
// @Summary List permanently dropped items
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Router /admin/merchant/sync/dropped [get]
func (h *SyncHandler) GetDropped(c *gin.Context) {
	items, err := h.state.ListDroppedItems(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read dropped items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read dropped items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped": items})
}

// GetQuota returns the current remote-call quota consumption
// @Summary Get quota status
// @Tags Sync
// @Success 200 {object} merchant.QuotaStatus
// @Router /admin/merchant/sync/quota [get]
func (h *SyncHandler) GetQuota(c *gin.Context) {
	c.JSON(http.StatusOK, h.quota.Status())
}
