package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/repository"
	"github.com/niaga-platform/service-merchant/internal/services"
)

// AnalyticsHandler exposes compiled analytics, the pricing snapshot, and
// mapping overrides over the admin API
type AnalyticsHandler struct {
	ingest   *services.AnalyticsIngestService
	unmapped *services.UnmappedTracker
	mappings *repository.MappingRepository
	logger   *zap.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(
	ingest *services.AnalyticsIngestService,
	unmapped *services.UnmappedTracker,
	mappings *repository.MappingRepository,
	logger *zap.Logger,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		ingest:   ingest,
		unmapped: unmapped,
		mappings: mappings,
		logger:   logger,
	}
}

// GetAnalytics returns compiled per-product metrics for a date range
// @Summary Get compiled analytics
// @Tags Analytics
// @Param start_date query string false "Start date (YYYY-MM-DD)"
// @Param end_date query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/merchant/analytics [get]
func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	now := time.Now()
	startDateStr := c.DefaultQuery("start_date", now.AddDate(0, 0, -30).Format(merchant.DayFormat))
	endDateStr := c.DefaultQuery("end_date", now.Format(merchant.DayFormat))

	startDate, err := time.Parse(merchant.DayFormat, startDateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date format"})
		return
	}
	endDate, err := time.Parse(merchant.DayFormat, endDateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date format"})
		return
	}
	if endDate.Before(startDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date precedes start_date"})
		return
	}

	compiled, err := h.ingest.Compile(c.Request.Context(), startDate, endDate)
	if err != nil {
		h.logger.Error("failed to compile analytics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compile analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date_range": gin.H{
			"start": startDateStr,
			"end":   endDateStr,
		},
		"products": compiled,
	})
}

// GetIngestStatus returns the current ingestion phase and last outcome
// @Summary Get ingestion status
// @Tags Analytics
// @Success 200 {object} services.IngestStatus
// @Router /admin/merchant/analytics/status [get]
func (h *AnalyticsHandler) GetIngestStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.ingest.Status())
}

// TriggerIngest runs a daily ingestion pass immediately
// @Summary Trigger analytics ingestion
// @Tags Analytics
// @Success 202 {object} map[string]interface{}
// @Router /admin/merchant/analytics/run [post]
func (h *AnalyticsHandler) TriggerIngest(c *gin.Context) {
	go func() {
		if err := h.ingest.RunDaily(context.Background()); err != nil {
			h.logger.Error("manual ingest run failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "ingestion started"})
}

// GetPricing returns the latest pricing snapshot
// @Summary Get pricing snapshot
// @Tags Analytics
// @Success 200 {object} merchant.PricingSnapshot
// @Router /admin/merchant/analytics/pricing [get]
func (h *AnalyticsHandler) GetPricing(c *gin.Context) {
	snapshot, err := h.ingest.PricingSnapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read pricing snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read pricing snapshot"})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetUnmapped returns remote offers lacking a local mapping
// @Summary List unmapped offers
// @Tags Analytics
// @Success 200 {object} map[string]interface{}
// @Router /admin/merchant/analytics/unmapped [get]
func (h *AnalyticsHandler) GetUnmapped(c *gin.Context) {
	entities := h.unmapped.List()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(entities),
		"unmapped": entities,
	})
}

type mappingRequest struct {
	RemoteOfferID string `json:"remote_offer_id" binding:"required"`
	ProductID     int64  `json:"product_id" binding:"required"`
}

// CreateMapping adds a manual remote-offer to product mapping override
// @Summary Create mapping override
// @Tags Analytics
// @Param request body mappingRequest true "Mapping to create"
// @Success 201 {object} map[string]interface{}
// @Router /admin/merchant/analytics/mappings [post]
func (h *AnalyticsHandler) CreateMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remote_offer_id and product_id are required"})
		return
	}

	if err := h.mappings.Upsert(c.Request.Context(), req.RemoteOfferID, req.ProductID); err != nil {
		h.logger.Error("failed to create mapping override", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create mapping"})
		return
	}
	if err := h.unmapped.Resolve(c.Request.Context(), req.RemoteOfferID); err != nil {
		h.logger.Warn("failed to clear unmapped entry", zap.String("remote_offer_id", req.RemoteOfferID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"remote_offer_id": req.RemoteOfferID,
		"product_id":      req.ProductID,
	})
}

// DeleteMapping removes a mapping override
// @Summary Delete mapping override
// @Tags Analytics
// @Param remote_offer_id path string true "Remote offer ID"
// @Success 204
// @Router /admin/merchant/analytics/mappings/{remote_offer_id} [delete]
func (h *AnalyticsHandler) DeleteMapping(c *gin.Context) {
	remoteOfferID := c.Param("remote_offer_id")
	if remoteOfferID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remote_offer_id is required"})
		return
	}

	if err := h.mappings.Delete(c.Request.Context(), remoteOfferID); err != nil {
		h.logger.Error("failed to delete mapping override", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete mapping"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMappings returns all mapping overrides
// @Summary List mapping overrides
// @Tags Analytics
// @Success 200 {object} map[string]interface{}
// @Router /admin/merchant/analytics/mappings [get]
func (h *AnalyticsHandler) ListMappings(c *gin.Context) {
	mappings, err := h.mappings.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list mapping overrides", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list mappings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}
