package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/services"
)

// ImportHandler exposes the historical backfill over the admin API
type ImportHandler struct {
	importer *services.BulkImportService
	logger   *zap.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importer *services.BulkImportService, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{importer: importer, logger: logger}
}

// GetProgress returns the backfill progress
// @Summary Get backfill progress
// @Tags Import
// @Success 200 {object} merchant.ImportProgress
// @Router /admin/merchant/import/status [get]
func (h *ImportHandler) GetProgress(c *gin.Context) {
	progress, err := h.importer.Progress(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read import progress", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read import progress"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// TriggerImport starts or resumes the backfill
// @Summary Trigger the historical backfill
// @Tags Import
// @Success 202 {object} map[string]interface{}
// @Router /admin/merchant/import/run [post]
func (h *ImportHandler) TriggerImport(c *gin.Context) {
	go func() {
		if err := h.importer.Run(context.Background()); err != nil {
			h.logger.Error("bulk import run failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "import started"})
}
