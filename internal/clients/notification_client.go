package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification template ids used by the sync engine. Rendering is owned by
// the notification service; only the template id and its data travel here.
const (
	TemplateUnmappedProducts = "merchant_unmapped_products"
	TemplateImportCompleted  = "merchant_import_completed"
	TemplateSyncFailures     = "merchant_sync_failures"
)

// NotificationClient calls the external notification collaborator.
type NotificationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNotificationClient creates a new NotificationClient
func NewNotificationClient(baseURL string, logger *zap.Logger) *NotificationClient {
	return &NotificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Notify sends a templated message. Delivery is best-effort from the
// engine's point of view; the error is surfaced for logging only and never
// fails a sync run.
func (c *NotificationClient) Notify(ctx context.Context, templateID string, data map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"template_id": templateID,
		"data":        data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/v1/notifications", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notification request failed with status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("notification sent", zap.String("template_id", templateID))
	return nil
}
