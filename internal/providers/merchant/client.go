// Package merchant implements the quota-gated client for the remote
// advertising platform's RPC endpoint.
package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	domain "github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/monitoring"
)

// Remote actions used by this service.
const (
	ActionBatchSync         = "gmc_products_batch"
	ActionAnalyticsProducts = "gmc_analytics_products"
	ActionAnalyticsPricing  = "gmc_analytics_pricing"
)

// Per-call timeouts. Bulk data transfers get a longer budget than the
// request/response actions.
const (
	DefaultCallTimeout = 15 * time.Second
	BulkCallTimeout    = 60 * time.Second
)

// CredentialSource supplies the bearer credential for outbound calls. The
// licensing layer owns issuance and refresh; the client only attaches it.
type CredentialSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// QuotaGate is the admission/usage contract the client needs from the quota
// component.
type QuotaGate interface {
	Admit(action string) error
	RecordUsage(ctx context.Context, action string, cost int) error
	Status() domain.QuotaStatus
}

// Client is the single request/response boundary to the remote platform.
// Every higher-level component reuses it; it knows nothing about queueing or
// batching. Usage is recorded against the quota gate only after a verified
// success (HTTP 200 and a well-formed success body).
type Client struct {
	endpoint    string
	accountID   string
	httpClient  *http.Client
	credentials CredentialSource
	quota       QuotaGate
	limiter     *domain.RateLimiter
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// ClientConfig holds configuration for the merchant client.
type ClientConfig struct {
	Endpoint    string
	AccountID   string
	Credentials CredentialSource
	Quota       QuotaGate
	Limiter     *domain.RateLimiter
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// NewClient creates a merchant API client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("merchant endpoint is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = domain.NewRateLimiter(domain.DefaultRateLimitConfig())
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		accountID:   cfg.AccountID,
		httpClient:  &http.Client{},
		credentials: cfg.Credentials,
		quota:       cfg.Quota,
		limiter:     limiter,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// envelope is the wire shape of every request to the RPC endpoint.
type envelope struct {
	Action      string `json:"action"`
	Credentials struct {
		AccountID string `json:"account_id"`
		Bearer    string `json:"bearer"`
	} `json:"credentials"`
	Payload interface{} `json:"payload,omitempty"`
}

// baseResponse is the common response shape from the RPC endpoint.
type baseResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs one RPC against the remote platform. Admission is checked
// against the quota gate before anything is sent; a refusal surfaces as a
// quota_exceeded error without a remote call or a usage record.
func (c *Client) Call(ctx context.Context, action string, payload interface{}, timeout time.Duration, result interface{}) (err error) {
	if c.quota != nil {
		if err := c.quota.Admit(action); err != nil {
			c.logger.Warn("quota refused admission",
				zap.String("action", action),
				zap.Error(err),
			)
			return err
		}
	}

	// Pace the call after admission so quota refusals return immediately.
	if err := c.limiter.Wait(ctx, action); err != nil {
		return domain.NewTransportError(action, err)
	}

	// Only attempted calls are observed; quota refusals never leave the process.
	callStart := time.Now()
	defer func() {
		c.metrics.ObserveRemoteCall(action, callResult(err), time.Since(callStart))
	}()

	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bearer, err := c.credentials.BearerToken(ctx)
	if err != nil {
		return domain.NewTransportError(action, fmt.Errorf("fetch bearer credential: %w", err))
	}

	env := envelope{Action: action, Payload: payload}
	env.Credentials.AccountID = c.accountID
	env.Credentials.Bearer = bearer

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		return domain.NewTransportError(action, doErr)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return domain.NewTransportError(action, readErr)
	}

	c.logger.Debug("merchant API request completed",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(callStart)),
		zap.String("response", truncateString(string(respBody), 500)),
	)

	if resp.StatusCode != http.StatusOK {
		message := string(respBody)
		var parsed baseResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		return domain.NewAPIError(action, truncateString(message, 200), resp.StatusCode)
	}

	var parsed baseResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return domain.NewDecodeError(action, err)
	}
	if !parsed.Success {
		message := parsed.Error.Message
		if message == "" {
			message = "remote reported failure without detail"
		}
		return domain.NewAPIError(action, message, resp.StatusCode)
	}

	if result != nil && len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, result); err != nil {
			return domain.NewDecodeError(action, err)
		}
	}

	// Verified success: exactly one usage record, never on any error path.
	if c.quota != nil {
		if err := c.quota.RecordUsage(ctx, action, 1); err != nil {
			c.logger.Warn("failed to record quota usage",
				zap.String("action", action),
				zap.Error(err),
			)
		} else {
			c.metrics.SetQuotaUsed(c.quota.Status().Used)
		}
	}
	return nil
}

// callResult maps a call outcome to its metric label.
func callResult(err error) string {
	if err == nil {
		return "success"
	}
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind.String()
	}
	return "error"
}

// truncateString truncates a string to the specified length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
