package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// tokenRefreshMargin renews the cached credential this long before it expires.
const tokenRefreshMargin = 2 * time.Minute

// LicenseClient fetches the bearer credential for outbound merchant calls
// from the licensing layer and caches it until shortly before expiry. It
// implements the merchant client's CredentialSource.
type LicenseClient struct {
	baseURL    string
	licenseKey string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	bearer    string
	expiresAt time.Time
}

// NewLicenseClient creates a new LicenseClient
func NewLicenseClient(baseURL, licenseKey string, logger *zap.Logger) *LicenseClient {
	return &LicenseClient{
		baseURL:    baseURL,
		licenseKey: licenseKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// BearerToken returns a valid bearer credential, refreshing it from the
// licensing layer when the cached one is close to expiry.
func (c *LicenseClient) BearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearer != "" && time.Now().Add(tokenRefreshMargin).Before(c.expiresAt) {
		return c.bearer, nil
	}

	reqURL := fmt.Sprintf("%s/api/v1/license/token", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-License-Key", c.licenseKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("license token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Bearer    string `json:"bearer"`
			ExpiresIn int64  `json:"expires_in"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Data.Bearer == "" {
		return "", fmt.Errorf("licensing layer returned an empty credential")
	}

	c.bearer = result.Data.Bearer
	c.expiresAt = time.Now().Add(time.Duration(result.Data.ExpiresIn) * time.Second)

	c.logger.Debug("refreshed merchant bearer credential",
		zap.Time("expires_at", c.expiresAt),
	)
	return c.bearer, nil
}
