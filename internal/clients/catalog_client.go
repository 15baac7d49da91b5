// Package clients holds HTTP clients for the external collaborators: the
// catalog store, the licensing layer, and the notification service.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// CatalogClient handles communication with service-catalog. It is the
// read-only entity store: product lookup by id and by SKU.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCatalogClient creates a new CatalogClient
func NewCatalogClient(baseURL string, logger *zap.Logger) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Product represents a product from service-catalog
type Product struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	SKU           string   `json:"sku"`
	BasePrice     float64  `json:"base_price"`
	SalePrice     *float64 `json:"sale_price"`
	Currency      string   `json:"currency"`
	Locale        string   `json:"locale"`
	Country       string   `json:"country"`
	StockQuantity int      `json:"stock_quantity"`
	Status        string   `json:"status"`
}

// EffectivePrice returns the sale price when set, otherwise the base price.
func (p *Product) EffectivePrice() float64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.BasePrice
}

// GetProduct fetches a product by local entity id. A 404 returns (nil, nil)
// so callers can distinguish "missing entity" from a transport failure.
func (c *CatalogClient) GetProduct(ctx context.Context, entityID int64) (*Product, error) {
	reqURL := fmt.Sprintf("%s/api/v1/catalog/products/%d", c.baseURL, entityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Public catalog endpoint returns {success, message, data} format
	var result struct {
		Success bool    `json:"success"`
		Message string  `json:"message"`
		Data    Product `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result.Data, nil
}

// ResolveSKU returns the local entity id for a SKU, or 0 when no entity
// carries it.
func (c *CatalogClient) ResolveSKU(ctx context.Context, sku string) (int64, error) {
	reqURL := fmt.Sprintf("%s/api/v1/catalog/products/by-sku/%s", c.baseURL, url.PathEscape(sku))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Data.ID, nil
}
