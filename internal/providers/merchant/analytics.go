package merchant

import (
	"context"
	"time"

	"go.uber.org/zap"

	domain "github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

// analyticsPageSize is the page size requested from the paginated analytics
// actions. The remote caps pages at 250 records.
const analyticsPageSize = 250

// PerformanceRecord is one remote row of the product performance dataset.
type PerformanceRecord struct {
	OfferID         string  `json:"offer_id"`
	Title           string  `json:"title"`
	Clicks          int64   `json:"clicks"`
	Impressions     int64   `json:"impressions"`
	Conversions     int64   `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
}

// PricingRecord is one remote row of the pricing dataset.
type PricingRecord struct {
	OfferID        string  `json:"offer_id"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
	BenchmarkPrice float64 `json:"benchmark_price"`
}

type analyticsPayload struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	PageSize  int    `json:"page_size"`
	PageToken string `json:"page_token,omitempty"`
}

type performancePage struct {
	Records       []PerformanceRecord `json:"records"`
	NextPageToken string              `json:"next_page_token"`
}

type pricingPage struct {
	Records       []PricingRecord `json:"records"`
	NextPageToken string          `json:"next_page_token"`
}

// FetchPerformance retrieves the full performance dataset for a date range,
// following page tokens until the remote signals the last page. Pages are
// fetched sequentially; ingestion depends on completing one day before the next.
func (c *Client) FetchPerformance(ctx context.Context, start, end time.Time) ([]PerformanceRecord, error) {
	payload := analyticsPayload{
		StartDate: start.Format(domain.DayFormat),
		EndDate:   end.Format(domain.DayFormat),
		PageSize:  analyticsPageSize,
	}

	var records []PerformanceRecord
	for {
		var page performancePage
		if err := c.Call(ctx, ActionAnalyticsProducts, payload, BulkCallTimeout, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.NextPageToken == "" {
			break
		}
		payload.PageToken = page.NextPageToken
	}

	c.logger.Debug("fetched performance dataset",
		zap.String("start", payload.StartDate),
		zap.String("end", payload.EndDate),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// FetchPricing retrieves the pricing dataset for a date range with the same
// pagination contract as FetchPerformance.
func (c *Client) FetchPricing(ctx context.Context, start, end time.Time) ([]PricingRecord, error) {
	payload := analyticsPayload{
		StartDate: start.Format(domain.DayFormat),
		EndDate:   end.Format(domain.DayFormat),
		PageSize:  analyticsPageSize,
	}

	var records []PricingRecord
	for {
		var page pricingPage
		if err := c.Call(ctx, ActionAnalyticsPricing, payload, BulkCallTimeout, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.NextPageToken == "" {
			break
		}
		payload.PageToken = page.NextPageToken
	}
	return records, nil
}
