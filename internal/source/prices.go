package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PriceSource supplies the current quote-currency price for a mint. It is
// best effort: callers treat any error as price 0 for that cycle.
type PriceSource interface {
	Price(ctx context.Context, mint string) (decimal.Decimal, error)
}

// PriceClient fetches spot prices from the price-quote API.
type PriceClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewPriceClient(baseURL string, requestsPerSecond float64, logger *zap.Logger) *PriceClient {
	return &PriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 2),
		logger:  logger,
	}
}

func (c *PriceClient) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?ids="+mint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price for %s: %w", mint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price api returned status %d for %s", resp.StatusCode, mint)
	}

	// Price comes back as a string to avoid float precision loss.
	var payload struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	entry, ok := payload.Data[mint]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price entry for %s", mint)
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q for %s: %w", entry.Price, mint, err)
	}

	c.logger.Debug("fetched price", zap.String("mint", mint), zap.String("price", price.String()))
	return price, nil
}
