// Package pricefeed supplies asset prices for converting the bridge's
// gas outlay into the payment asset.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/pkg/config"
)

// Asset identifiers as understood by the upstream feed
const (
	AssetETH = "ethereum"
	AssetICP = "internet-computer"
)

// Feed returns the USD price of an asset
type Feed interface {
	PriceUSD(ctx context.Context, asset string) (decimal.Decimal, error)
}

// HTTPFeed queries a CoinGecko-compatible simple price endpoint
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFeed creates a price feed client
func NewHTTPFeed(cfg config.PriceFeedConfig) *HTTPFeed {
	return &HTTPFeed{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (f *HTTPFeed) PriceUSD(ctx context.Context, asset string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", f.baseURL, url.QueryEscape(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building price request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching price for %s: %w", asset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned status %d for %s", resp.StatusCode, asset)
	}

	var payload map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decoding price response: %w", err)
	}

	price, ok := payload[strings.ToLower(asset)]["usd"]
	if !ok || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price feed returned no usd price for %s", asset)
	}
	return price, nil
}

// Converter caches the last good price per asset and falls back to a
// conservative hardcoded price when the feed has never answered. Quote
// issuance must not depend on feed availability.
type Converter struct {
	feed   Feed
	logger *zap.Logger

	mu       sync.Mutex
	lastGood map[string]decimal.Decimal
}

var fallbackPrices = map[string]decimal.Decimal{
	AssetETH: decimal.NewFromFloat(3500.00),
	AssetICP: decimal.NewFromFloat(12.50),
}

// NewConverter creates a price converter
func NewConverter(feed Feed, logger *zap.Logger) *Converter {
	return &Converter{
		feed:     feed,
		logger:   logger,
		lastGood: make(map[string]decimal.Decimal),
	}
}

// PriceUSD returns the current price, the last known good price when
// the feed fails, or the hardcoded fallback when it never succeeded.
func (c *Converter) PriceUSD(ctx context.Context, asset string) (decimal.Decimal, error) {
	price, err := c.feed.PriceUSD(ctx, asset)
	if err == nil {
		c.mu.Lock()
		c.lastGood[asset] = price
		c.mu.Unlock()
		return price, nil
	}

	c.mu.Lock()
	cached, ok := c.lastGood[asset]
	c.mu.Unlock()
	if ok {
		c.logger.Warn("Price feed failed, using last known price",
			zap.String("asset", asset),
			zap.String("price_usd", cached.String()),
			zap.Error(err))
		return cached, nil
	}

	fallback, ok := fallbackPrices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price available for %s: %w", asset, err)
	}
	c.logger.Warn("Price feed failed, using fallback price",
		zap.String("asset", asset),
		zap.String("price_usd", fallback.String()),
		zap.Error(err))
	return fallback, nil
}

// ICPPerETH returns the exchange rate between the payment asset and the
// delivery asset
func (c *Converter) ICPPerETH(ctx context.Context) (decimal.Decimal, error) {
	ethPrice, err := c.PriceUSD(ctx, AssetETH)
	if err != nil {
		return decimal.Zero, err
	}
	icpPrice, err := c.PriceUSD(ctx, AssetICP)
	if err != nil {
		return decimal.Zero, err
	}
	if icpPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid icp price %s", icpPrice)
	}
	return ethPrice.Div(icpPrice), nil
}

var weiPerEth = decimal.New(1, 18)

// SubsidyCostICP converts a wei gas outlay into ICP
func (c *Converter) SubsidyCostICP(ctx context.Context, wei *big.Int) (decimal.Decimal, error) {
	rate, err := c.ICPPerETH(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	eth := decimal.NewFromBigInt(wei, 0).Div(weiPerEth)
	return eth.Mul(rate), nil
}
