package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/pkg/config"
)

type stubFeed struct {
	prices map[string]decimal.Decimal
	err    error
}

func (s *stubFeed) PriceUSD(_ context.Context, asset string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.prices[asset], nil
}

func TestHTTPFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"ethereum":{"usd":3421.57}}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(config.PriceFeedConfig{URL: server.URL, RequestTimeout: time.Second})
	price, err := feed.PriceUSD(context.Background(), AssetETH)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(3421.57)))
}

func TestHTTPFeed_ErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	feed := NewHTTPFeed(config.PriceFeedConfig{URL: server.URL, RequestTimeout: time.Second})
	_, err := feed.PriceUSD(context.Background(), AssetETH)
	require.Error(t, err)
}

func TestConverter_FallbackChain(t *testing.T) {
	feed := &stubFeed{prices: map[string]decimal.Decimal{
		AssetETH: decimal.NewFromFloat(4000),
	}}
	converter := NewConverter(feed, zap.NewNop())

	// live price flows through and becomes the cached value
	price, err := converter.PriceUSD(context.Background(), AssetETH)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(4000)))

	// feed failure falls back to the last known price
	feed.err = errors.New("rate limited")
	price, err = converter.PriceUSD(context.Background(), AssetETH)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(4000)))

	// an asset never fetched uses the hardcoded fallback
	price, err = converter.PriceUSD(context.Background(), AssetICP)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(12.50)))

	// unknown assets fail outright
	_, err = converter.PriceUSD(context.Background(), "dogecoin")
	require.Error(t, err)
}

func TestConverter_ICPPerETH(t *testing.T) {
	feed := &stubFeed{prices: map[string]decimal.Decimal{
		AssetETH: decimal.NewFromInt(3500),
		AssetICP: decimal.NewFromFloat(12.5),
	}}
	converter := NewConverter(feed, zap.NewNop())

	rate, err := converter.ICPPerETH(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(280)))
}

func TestConverter_SubsidyCostICP(t *testing.T) {
	feed := &stubFeed{prices: map[string]decimal.Decimal{
		AssetETH: decimal.NewFromInt(3500),
		AssetICP: decimal.NewFromFloat(12.5),
	}}
	converter := NewConverter(feed, zap.NewNop())

	// 0.005 ETH subsidy at 280 ICP/ETH is 1.4 ICP
	cost, err := converter.SubsidyCostICP(context.Background(), big.NewInt(5_000_000_000_000_000))
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.NewFromFloat(1.4)), "got %s", cost)
}
