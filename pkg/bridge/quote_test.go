package bridge_test

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/config"
	"github.com/chainsafe/gasless-bridge/pkg/db"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

const (
	testUser        = "user-1"
	testDestination = "0x742d35Cc6634C0532925a3b844Bc9e7595f8fA8e"
	testChain       = "base-sepolia"
	gwei            = 1_000_000_000
)

func eth(n float64) *big.Int {
	micro := int64(math.Round(n * 1e6))
	return new(big.Int).Mul(big.NewInt(micro), big.NewInt(1e12))
}

func testLimits() bridge.QuoteLimits {
	return bridge.QuoteLimits{
		MinAmount: eth(0.001),
		MaxAmount: eth(1),
		GasBuffer: eth(0.005),
		Validity:  15 * time.Minute,
		Chains:    []string{testChain},
	}
}

func testGasConfig() config.GasConfig {
	return config.GasConfig{
		MaxFeePerGasCap:    200 * gwei,
		EmergencyFeeCap:    500 * gwei,
		MaxTotalCost:       5_000_000_000_000_000,
		DefaultPriorityFee: 1 * gwei,
	}
}

func testEstimate() *gas.Estimate {
	maxFee := uint64(100 * gwei)
	cost := maxFee * gas.TransferGasLimit
	return &gas.Estimate{
		BaseFee:      95 * gwei,
		PriorityFee:  5 * gwei,
		MaxFeePerGas: maxFee,
		GasLimit:     gas.TransferGasLimit,
		TotalCost:    cost + cost/5,
		SafetyMargin: cost / 5,
	}
}

func fixedEstimator() *mockEstimator {
	return &mockEstimator{
		EstimateFn: func(context.Context, string) (*gas.Estimate, error) {
			return testEstimate(), nil
		},
	}
}

func newFundedLedger(balance *big.Int) *reserve.Ledger {
	ledger := reserve.NewLedger(eth(0.5), eth(0.1), eth(10), zap.NewNop())
	ledger.AddFunds(balance)
	return ledger
}

func newQuoteEngine(ledger *reserve.Ledger, store bridge.Store, estimator bridge.GasEstimator, now time.Time) *bridge.QuoteEngine {
	return bridge.NewQuoteEngine(ledger, estimator, store, testLimits(), testGasConfig(), zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func quoteRequest(amount *big.Int) *bridge.QuoteRequest {
	return &bridge.QuoteRequest{
		User:               testUser,
		Amount:             amount,
		DestinationAddress: testDestination,
		Chain:              testChain,
	}
}

func TestRequestQuote_Gasless(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	engine := newQuoteEngine(newFundedLedger(eth(10)), store, fixedEstimator(), now)

	quote, err := engine.RequestQuote(context.Background(), quoteRequest(eth(1)))
	require.NoError(t, err)

	// user pays nothing beyond the amount in and receives it in full
	assert.True(t, quote.IsGasless())
	assert.Equal(t, 0, quote.AmountIn.Cmp(eth(1)))
	assert.Equal(t, 0, quote.AmountOut.Cmp(eth(1)))
	assert.Equal(t, 0, quote.TotalCost.Sign())
	assert.Equal(t, testEstimate().TotalCost, quote.GasEstimate)
	assert.Equal(t, bridge.QuoteStatusActive, quote.Status)
	assert.Equal(t, now.Add(15*time.Minute), quote.ExpiresAt)

	stored, err := store.GetQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.ID, stored.ID)
}

func TestRequestQuote_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(*bridge.QuoteRequest)
		code   apperrors.Code
	}{
		{"below minimum", func(r *bridge.QuoteRequest) { r.Amount = eth(0.0005) }, apperrors.CodeInvalidAmount},
		{"above maximum", func(r *bridge.QuoteRequest) { r.Amount = eth(1.5) }, apperrors.CodeInvalidAmount},
		{"nil amount", func(r *bridge.QuoteRequest) { r.Amount = nil }, apperrors.CodeInvalidAmount},
		{"bad address", func(r *bridge.QuoteRequest) { r.DestinationAddress = "0x1234" }, apperrors.CodeInvalidAddress},
		{"no hex prefix", func(r *bridge.QuoteRequest) { r.DestinationAddress = "742d35Cc6634C0532925a3b844Bc9e7595f8fA8e00" }, apperrors.CodeInvalidAddress},
		{"unsupported chain", func(r *bridge.QuoteRequest) { r.Chain = "polygon" }, apperrors.CodeUnsupportedChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newQuoteEngine(newFundedLedger(eth(10)), db.NewMemoryStore(), fixedEstimator(), now)
			req := quoteRequest(eth(0.5))
			tt.mutate(req)
			_, err := engine.RequestQuote(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestRequestQuote_InsufficientReserve(t *testing.T) {
	// 0.6 ETH available with a 0.1 ETH critical floor cannot cover a
	// 1 ETH delivery plus gas buffer
	engine := newQuoteEngine(newFundedLedger(eth(0.6)), db.NewMemoryStore(), fixedEstimator(), time.Now())

	_, err := engine.RequestQuote(context.Background(), quoteRequest(eth(1)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInsufficientReserve))
}

func TestRequestQuote_GasPriceTooHigh(t *testing.T) {
	estimator := &mockEstimator{
		EstimateFn: func(context.Context, string) (*gas.Estimate, error) {
			return nil, apperrors.New(apperrors.CodeGasPriceTooHigh, "gas price extremely high")
		},
	}
	engine := newQuoteEngine(newFundedLedger(eth(10)), db.NewMemoryStore(), estimator, time.Now())

	_, err := engine.RequestQuote(context.Background(), quoteRequest(eth(0.5)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))
}

func TestRequestQuote_EstimateFailsValidation(t *testing.T) {
	estimator := &mockEstimator{
		EstimateFn: func(context.Context, string) (*gas.Estimate, error) {
			est := testEstimate()
			est.MaxFeePerGas = 300 * gwei
			return est, nil
		},
	}
	engine := newQuoteEngine(newFundedLedger(eth(10)), db.NewMemoryStore(), estimator, time.Now())

	_, err := engine.RequestQuote(context.Background(), quoteRequest(eth(0.5)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))
}

func TestGetQuote_ExpiresOnRead(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	ledger := newFundedLedger(eth(10))

	engine := newQuoteEngine(ledger, store, fixedEstimator(), issued)
	quote, err := engine.RequestQuote(context.Background(), quoteRequest(eth(0.5)))
	require.NoError(t, err)

	// one second before expiry the quote is still active
	engine.WithClock(func() time.Time { return quote.ExpiresAt.Add(-time.Second) })
	fetched, err := engine.GetQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, bridge.QuoteStatusActive, fetched.Status)

	// at exactly the expiry instant it is no longer honored
	engine.WithClock(func() time.Time { return quote.ExpiresAt })
	fetched, err = engine.GetQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, bridge.QuoteStatusExpired, fetched.Status)

	stored, err := store.GetQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, bridge.QuoteStatusExpired, stored.Status)
}

func TestGetQuote_NotFound(t *testing.T) {
	engine := newQuoteEngine(newFundedLedger(eth(10)), db.NewMemoryStore(), fixedEstimator(), time.Now())
	_, err := engine.GetQuote(context.Background(), "quote_missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuoteNotFound))
}

func TestQuoteLimitsFromConfig(t *testing.T) {
	limits, err := bridge.QuoteLimitsFromConfig(config.BridgeConfig{
		MinQuoteAmount:  "1000000000000000",
		MaxQuoteAmount:  "1000000000000000000",
		QuoteGasBuffer:  "5000000000000000",
		QuoteValidity:   15 * time.Minute,
		SupportedChains: []string{testChain},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, limits.MinAmount.Cmp(eth(0.001)))
	assert.Equal(t, 0, limits.MaxAmount.Cmp(eth(1)))
	assert.Equal(t, 0, limits.GasBuffer.Cmp(eth(0.005)))

	_, err = bridge.QuoteLimitsFromConfig(config.BridgeConfig{
		MinQuoteAmount: "not-a-number",
		MaxQuoteAmount: "1",
		QuoteGasBuffer: "1",
	})
	require.Error(t, err)
}
