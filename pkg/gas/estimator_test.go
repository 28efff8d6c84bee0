package gas

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/config"
)

const gwei = 1_000_000_000

type stubFetcher struct {
	history *FeeHistory
	err     error
}

func (s *stubFetcher) FetchFeeHistory(_ context.Context, _ string) (*FeeHistory, error) {
	return s.history, s.err
}

func testGasConfig() config.GasConfig {
	return config.GasConfig{
		MaxFeePerGasCap:    200 * gwei,
		EmergencyFeeCap:    500 * gwei,
		MaxTotalCost:       5_000_000_000_000_000, // 0.005 ETH
		DefaultPriorityFee: 1 * gwei,
	}
}

func newTestEstimator(fetcher FeeHistoryFetcher) *Estimator {
	return NewEstimator(fetcher, testGasConfig(), zap.NewNop())
}

func TestEstimate_FromHistory(t *testing.T) {
	fetcher := &stubFetcher{history: &FeeHistory{
		BaseFees:      []uint64{8 * gwei, 9 * gwei, 10 * gwei},
		GasUsedRatios: []float64{0.4, 0.6, 0.5},
		RewardPercentiles: [][]uint64{
			{gwei / 2, gwei, 2 * gwei},
			{gwei / 2, gwei, 3 * gwei},
			{gwei / 2, gwei, 2 * gwei},
		},
	}}
	est, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)

	// ratio exactly 0.5: base fee carried over, then +12.5% buffer
	assert.Equal(t, uint64(10*gwei)*1125/1000, est.BaseFee)
	// median of {2,3,2} Gwei 75th-percentile samples is 2 Gwei, +25%
	assert.Equal(t, uint64(2*gwei)*125/100, est.PriorityFee)
	assert.Equal(t, est.BaseFee+est.PriorityFee+5*gwei, est.MaxFeePerGas)
	assert.Equal(t, uint64(TransferGasLimit), est.GasLimit)
	assert.Equal(t, est.MaxFeePerGas*TransferGasLimit*20/100, est.SafetyMargin)
	assert.Equal(t, est.MaxFeePerGas*TransferGasLimit+est.SafetyMargin, est.TotalCost)
}

func TestEstimate_BaseFeeAdjustment(t *testing.T) {
	// full blocks push the projected base fee up by 12.5% * excess
	fetcher := &stubFetcher{history: &FeeHistory{
		BaseFees:      []uint64{10 * gwei},
		GasUsedRatios: []float64{1.0},
	}}
	est, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)

	projected := uint64(float64(10*gwei) * 1.0625)
	assert.Equal(t, projected*1125/1000, est.BaseFee)

	// empty blocks pull it down
	fetcher.history.GasUsedRatios = []float64{0.0}
	est, err = newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)

	projected = uint64(float64(10*gwei) * 0.9375)
	assert.Equal(t, projected*1125/1000, est.BaseFee)
}

func TestEstimate_NoRewardData(t *testing.T) {
	// test networks without reward data fall back to the default priority fee
	fetcher := &stubFetcher{history: &FeeHistory{
		BaseFees:      []uint64{10 * gwei},
		GasUsedRatios: []float64{0.5},
	}}
	est, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, uint64(gwei)*125/100, est.PriorityFee)
}

func TestEstimate_RPCFailureFallsBack(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("all endpoints down")}
	est, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)

	assert.Equal(t, uint64(100*gwei), est.BaseFee)
	assert.Equal(t, uint64(5*gwei), est.PriorityFee)
	assert.Equal(t, uint64(105*gwei), est.MaxFeePerGas)
	// fallback carries the larger 30% margin
	assert.Equal(t, est.MaxFeePerGas*TransferGasLimit*30/100, est.SafetyMargin)

	// the fallback itself passes validation
	require.NoError(t, Validate(est, testGasConfig()))
}

func TestEstimate_EmptyHistoryFallsBack(t *testing.T) {
	fetcher := &stubFetcher{history: &FeeHistory{}}
	est, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, uint64(105*gwei), est.MaxFeePerGas)
}

func TestEstimate_EmergencyCap(t *testing.T) {
	fetcher := &stubFetcher{history: &FeeHistory{
		BaseFees:      []uint64{600 * gwei},
		GasUsedRatios: []float64{0.9},
	}}
	_, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))
}

func TestEstimate_OverflowingSamplesRejected(t *testing.T) {
	// corrupt upstream samples large enough to wrap the uint64 buffer
	// arithmetic must be rejected, not folded into a small estimate
	fetcher := &stubFetcher{history: &FeeHistory{
		BaseFees:      []uint64{^uint64(0) / 100},
		GasUsedRatios: []float64{1.0},
	}}
	_, err := newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))

	fetcher = &stubFetcher{history: &FeeHistory{
		BaseFees:          []uint64{10 * gwei},
		GasUsedRatios:     []float64{0.5},
		RewardPercentiles: [][]uint64{{0, 0, ^uint64(0) / 10}},
	}}
	_, err = newTestEstimator(fetcher).Estimate(context.Background(), "base-sepolia")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))
}

func TestValidate(t *testing.T) {
	cfg := testGasConfig()

	valid := &Estimate{
		BaseFee:      20 * gwei,
		PriorityFee:  2 * gwei,
		MaxFeePerGas: 27 * gwei,
		GasLimit:     TransferGasLimit,
		TotalCost:    27 * gwei * TransferGasLimit,
		SafetyMargin: 27 * gwei * TransferGasLimit / 5,
	}
	require.NoError(t, Validate(valid, cfg))

	tests := []struct {
		name   string
		mutate func(*Estimate)
	}{
		{"gas limit below minimum", func(e *Estimate) { e.GasLimit = 20_999 }},
		{"gas limit above maximum", func(e *Estimate) { e.GasLimit = 100_001 }},
		{"max fee above cap", func(e *Estimate) { e.MaxFeePerGas = 201 * gwei }},
		{"total cost above cap", func(e *Estimate) { e.TotalCost = 6_000_000_000_000_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := *valid
			tt.mutate(&est)
			err := Validate(&est, cfg)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh))
		})
	}
}
