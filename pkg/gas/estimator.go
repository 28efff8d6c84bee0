// Package gas converts raw fee-history samples into a safety-margined
// EIP-1559 fee envelope.
package gas

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/config"
)

// Gas limit for a native transfer and the validation bounds applied to
// any estimate before it is consumed.
const (
	TransferGasLimit = 21_000
	MaxGasLimit      = 100_000
)

// Percentile index into the reward samples: [25th, 50th, 75th]
const rewardPercentileIdx = 2

// FeeHistory holds the per-block samples returned by eth_feeHistory
type FeeHistory struct {
	BaseFees          []uint64
	GasUsedRatios     []float64
	RewardPercentiles [][]uint64
}

// FeeHistoryFetcher is the RPC collaborator contract the estimator consumes
type FeeHistoryFetcher interface {
	FetchFeeHistory(ctx context.Context, chain string) (*FeeHistory, error)
}

// Estimate is the fee envelope embedded into quotes and settlements.
// All values are wei; TotalCost includes the safety margin.
type Estimate struct {
	BaseFee      uint64 `json:"base_fee"`
	PriorityFee  uint64 `json:"priority_fee"`
	MaxFeePerGas uint64 `json:"max_fee_per_gas"`
	GasLimit     uint64 `json:"gas_limit"`
	TotalCost    uint64 `json:"total_cost"`
	SafetyMargin uint64 `json:"safety_margin"`
}

// Estimator produces validated fee estimates from network fee history,
// falling back to a fixed conservative estimate when the upstream fails.
type Estimator struct {
	fetcher FeeHistoryFetcher
	cfg     config.GasConfig
	logger  *zap.Logger
}

// NewEstimator creates a gas estimator
func NewEstimator(fetcher FeeHistoryFetcher, cfg config.GasConfig, logger *zap.Logger) *Estimator {
	return &Estimator{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Estimate produces a fee envelope for the given chain. RPC or parse
// failures are recovered with the fallback estimate; only an estimate
// above the emergency cap is surfaced as an error. Availability over
// precision: quote generation stays up during RPC degradation at the
// cost of over-provisioned gas.
func (e *Estimator) Estimate(ctx context.Context, chain string) (*Estimate, error) {
	history, err := e.fetcher.FetchFeeHistory(ctx, chain)
	if err != nil {
		e.logger.Warn("Fee history fetch failed, using fallback estimate",
			zap.String("chain", chain), zap.Error(err))
		return e.Fallback(), nil
	}

	estimate, err := e.fromHistory(history)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeGasPriceTooHigh) {
			return nil, err
		}
		e.logger.Warn("Fee history unusable, using fallback estimate",
			zap.String("chain", chain), zap.Error(err))
		return e.Fallback(), nil
	}

	e.logger.Debug("Gas estimate",
		zap.Uint64("base_fee", estimate.BaseFee),
		zap.Uint64("priority_fee", estimate.PriorityFee),
		zap.Uint64("max_fee_per_gas", estimate.MaxFeePerGas))

	return estimate, nil
}

// fromHistory applies the EIP-1559 next-block projection to the samples
func (e *Estimator) fromHistory(history *FeeHistory) (*Estimate, error) {
	if len(history.BaseFees) == 0 {
		return nil, fmt.Errorf("fee history has no base fee samples")
	}

	latestBaseFee := history.BaseFees[len(history.BaseFees)-1]

	// reject raw samples past the emergency cap before the buffer math,
	// an adversarial base fee would overflow the uint64 multiplications
	if latestBaseFee > e.cfg.EmergencyFeeCap {
		return nil, apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("base fee extremely high (%d wei), rejecting for safety", latestBaseFee))
	}

	gasUsedRatio := 0.5
	if len(history.GasUsedRatios) > 0 {
		gasUsedRatio = history.GasUsedRatios[len(history.GasUsedRatios)-1]
	}

	// EIP-1559 base fee projection: up to 12.5% movement proportional to
	// how far gas usage sits from the 50% target.
	var baseFeeNext uint64
	if gasUsedRatio > 0.5 {
		increase := (gasUsedRatio-0.5)*0.125 + 1.0
		baseFeeNext = uint64(float64(latestBaseFee) * increase)
	} else {
		decrease := 1.0 - (0.5-gasUsedRatio)*0.125
		baseFeeNext = uint64(float64(latestBaseFee) * decrease)
	}

	// 12.5% buffer absorbs one more block of variance
	baseFeeWithBuffer := baseFeeNext * 1125 / 1000

	// Median of the 75th-percentile rewards across the window, with a
	// fixed default for networks that return no reward data.
	priorityFee := e.cfg.DefaultPriorityFee
	if samples := collectPriorityFees(history.RewardPercentiles); len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		priorityFee = samples[len(samples)/2]
	}
	if priorityFee > e.cfg.EmergencyFeeCap {
		return nil, apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("priority fee extremely high (%d wei), rejecting for safety", priorityFee))
	}
	priorityFeeWithBuffer := priorityFee * 125 / 100

	// Fixed 5 Gwei buffer on top of both components
	maxFeePerGas := baseFeeWithBuffer + priorityFeeWithBuffer + 5_000_000_000

	if maxFeePerGas > e.cfg.EmergencyFeeCap {
		return nil, apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("gas price extremely high (%d wei), rejecting for safety", maxFeePerGas))
	}

	estimatedCost := maxFeePerGas * TransferGasLimit
	safetyMargin := estimatedCost * 20 / 100

	return &Estimate{
		BaseFee:      baseFeeWithBuffer,
		PriorityFee:  priorityFeeWithBuffer,
		MaxFeePerGas: maxFeePerGas,
		GasLimit:     TransferGasLimit,
		TotalCost:    estimatedCost + safetyMargin,
		SafetyMargin: safetyMargin,
	}, nil
}

func collectPriorityFees(rewards [][]uint64) []uint64 {
	var samples []uint64
	for _, block := range rewards {
		if len(block) > rewardPercentileIdx {
			samples = append(samples, block[rewardPercentileIdx])
		}
	}
	return samples
}

// Fallback returns the fixed conservative estimate used when fee history
// is unavailable: 100 Gwei base, 5 Gwei priority, 30% margin.
func (e *Estimator) Fallback() *Estimate {
	const (
		baseFee     = 100_000_000_000
		priorityFee = 5_000_000_000
	)
	maxFeePerGas := uint64(baseFee + priorityFee)
	estimatedCost := maxFeePerGas * TransferGasLimit
	safetyMargin := estimatedCost * 30 / 100

	return &Estimate{
		BaseFee:      baseFee,
		PriorityFee:  priorityFee,
		MaxFeePerGas: maxFeePerGas,
		GasLimit:     TransferGasLimit,
		TotalCost:    estimatedCost + safetyMargin,
		SafetyMargin: safetyMargin,
	}
}

// Validate applies the absolute bounds to an estimate. It is independent
// of the estimator and is applied wherever an estimate is consumed, to
// guard against a malfunctioning upstream.
func Validate(estimate *Estimate, cfg config.GasConfig) error {
	if estimate.GasLimit < TransferGasLimit || estimate.GasLimit > MaxGasLimit {
		return apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("invalid gas limit %d", estimate.GasLimit))
	}
	if estimate.MaxFeePerGas > cfg.MaxFeePerGasCap {
		return apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("max fee per gas %d exceeds cap %d", estimate.MaxFeePerGas, cfg.MaxFeePerGasCap))
	}
	if estimate.TotalCost > cfg.MaxTotalCost {
		return apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("total gas cost %d exceeds cap %d", estimate.TotalCost, cfg.MaxTotalCost))
	}
	return nil
}
