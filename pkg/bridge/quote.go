package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/internal/metrics"
	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/config"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// GasEstimator produces the fee envelope embedded into quotes
type GasEstimator interface {
	Estimate(ctx context.Context, chain string) (*gas.Estimate, error)
}

// QuoteLimits are the parsed quote bounds from configuration
type QuoteLimits struct {
	MinAmount *big.Int
	MaxAmount *big.Int
	GasBuffer *big.Int
	Validity  time.Duration
	Chains    []string
}

// QuoteLimitsFromConfig parses the wei string bounds
func QuoteLimitsFromConfig(cfg config.BridgeConfig) (QuoteLimits, error) {
	minAmount, err := config.ParseWei(cfg.MinQuoteAmount)
	if err != nil {
		return QuoteLimits{}, fmt.Errorf("min_quote_amount: %w", err)
	}
	maxAmount, err := config.ParseWei(cfg.MaxQuoteAmount)
	if err != nil {
		return QuoteLimits{}, fmt.Errorf("max_quote_amount: %w", err)
	}
	gasBuffer, err := config.ParseWei(cfg.QuoteGasBuffer)
	if err != nil {
		return QuoteLimits{}, fmt.Errorf("quote_gas_buffer: %w", err)
	}
	return QuoteLimits{
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		GasBuffer: gasBuffer,
		Validity:  cfg.QuoteValidity,
		Chains:    cfg.SupportedChains,
	}, nil
}

// QuoteEngine issues gasless quotes backed by the reserve
type QuoteEngine struct {
	ledger    *reserve.Ledger
	estimator GasEstimator
	store     Store
	limits    QuoteLimits
	gasCfg    config.GasConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewQuoteEngine creates a quote engine
func NewQuoteEngine(ledger *reserve.Ledger, estimator GasEstimator, store Store,
	limits QuoteLimits, gasCfg config.GasConfig, logger *zap.Logger) *QuoteEngine {
	return &QuoteEngine{
		ledger:    ledger,
		estimator: estimator,
		store:     store,
		limits:    limits,
		gasCfg:    gasCfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests
func (e *QuoteEngine) WithClock(now func() time.Time) *QuoteEngine {
	e.now = now
	return e
}

// QuoteRequest carries user input for a new quote
type QuoteRequest struct {
	User               string
	Amount             *big.Int
	DestinationAddress string
	Chain              string
}

// RequestQuote validates the request, estimates gas and issues a quote
// where the user receives exactly the amount requested at zero cost.
// The reserve is not locked here; the quote is a priced commitment that
// is only funded at settlement.
func (e *QuoteEngine) RequestQuote(ctx context.Context, req *QuoteRequest) (*Quote, error) {
	if err := e.validateRequest(req); err != nil {
		metrics.QuotesIssuedTotal.WithLabelValues(req.Chain, "rejected").Inc()
		return nil, err
	}

	estimate, err := e.estimator.Estimate(ctx, req.Chain)
	if err != nil {
		metrics.QuotesIssuedTotal.WithLabelValues(req.Chain, "rejected").Inc()
		return nil, err
	}
	if err := gas.Validate(estimate, e.gasCfg); err != nil {
		metrics.QuotesIssuedTotal.WithLabelValues(req.Chain, "rejected").Inc()
		return nil, err
	}

	now := e.now()
	quote := &Quote{
		ID:                 NewQuoteID(),
		User:               req.User,
		AmountIn:           new(big.Int).Set(req.Amount),
		AmountOut:          new(big.Int).Set(req.Amount),
		TotalCost:          big.NewInt(0),
		GasEstimate:        estimate.TotalCost,
		BaseFee:            estimate.BaseFee,
		PriorityFee:        estimate.PriorityFee,
		MaxFeePerGas:       estimate.MaxFeePerGas,
		SafetyMargin:       estimate.SafetyMargin,
		DestinationAddress: req.DestinationAddress,
		Chain:              req.Chain,
		CreatedAt:          now,
		ExpiresAt:          now.Add(e.limits.Validity),
		Status:             QuoteStatusActive,
	}

	if err := e.store.CreateQuote(ctx, quote); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "persisting quote", err)
	}

	e.audit(ctx, &AuditEntry{
		EventType: "quote_issued",
		Details:   fmt.Sprintf("quote %s for %s wei to %s on %s", quote.ID, req.Amount, req.DestinationAddress, req.Chain),
		User:      req.User,
		Amount:    new(big.Int).Set(req.Amount),
		Timestamp: now,
	})

	metrics.QuotesIssuedTotal.WithLabelValues(req.Chain, "issued").Inc()
	metrics.GasMaxFeePerGas.Set(float64(estimate.MaxFeePerGas))

	e.logger.Info("Quote issued",
		zap.String("quote_id", quote.ID),
		zap.String("user", req.User),
		zap.String("amount_wei", req.Amount.String()),
		zap.Uint64("gas_subsidy_wei", quote.GasEstimate),
		zap.Time("expires_at", quote.ExpiresAt))

	return quote, nil
}

func (e *QuoteEngine) validateRequest(req *QuoteRequest) error {
	if req.Amount == nil || req.Amount.Cmp(e.limits.MinAmount) < 0 {
		return apperrors.New(apperrors.CodeInvalidAmount,
			fmt.Sprintf("amount below minimum %s wei", e.limits.MinAmount))
	}
	if req.Amount.Cmp(e.limits.MaxAmount) > 0 {
		return apperrors.New(apperrors.CodeInvalidAmount,
			fmt.Sprintf("amount above maximum %s wei", e.limits.MaxAmount))
	}
	if !common.IsHexAddress(req.DestinationAddress) || len(req.DestinationAddress) != 42 {
		return apperrors.New(apperrors.CodeInvalidAddress,
			"destination must be a 0x-prefixed 20 byte hex address")
	}
	if !e.chainSupported(req.Chain) {
		return apperrors.New(apperrors.CodeUnsupportedChain,
			fmt.Sprintf("chain %q is not supported", req.Chain))
	}

	// the quote must be coverable at issuance: delivery amount plus a
	// conservative gas buffer, without breaching the critical floor
	if !e.ledger.CanSubsidize(req.Amount, e.limits.GasBuffer) {
		return apperrors.New(apperrors.CodeInsufficientReserve,
			"reserve cannot cover this transfer")
	}
	if !e.ledger.WithinDailyLimit(e.limits.GasBuffer) {
		return apperrors.New(apperrors.CodeInsufficientReserve,
			"daily gas subsidy limit reached")
	}
	return nil
}

func (e *QuoteEngine) chainSupported(chain string) bool {
	for _, supported := range e.limits.Chains {
		if supported == chain {
			return true
		}
	}
	return false
}

// GetQuote returns a quote, transitioning it to expired on read when
// its validity window has passed.
func (e *QuoteEngine) GetQuote(ctx context.Context, id string) (*Quote, error) {
	quote, err := e.store.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeQuoteNotFound, fmt.Sprintf("quote %s not found", id))
		}
		return nil, apperrors.Internal(err)
	}
	if quote.Status == QuoteStatusActive && quote.IsExpired(e.now()) {
		quote.Status = QuoteStatusExpired
		if err := e.store.UpdateQuote(ctx, quote); err != nil {
			e.logger.Warn("Failed to persist quote expiry", zap.String("quote_id", id), zap.Error(err))
		}
	}
	return quote, nil
}

// UserQuotes returns all quotes issued to a user
func (e *QuoteEngine) UserQuotes(ctx context.Context, user string) ([]*Quote, error) {
	quotes, err := e.store.QuotesByUser(ctx, user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	now := e.now()
	for _, quote := range quotes {
		if quote.Status == QuoteStatusActive && quote.IsExpired(now) {
			quote.Status = QuoteStatusExpired
		}
	}
	return quotes, nil
}

func (e *QuoteEngine) audit(ctx context.Context, entry *AuditEntry) {
	if err := e.store.AppendAuditEntry(ctx, entry); err != nil {
		e.logger.Warn("Failed to append audit entry",
			zap.String("event_type", entry.EventType), zap.Error(err))
	}
}
