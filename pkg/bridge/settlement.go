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
	"github.com/chainsafe/gasless-bridge/pkg/ethereum"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// SigningPipeline signs delivery transactions
type SigningPipeline interface {
	BuildAndSign(ctx context.Context, params *ethereum.TransactionParams) (*ethereum.SignedTransaction, error)
}

// NonceSource supplies the next nonce for the delivery account
type NonceSource interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// Broadcaster submits raw signed transactions to the network. Optional;
// without one the orchestrator stops after signing and the raw bytes
// are returned to the caller for external submission.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Orchestrator executes settlements: it funds the quote from the
// reserve, signs the delivery transaction and records the outcome.
type Orchestrator struct {
	ledger      *reserve.Ledger
	store       Store
	pipeline    SigningPipeline
	nonces      NonceSource
	broadcaster Broadcaster
	from        common.Address
	chainID     *big.Int
	minProofLen int
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrchestrator creates a settlement orchestrator
func NewOrchestrator(ledger *reserve.Ledger, store Store, pipeline SigningPipeline,
	nonces NonceSource, from common.Address, chainID *big.Int, minProofLen int,
	logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:      ledger,
		store:       store,
		pipeline:    pipeline,
		nonces:      nonces,
		from:        from,
		chainID:     chainID,
		minProofLen: minProofLen,
		logger:      logger,
		now:         time.Now,
	}
}

// WithBroadcaster enables on-chain submission after signing
func (o *Orchestrator) WithBroadcaster(b Broadcaster) *Orchestrator {
	o.broadcaster = b
	return o
}

// WithClock overrides the time source, for tests
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SettlementResult is the outcome of a settle call
type SettlementResult struct {
	Settlement     *Settlement
	RawTransaction []byte
}

// Settle executes an active quote for its owner. Funds for delivery and
// the gas subsidy are locked before signing; a signing failure releases
// them again so a failed settlement leaves the reserve untouched. Once
// a signed transaction exists the settlement is completed and the funds
// stay locked, broadcast is a delivery concern that never reverses it.
// The quote transitions to settled either way, a settlement attempt
// consumes it.
func (o *Orchestrator) Settle(ctx context.Context, user, quoteID, paymentProof string) (*SettlementResult, error) {
	started := o.now()

	quote, err := o.loadActiveQuote(ctx, user, quoteID)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// fast path for a duplicate settle: surface the existing settlement
	if existing, err := o.store.GetSettlementByQuote(ctx, quoteID); err == nil {
		metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
		return nil, apperrors.New(apperrors.CodeAlreadySettled,
			fmt.Sprintf("quote already settled by %s", existing.ID))
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	// weak shape check only; verifying the proof against the payment
	// ledger is the gateway's job
	if len(paymentProof) < o.minProofLen {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.New(apperrors.CodeInvalidProof,
			fmt.Sprintf("payment proof must be at least %d characters", o.minProofLen))
	}

	subsidy := quote.BridgeSubsidy()
	if err := o.ledger.LockGaslessFunds(quote.AmountOut, subsidy); err != nil {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	now := o.now()
	settlement := &Settlement{
		ID:                 NewSettlementID(),
		QuoteID:            quoteID,
		User:               user,
		Amount:             new(big.Int).Set(quote.AmountOut),
		DestinationAddress: quote.DestinationAddress,
		DestinationChain:   quote.Chain,
		PaymentProof:       paymentProof,
		Status:             SettlementStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := o.store.CreateSettlement(ctx, settlement); err != nil {
		// a concurrent settle won the unique quote_id insert; hand the
		// funds back, the winner holds its own lock
		o.ledger.UnlockFunds(new(big.Int).Add(quote.AmountOut, subsidy))
		if errors.Is(err, ErrAlreadyExists) {
			metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			return nil, apperrors.New(apperrors.CodeAlreadySettled, "quote already settled")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "persisting settlement", err)
	}

	quote.Status = QuoteStatusSettled
	if err := o.store.UpdateQuote(ctx, quote); err != nil {
		o.logger.Error("Failed to mark quote settled",
			zap.String("quote_id", quoteID), zap.Error(err))
	}

	result, execErr := o.execute(ctx, quote, settlement)
	if execErr != nil {
		o.compensate(ctx, quote, settlement, execErr)
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, execErr
	}

	o.audit(ctx, &AuditEntry{
		EventType: "settlement_completed",
		Details:   fmt.Sprintf("settlement %s for quote %s", settlement.ID, quoteID),
		User:      user,
		Amount:    new(big.Int).Set(settlement.Amount),
		TxHash:    *settlement.TransactionHash,
		Timestamp: o.now(),
	})

	metrics.SettlementsTotal.WithLabelValues("completed").Inc()
	metrics.SettlementDuration.Observe(o.now().Sub(started).Seconds())
	o.publishReserveMetrics()

	return result, nil
}

func (o *Orchestrator) loadActiveQuote(ctx context.Context, user, quoteID string) (*Quote, error) {
	quote, err := o.store.GetQuote(ctx, quoteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeQuoteNotFound,
				fmt.Sprintf("quote %s not found", quoteID))
		}
		return nil, apperrors.Internal(err)
	}
	if quote.User != user {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "quote belongs to a different user")
	}
	if quote.IsExpired(o.now()) {
		if quote.Status == QuoteStatusActive {
			quote.Status = QuoteStatusExpired
			if err := o.store.UpdateQuote(ctx, quote); err != nil {
				o.logger.Warn("Failed to persist quote expiry",
					zap.String("quote_id", quoteID), zap.Error(err))
			}
		}
		return nil, apperrors.New(apperrors.CodeQuoteExpired,
			fmt.Sprintf("quote expired at %s", quote.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	switch quote.Status {
	case QuoteStatusActive:
		return quote, nil
	case QuoteStatusSettled:
		return nil, apperrors.New(apperrors.CodeAlreadySettled, "quote already settled")
	default:
		return nil, apperrors.New(apperrors.CodeQuoteInvalid,
			fmt.Sprintf("quote is %s", quote.Status))
	}
}

func (o *Orchestrator) execute(ctx context.Context, quote *Quote, settlement *Settlement) (*SettlementResult, error) {
	settlement.MarkExecuting(o.now())
	if err := o.store.UpdateSettlement(ctx, settlement); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "updating settlement", err)
	}

	nonce, err := o.nonces.PendingNonce(ctx, o.from)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "fetching nonce", err)
	}

	params := &ethereum.TransactionParams{
		Nonce:          nonce,
		To:             common.HexToAddress(quote.DestinationAddress),
		Value:          new(big.Int).Set(quote.AmountOut),
		GasLimit:       gas.TransferGasLimit,
		MaxFeePerGas:   quote.MaxFeePerGas,
		MaxPriorityFee: quote.PriorityFee,
		ChainID:        new(big.Int).Set(o.chainID),
	}

	signed, err := o.pipeline.BuildAndSign(ctx, params)
	if err != nil {
		return nil, err
	}

	// a valid signed transaction exists from here on; the settlement is
	// completed and the locked funds are committed to delivery no matter
	// what broadcasting does
	settlement.MarkCompleted(signed.TransactionHash.Hex(), params.GasLimit, o.now())
	if err := o.store.UpdateSettlement(ctx, settlement); err != nil {
		o.logger.Error("Failed to persist completed settlement",
			zap.String("settlement_id", settlement.ID), zap.Error(err))
	}

	if o.broadcaster != nil {
		if _, err := o.broadcaster.BroadcastTransaction(ctx, signed.RawTransaction); err != nil {
			o.recordBroadcastFailure(ctx, settlement, err)
		}
	}

	o.logger.Info("Settlement completed",
		zap.String("settlement_id", settlement.ID),
		zap.String("quote_id", quote.ID),
		zap.String("tx_hash", signed.TransactionHash.Hex()),
		zap.String("destination", settlement.DestinationAddress))

	return &SettlementResult{Settlement: settlement, RawTransaction: signed.RawTransaction}, nil
}

// recordBroadcastFailure notes a failed submission on a completed
// settlement. The transaction may still land, submission can be
// retried with the same raw bytes, so the status and the reserve lock
// are left alone.
func (o *Orchestrator) recordBroadcastFailure(ctx context.Context, settlement *Settlement, cause error) {
	msg := fmt.Sprintf("broadcast failed: %s", cause)
	settlement.LastError = &msg
	settlement.UpdatedAt = o.now()
	if err := o.store.UpdateSettlement(ctx, settlement); err != nil {
		o.logger.Error("Failed to record broadcast failure",
			zap.String("settlement_id", settlement.ID), zap.Error(err))
	}

	o.audit(ctx, &AuditEntry{
		EventType: "broadcast_failed",
		Details:   fmt.Sprintf("settlement %s: %s", settlement.ID, cause),
		User:      settlement.User,
		Amount:    new(big.Int).Set(settlement.Amount),
		TxHash:    *settlement.TransactionHash,
		Timestamp: o.now(),
	})

	o.logger.Warn("Broadcast failed, transaction needs resubmission",
		zap.String("settlement_id", settlement.ID),
		zap.String("tx_hash", *settlement.TransactionHash),
		zap.Error(cause))
	metrics.ErrorsTotal.WithLabelValues("broadcast").Inc()
}

// compensate releases the locked funds and records the failure. The
// quote stays settled, a failed attempt still consumes it.
func (o *Orchestrator) compensate(ctx context.Context, quote *Quote, settlement *Settlement, cause error) {
	o.ledger.UnlockFunds(new(big.Int).Add(quote.AmountOut, quote.BridgeSubsidy()))

	settlement.MarkFailed(cause.Error(), o.now())
	if err := o.store.UpdateSettlement(ctx, settlement); err != nil {
		o.logger.Error("Failed to record settlement failure",
			zap.String("settlement_id", settlement.ID), zap.Error(err))
	}

	o.audit(ctx, &AuditEntry{
		EventType: "settlement_failed",
		Details:   fmt.Sprintf("settlement %s for quote %s: %s", settlement.ID, quote.ID, cause),
		User:      settlement.User,
		Amount:    new(big.Int).Set(settlement.Amount),
		Timestamp: o.now(),
	})

	o.logger.Error("Settlement failed, reserve funds released",
		zap.String("settlement_id", settlement.ID),
		zap.String("quote_id", quote.ID),
		zap.Error(cause))
	o.publishReserveMetrics()
}

// GetSettlement returns a settlement by id
func (o *Orchestrator) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	settlement, err := o.store.GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeQuoteNotFound,
				fmt.Sprintf("settlement %s not found", id))
		}
		return nil, apperrors.Internal(err)
	}
	return settlement, nil
}

// UserSettlements returns all settlements for a user
func (o *Orchestrator) UserSettlements(ctx context.Context, user string) ([]*Settlement, error) {
	settlements, err := o.store.SettlementsByUser(ctx, user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return settlements, nil
}

func (o *Orchestrator) publishReserveMetrics() {
	state := o.ledger.Snapshot()
	metrics.ReserveBalance.WithLabelValues("total").Set(weiToFloat(state.TotalBalance))
	metrics.ReserveBalance.WithLabelValues("locked").Set(weiToFloat(state.LockedBalance))
	metrics.ReserveBalance.WithLabelValues("available").Set(weiToFloat(state.AvailableBalance))
	metrics.DailyGasSubsidy.Set(weiToFloat(state.DailyVolume))
}

func weiToFloat(amount *big.Int) float64 {
	value, _ := new(big.Float).SetInt(amount).Float64()
	return value
}

func (o *Orchestrator) audit(ctx context.Context, entry *AuditEntry) {
	if err := o.store.AppendAuditEntry(ctx, entry); err != nil {
		o.logger.Warn("Failed to append audit entry",
			zap.String("event_type", entry.EventType), zap.Error(err))
	}
}
