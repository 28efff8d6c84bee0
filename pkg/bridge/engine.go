package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/internal/metrics"
	"github.com/chainsafe/gasless-bridge/pkg/reserve"
)

// Engine runs the background reconciliation loop: it fails out stuck
// settlements and releases their funds, rolls the daily subsidy counter
// over at UTC midnight and persists reserve snapshots.
type Engine struct {
	ledger            *reserve.Ledger
	store             Store
	settlementTimeout time.Duration
	interval          time.Duration
	logger            *zap.Logger
	now               func() time.Time

	currentDay time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates the reconciliation engine
func NewEngine(ledger *reserve.Ledger, store Store, settlementTimeout, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:            ledger,
		store:             store,
		settlementTimeout: settlementTimeout,
		interval:          interval,
		logger:            logger,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
}

// WithClock overrides the time source, for tests
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Start launches the reconciliation loop
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Info("Reconciliation engine started",
		zap.Duration("interval", e.interval),
		zap.Duration("settlement_timeout", e.settlementTimeout))
}

// Stop shuts the loop down and waits for it to drain
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("Reconciliation engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Reconcile(context.Background())
		}
	}
}

// Reconcile runs one pass of the background maintenance work
func (e *Engine) Reconcile(ctx context.Context) {
	e.rolloverDailyVolume()
	e.failStuckSettlements(ctx)
	e.snapshotReserve(ctx)
	e.publishMetrics()
}

// rolloverDailyVolume resets the subsidy counter when the UTC day changes
func (e *Engine) rolloverDailyVolume() {
	today := e.now().UTC().Truncate(24 * time.Hour)
	if e.currentDay.IsZero() {
		e.currentDay = today
		return
	}
	if today.After(e.currentDay) {
		spent := e.ledger.DailyGasSubsidy()
		e.ledger.ResetDailyVolume()
		e.currentDay = today
		e.logger.Info("Daily gas subsidy counter reset",
			zap.String("previous_day_subsidy_wei", spent.String()),
			zap.Time("day", today))
	}
}

// failStuckSettlements fails out settlements that never reached a
// terminal state and releases their reserve funds. A crash between
// locking and signing would otherwise strand the funds forever.
func (e *Engine) failStuckSettlements(ctx context.Context) {
	cutoff := e.now().Add(-e.settlementTimeout)
	stuck, err := e.store.PendingSettlementsBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("Failed to list stuck settlements", zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues("engine").Inc()
		return
	}

	for _, settlement := range stuck {
		quote, err := e.store.GetQuote(ctx, settlement.QuoteID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.logger.Error("Stuck settlement references missing quote",
					zap.String("settlement_id", settlement.ID),
					zap.String("quote_id", settlement.QuoteID))
			} else {
				e.logger.Error("Failed to load quote for stuck settlement",
					zap.String("settlement_id", settlement.ID), zap.Error(err))
			}
			metrics.ErrorsTotal.WithLabelValues("engine").Inc()
			continue
		}

		e.ledger.UnlockFunds(new(big.Int).Add(quote.AmountOut, quote.BridgeSubsidy()))

		settlement.MarkFailed("settlement timed out", e.now())
		if err := e.store.UpdateSettlement(ctx, settlement); err != nil {
			e.logger.Error("Failed to fail out stuck settlement",
				zap.String("settlement_id", settlement.ID), zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("engine").Inc()
			continue
		}

		if err := e.store.AppendAuditEntry(ctx, &AuditEntry{
			EventType: "settlement_timed_out",
			Details:   fmt.Sprintf("settlement %s for quote %s timed out, funds released", settlement.ID, quote.ID),
			User:      settlement.User,
			Amount:    new(big.Int).Set(settlement.Amount),
			Timestamp: e.now(),
		}); err != nil {
			e.logger.Warn("Failed to append audit entry", zap.Error(err))
		}

		metrics.SettlementsTotal.WithLabelValues("timed_out").Inc()
		e.logger.Warn("Stuck settlement failed out",
			zap.String("settlement_id", settlement.ID),
			zap.String("quote_id", quote.ID),
			zap.Time("created_at", settlement.CreatedAt))
	}
}

func (e *Engine) snapshotReserve(ctx context.Context) {
	state := e.ledger.Snapshot()
	if err := e.store.SaveReserveSnapshot(ctx, &state); err != nil {
		e.logger.Error("Failed to persist reserve snapshot", zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues("engine").Inc()
	}
}

func (e *Engine) publishMetrics() {
	state := e.ledger.Snapshot()
	metrics.ReserveBalance.WithLabelValues("total").Set(weiToFloat(state.TotalBalance))
	metrics.ReserveBalance.WithLabelValues("locked").Set(weiToFloat(state.LockedBalance))
	metrics.ReserveBalance.WithLabelValues("available").Set(weiToFloat(state.AvailableBalance))
	metrics.DailyGasSubsidy.Set(weiToFloat(state.DailyVolume))

	switch e.ledger.Health() {
	case reserve.HealthCritical:
		metrics.ReserveHealth.Set(2)
	case reserve.HealthWarning:
		metrics.ReserveHealth.Set(1)
	default:
		metrics.ReserveHealth.Set(0)
	}
}
