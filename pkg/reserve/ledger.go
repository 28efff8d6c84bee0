// Package reserve implements the bridge-owned fund accounting ledger.
// All amounts are wei.
package reserve

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
)

// State is a snapshot of the reserve accounting state.
// Invariant: TotalBalance == LockedBalance + AvailableBalance.
type State struct {
	TotalBalance      *big.Int  `json:"total_balance"`
	LockedBalance     *big.Int  `json:"locked_balance"`
	AvailableBalance  *big.Int  `json:"available_balance"`
	ThresholdWarning  *big.Int  `json:"threshold_warning"`
	ThresholdCritical *big.Int  `json:"threshold_critical"`
	DailyVolume       *big.Int  `json:"daily_volume"`
	DailyLimit        *big.Int  `json:"daily_limit"`
	LastTopup         time.Time `json:"last_topup"`
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	return State{
		TotalBalance:      new(big.Int).Set(s.TotalBalance),
		LockedBalance:     new(big.Int).Set(s.LockedBalance),
		AvailableBalance:  new(big.Int).Set(s.AvailableBalance),
		ThresholdWarning:  new(big.Int).Set(s.ThresholdWarning),
		ThresholdCritical: new(big.Int).Set(s.ThresholdCritical),
		DailyVolume:       new(big.Int).Set(s.DailyVolume),
		DailyLimit:        new(big.Int).Set(s.DailyLimit),
		LastTopup:         s.LastTopup,
	}
}

// HealthStatus is derived from available balance vs thresholds, never stored.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Ledger is the single source of truth for fund availability. All locking
// is atomic and fails closed; compensation is the caller's responsibility.
type Ledger struct {
	mu     sync.Mutex
	state  State
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger creates a ledger with zero balances and the given thresholds
func NewLedger(thresholdWarning, thresholdCritical, dailyLimit *big.Int, logger *zap.Logger) *Ledger {
	return &Ledger{
		state: State{
			TotalBalance:      new(big.Int),
			LockedBalance:     new(big.Int),
			AvailableBalance:  new(big.Int),
			ThresholdWarning:  new(big.Int).Set(thresholdWarning),
			ThresholdCritical: new(big.Int).Set(thresholdCritical),
			DailyVolume:       new(big.Int),
			DailyLimit:        new(big.Int).Set(dailyLimit),
		},
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the ledger's time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// AddFunds credits the reserve. Always succeeds.
func (l *Ledger) AddFunds(amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.TotalBalance.Add(l.state.TotalBalance, amount)
	l.state.LastTopup = l.now()
	l.recompute()

	l.logger.Info("Reserve funds added",
		zap.String("amount", amount.String()),
		zap.String("total", l.state.TotalBalance.String()),
		zap.String("available", l.state.AvailableBalance.String()))
}

// CanLock reports whether amount can be locked without breaching the
// critical floor. The floor preserves emergency capacity even when
// technically sufficient funds exist.
func (l *Ledger) CanLock(amount *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canLock(amount)
}

func (l *Ledger) canLock(amount *big.Int) bool {
	if l.state.AvailableBalance.Cmp(amount) < 0 {
		return false
	}
	remaining := new(big.Int).Sub(l.state.AvailableBalance, amount)
	return remaining.Cmp(l.state.ThresholdCritical) >= 0
}

// LockGaslessFunds atomically locks deliveryAmount + gasSubsidy. The bridge
// pays both the user's delivery and its own gas, so the combined amount is
// checked and locked in one step. The gas-subsidy portion is accumulated
// into the daily volume counter.
func (l *Ledger) LockGaslessFunds(deliveryAmount, gasSubsidy *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := new(big.Int).Add(deliveryAmount, gasSubsidy)
	if !l.canLock(total) {
		return apperrors.New(apperrors.CodeInsufficientReserve,
			fmt.Sprintf("insufficient reserve for gasless delivery: need %s wei, available %s wei",
				total.String(), l.state.AvailableBalance.String()))
	}

	l.state.LockedBalance.Add(l.state.LockedBalance, total)
	l.state.DailyVolume.Add(l.state.DailyVolume, gasSubsidy)
	l.recompute()

	l.logger.Info("Gasless funds locked",
		zap.String("delivery", deliveryAmount.String()),
		zap.String("gas_subsidy", gasSubsidy.String()),
		zap.String("available", l.state.AvailableBalance.String()))

	return nil
}

// CanSubsidize reports whether the reserve can cover a delivery plus its
// gas subsidy without breaching the critical floor
func (l *Ledger) CanSubsidize(deliveryAmount, gasSubsidy *big.Int) bool {
	return l.CanLock(new(big.Int).Add(deliveryAmount, gasSubsidy))
}

// WithinDailyLimit reports whether committing gasSubsidy would keep the
// day's accumulated subsidies under the configured limit
func (l *Ledger) WithinDailyLimit(gasSubsidy *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	projected := new(big.Int).Add(l.state.DailyVolume, gasSubsidy)
	return projected.Cmp(l.state.DailyLimit) <= 0
}

// UnlockFunds is the compensating operation for a failed settlement.
// Saturating: an underflow is clamped to zero and logged, since it
// indicates an unpaired unlock upstream.
func (l *Ledger) UnlockFunds(amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.LockedBalance.Cmp(amount) < 0 {
		l.logger.Error("Unlock exceeds locked balance, clamping to zero",
			zap.String("amount", amount.String()),
			zap.String("locked", l.state.LockedBalance.String()))
		l.state.LockedBalance.SetInt64(0)
	} else {
		l.state.LockedBalance.Sub(l.state.LockedBalance, amount)
	}
	l.recompute()

	l.logger.Info("Reserve funds unlocked",
		zap.String("amount", amount.String()),
		zap.String("available", l.state.AvailableBalance.String()))
}

// recompute re-derives available from total and locked and verifies the
// accounting invariant. Caller must hold the mutex.
func (l *Ledger) recompute() {
	if l.state.LockedBalance.Cmp(l.state.TotalBalance) > 0 {
		// Should never happen through the public API. Clamp rather than
		// continue with corrupted accounting.
		l.logger.Error("Reserve invariant violation: locked exceeds total",
			zap.String("locked", l.state.LockedBalance.String()),
			zap.String("total", l.state.TotalBalance.String()))
		l.state.LockedBalance.Set(l.state.TotalBalance)
	}
	l.state.AvailableBalance.Sub(l.state.TotalBalance, l.state.LockedBalance)
}

// IsBelowWarning reports available balance below the warning threshold
func (l *Ledger) IsBelowWarning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.AvailableBalance.Cmp(l.state.ThresholdWarning) < 0
}

// IsBelowCritical reports available balance below the critical threshold
func (l *Ledger) IsBelowCritical() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.AvailableBalance.Cmp(l.state.ThresholdCritical) < 0
}

// Health derives the reserve health classification
func (l *Ledger) Health() HealthStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state.AvailableBalance.Cmp(l.state.ThresholdCritical) < 0:
		return HealthCritical
	case l.state.AvailableBalance.Cmp(l.state.ThresholdWarning) < 0:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// DailyGasSubsidy returns the gas subsidy volume accumulated today
func (l *Ledger) DailyGasSubsidy() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.state.DailyVolume)
}

// ResetDailyVolume zeroes the daily volume counter. Called by the engine
// on UTC day rollover.
func (l *Ledger) ResetDailyVolume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.DailyVolume.SetInt64(0)
}

// SetThresholds replaces the warning and critical thresholds
func (l *Ledger) SetThresholds(warning, critical *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.ThresholdWarning.Set(warning)
	l.state.ThresholdCritical.Set(critical)
}

// SetDailyLimit replaces the daily volume limit
func (l *Ledger) SetDailyLimit(limit *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.DailyLimit.Set(limit)
}

// Utilization returns locked/total as a percentage, 0 when empty
func (l *Ledger) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.TotalBalance.Sign() == 0 {
		return 0
	}
	locked, _ := new(big.Float).SetInt(l.state.LockedBalance).Float64()
	total, _ := new(big.Float).SetInt(l.state.TotalBalance).Float64()
	return locked / total * 100
}

// Snapshot returns a deep copy of the current state for persistence
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Restore replaces the ledger state from a persisted snapshot
func (l *Ledger) Restore(state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state.Clone()
	l.recompute()
}
