package bridge_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/pkg/bridge"
	"github.com/chainsafe/gasless-bridge/pkg/db"
)

func TestEngine_FailsStuckSettlements(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	ledger := newFundedLedger(eth(10))

	quote, err := newQuoteEngine(ledger, store, fixedEstimator(), now.Add(-20*time.Minute)).
		RequestQuote(context.Background(), quoteRequest(eth(1)))
	require.NoError(t, err)

	// simulate a crash after locking: funds held, settlement never
	// left pending
	subsidy := quote.BridgeSubsidy()
	require.NoError(t, ledger.LockGaslessFunds(quote.AmountOut, subsidy))
	stuck := &bridge.Settlement{
		ID:           bridge.NewSettlementID(),
		QuoteID:      quote.ID,
		User:         testUser,
		Amount:       new(big.Int).Set(quote.AmountOut),
		PaymentProof: testProof,
		Status:       bridge.SettlementStatusPending,
		CreatedAt:    now.Add(-15 * time.Minute),
		UpdatedAt:    now.Add(-15 * time.Minute),
	}
	require.NoError(t, store.CreateSettlement(context.Background(), stuck))

	engine := bridge.NewEngine(ledger, store, 10*time.Minute, time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return now })
	engine.Reconcile(context.Background())

	settlement, err := store.GetSettlement(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, bridge.SettlementStatusFailed, settlement.Status)
	require.NotNil(t, settlement.LastError)
	assert.Contains(t, *settlement.LastError, "timed out")

	// locked funds were released
	state := ledger.Snapshot()
	assert.Equal(t, 0, state.LockedBalance.Sign())
	assert.Equal(t, 0, state.AvailableBalance.Cmp(eth(10)))
}

func TestEngine_LeavesRecentSettlementsAlone(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	ledger := newFundedLedger(eth(10))

	quote, err := newQuoteEngine(ledger, store, fixedEstimator(), now).
		RequestQuote(context.Background(), quoteRequest(eth(1)))
	require.NoError(t, err)

	recent := &bridge.Settlement{
		ID:           bridge.NewSettlementID(),
		QuoteID:      quote.ID,
		User:         testUser,
		Amount:       new(big.Int).Set(quote.AmountOut),
		PaymentProof: testProof,
		Status:       bridge.SettlementStatusExecuting,
		CreatedAt:    now.Add(-time.Minute),
		UpdatedAt:    now.Add(-time.Minute),
	}
	require.NoError(t, store.CreateSettlement(context.Background(), recent))

	engine := bridge.NewEngine(ledger, store, 10*time.Minute, time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return now })
	engine.Reconcile(context.Background())

	settlement, err := store.GetSettlement(context.Background(), recent.ID)
	require.NoError(t, err)
	assert.Equal(t, bridge.SettlementStatusExecuting, settlement.Status)
}

func TestEngine_DailyRollover(t *testing.T) {
	day1 := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	ledger := newFundedLedger(eth(10))

	require.NoError(t, ledger.LockGaslessFunds(eth(1), eth(0.005)))
	require.Equal(t, 0, ledger.DailyGasSubsidy().Cmp(eth(0.005)))

	current := day1
	engine := bridge.NewEngine(ledger, store, 10*time.Minute, time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return current })
	engine.Start()
	defer engine.Stop()

	// same day: counter untouched
	engine.Reconcile(context.Background())
	assert.Equal(t, 0, ledger.DailyGasSubsidy().Cmp(eth(0.005)))

	// crossing UTC midnight resets the counter
	current = day1.Add(20 * time.Minute)
	engine.Reconcile(context.Background())
	assert.Equal(t, 0, ledger.DailyGasSubsidy().Sign())
}

func TestEngine_SnapshotsReserve(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := db.NewMemoryStore()
	ledger := newFundedLedger(eth(10))

	engine := bridge.NewEngine(ledger, store, 10*time.Minute, time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return now })
	engine.Reconcile(context.Background())

	snapshot, err := store.LoadReserveSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.TotalBalance.Cmp(eth(10)))
	assert.Equal(t, 0, snapshot.AvailableBalance.Cmp(eth(10)))
}
