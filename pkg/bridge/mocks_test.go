package bridge_test

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/gasless-bridge/pkg/ethereum"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
)

type mockEstimator struct {
	EstimateFn func(ctx context.Context, chain string) (*gas.Estimate, error)
}

func (m *mockEstimator) Estimate(ctx context.Context, chain string) (*gas.Estimate, error) {
	return m.EstimateFn(ctx, chain)
}

type mockPipeline struct {
	BuildAndSignFn func(ctx context.Context, params *ethereum.TransactionParams) (*ethereum.SignedTransaction, error)
}

func (m *mockPipeline) BuildAndSign(ctx context.Context, params *ethereum.TransactionParams) (*ethereum.SignedTransaction, error) {
	return m.BuildAndSignFn(ctx, params)
}

type mockNonceSource struct {
	PendingNonceFn func(ctx context.Context, account common.Address) (uint64, error)
}

func (m *mockNonceSource) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return m.PendingNonceFn(ctx, account)
}

type mockBroadcaster struct {
	BroadcastFn func(ctx context.Context, raw []byte) (common.Hash, error)
}

func (m *mockBroadcaster) BroadcastTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	return m.BroadcastFn(ctx, raw)
}
