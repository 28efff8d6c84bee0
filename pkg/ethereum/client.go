package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/gasless-bridge/pkg/config"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
)

// Client wraps the Ethereum RPC connection used for fee history, nonce
// tracking and broadcast.
type Client struct {
	config *config.EthereumConfig
	client *ethclient.Client
	logger *zap.Logger
}

// NewClient creates a new Ethereum client
func NewClient(cfg *config.EthereumConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	logger.Info("Connected to Ethereum",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL))

	return &Client{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// FetchFeeHistory samples recent blocks at the 25th, 50th and 75th
// reward percentiles for the gas estimator.
func (c *Client) FetchFeeHistory(ctx context.Context, _ string) (*gas.FeeHistory, error) {
	result, err := c.client.FeeHistory(ctx, c.config.FeeHistoryBlocks, nil, []float64{25, 50, 75})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fee history: %w", err)
	}

	history := &gas.FeeHistory{
		BaseFees:          make([]uint64, 0, len(result.BaseFee)),
		GasUsedRatios:     result.GasUsedRatio,
		RewardPercentiles: make([][]uint64, 0, len(result.Reward)),
	}
	for _, fee := range result.BaseFee {
		history.BaseFees = append(history.BaseFees, fee.Uint64())
	}
	for _, block := range result.Reward {
		percentiles := make([]uint64, 0, len(block))
		for _, reward := range block {
			percentiles = append(percentiles, reward.Uint64())
		}
		history.RewardPercentiles = append(history.RewardPercentiles, percentiles)
	}
	return history, nil
}

// PendingNonce returns the next nonce for the delivery account
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	return nonce, nil
}

// BroadcastTransaction submits a raw signed transaction to the network
func (c *Client) BroadcastTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode raw transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	c.logger.Info("Transaction broadcast",
		zap.String("hash", tx.Hash().Hex()))

	return tx.Hash(), nil
}

// LatestBlockNumber returns the current chain head height
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

// Balance returns the wei balance of an account at the latest block
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, account, nil)
}

// Close shuts down the RPC connection
func (c *Client) Close() {
	c.client.Close()
}
