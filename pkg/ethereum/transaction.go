package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/gas"
)

// TransactionParams describes a native EIP-1559 transfer before signing
type TransactionParams struct {
	Nonce          uint64
	To             common.Address
	Value          *big.Int
	GasLimit       uint64
	MaxFeePerGas   uint64
	MaxPriorityFee uint64
	ChainID        *big.Int
}

// Validate rejects parameter sets that could never be accepted on chain
// or that target the wrong network.
func (p *TransactionParams) Validate(expectedChainID *big.Int) error {
	if p.To == (common.Address{}) {
		return apperrors.New(apperrors.CodeInvalidAddress, "transaction recipient is the zero address")
	}
	if p.Value == nil || p.Value.Sign() <= 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "transaction value must be positive")
	}
	if p.GasLimit < gas.TransferGasLimit {
		return apperrors.New(apperrors.CodeGasPriceTooHigh,
			fmt.Sprintf("gas limit %d below transfer minimum %d", p.GasLimit, gas.TransferGasLimit))
	}
	if p.MaxFeePerGas < p.MaxPriorityFee {
		return apperrors.New(apperrors.CodeGasPriceTooHigh,
			"max fee per gas below max priority fee")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return apperrors.New(apperrors.CodeUnsupportedChain, "missing chain id")
	}
	if expectedChainID != nil && p.ChainID.Cmp(expectedChainID) != 0 {
		return apperrors.New(apperrors.CodeUnsupportedChain,
			fmt.Sprintf("chain id %s does not match expected %s", p.ChainID, expectedChainID))
	}
	return nil
}

// Unsigned builds the typed transaction for these parameters
func (p *TransactionParams) Unsigned() *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.ChainID,
		Nonce:     p.Nonce,
		GasTipCap: new(big.Int).SetUint64(p.MaxPriorityFee),
		GasFeeCap: new(big.Int).SetUint64(p.MaxFeePerGas),
		Gas:       p.GasLimit,
		To:        &p.To,
		Value:     p.Value,
	})
}

// SignedTransaction is a fully assembled transaction ready for broadcast
type SignedTransaction struct {
	RawTransaction  []byte
	TransactionHash common.Hash
	FromAddress     common.Address
	ToAddress       common.Address
	Value           *big.Int
	GasLimit        uint64
	MaxFeePerGas    uint64
}
