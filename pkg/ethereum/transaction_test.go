package ethereum

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
)

func validParams() *TransactionParams {
	return &TransactionParams{
		Nonce:          7,
		To:             common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f8fA8e"),
		Value:          big.NewInt(1_000_000_000_000_000_000),
		GasLimit:       21_000,
		MaxFeePerGas:   30_000_000_000,
		MaxPriorityFee: 2_000_000_000,
		ChainID:        big.NewInt(84532),
	}
}

func TestTransactionParamsValidate(t *testing.T) {
	require.NoError(t, validParams().Validate(big.NewInt(84532)))

	tests := []struct {
		name   string
		mutate func(*TransactionParams)
		code   apperrors.Code
	}{
		{"zero recipient", func(p *TransactionParams) { p.To = common.Address{} }, apperrors.CodeInvalidAddress},
		{"nil value", func(p *TransactionParams) { p.Value = nil }, apperrors.CodeInvalidAmount},
		{"zero value", func(p *TransactionParams) { p.Value = big.NewInt(0) }, apperrors.CodeInvalidAmount},
		{"negative value", func(p *TransactionParams) { p.Value = big.NewInt(-1) }, apperrors.CodeInvalidAmount},
		{"gas limit too low", func(p *TransactionParams) { p.GasLimit = 20_000 }, apperrors.CodeGasPriceTooHigh},
		{"priority above max fee", func(p *TransactionParams) { p.MaxPriorityFee = p.MaxFeePerGas + 1 }, apperrors.CodeGasPriceTooHigh},
		{"missing chain id", func(p *TransactionParams) { p.ChainID = nil }, apperrors.CodeUnsupportedChain},
		{"wrong chain id", func(p *TransactionParams) { p.ChainID = big.NewInt(1) }, apperrors.CodeUnsupportedChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(params)
			err := params.Validate(big.NewInt(84532))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestUnsigned(t *testing.T) {
	params := validParams()
	tx := params.Unsigned()

	assert.Equal(t, uint8(2), tx.Type())
	assert.Equal(t, params.Nonce, tx.Nonce())
	assert.Equal(t, params.To, *tx.To())
	assert.Equal(t, 0, tx.Value().Cmp(params.Value))
	assert.Equal(t, params.GasLimit, tx.Gas())
	assert.Equal(t, params.MaxFeePerGas, tx.GasFeeCap().Uint64())
	assert.Equal(t, params.MaxPriorityFee, tx.GasTipCap().Uint64())
	assert.Equal(t, 0, tx.ChainId().Cmp(params.ChainID))
}
