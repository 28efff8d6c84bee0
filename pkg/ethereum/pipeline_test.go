package ethereum

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/signer"
)

func newTestPipeline(t *testing.T) (*Pipeline, *signer.LocalSigner) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	local := signer.NewLocalSignerFromKey(key)
	return NewPipeline(local, big.NewInt(84532), zap.NewNop()), local
}

func TestBuildAndSign(t *testing.T) {
	pipeline, local := newTestPipeline(t)
	params := validParams()

	signed, err := pipeline.BuildAndSign(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, local.Address(), signed.FromAddress)
	assert.Equal(t, params.To, signed.ToAddress)
	assert.Equal(t, 0, signed.Value.Cmp(params.Value))
	assert.NotEmpty(t, signed.RawTransaction)

	// the raw bytes decode back to a transaction that recovers the
	// signer as sender
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(signed.RawTransaction))
	assert.Equal(t, signed.TransactionHash, tx.Hash())

	from, err := types.Sender(types.LatestSignerForChainID(params.ChainID), tx)
	require.NoError(t, err)
	assert.Equal(t, local.Address(), from)
}

func TestBuildAndSign_InvalidParams(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	params := validParams()
	params.Value = big.NewInt(0)

	_, err := pipeline.BuildAndSign(context.Background(), params)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidAmount))
}

type faultySigner struct {
	signer.Signer
	corrupt bool
}

func (f *faultySigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	sig, err := f.Signer.Sign(ctx, digest)
	if err != nil {
		return nil, err
	}
	if f.corrupt {
		sig[0] ^= 0xff
		sig[10] ^= 0xff
	}
	return sig, nil
}

func TestBuildAndSign_CorruptedSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	faulty := &faultySigner{Signer: signer.NewLocalSignerFromKey(key), corrupt: true}
	pipeline := NewPipeline(faulty, big.NewInt(84532), zap.NewNop())

	_, err = pipeline.BuildAndSign(context.Background(), validParams())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSigningFailed))
}

func TestSignerAddress(t *testing.T) {
	pipeline, local := newTestPipeline(t)
	addr, err := pipeline.SignerAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, local.Address(), addr)
}

func TestRecoverID_MatchesEveryParity(t *testing.T) {
	// run a handful of keys so both even and odd y parities are hit
	for i := 0; i < 8; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		local := signer.NewLocalSignerFromKey(key)

		digest := crypto.Keccak256Hash([]byte{byte(i)})
		sig64, err := local.Sign(context.Background(), digest)
		require.NoError(t, err)

		pubkey, err := local.PublicKey(context.Background())
		require.NoError(t, err)

		recID, err := recoverID(digest, sig64, pubkey)
		require.NoError(t, err)
		assert.LessOrEqual(t, recID, byte(1))
	}
}
