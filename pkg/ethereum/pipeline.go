// Package ethereum builds, signs and broadcasts the EVM transactions
// that deliver settled funds.
package ethereum

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/gasless-bridge/pkg/app/errors"
	"github.com/chainsafe/gasless-bridge/pkg/signer"
)

// Pipeline turns transaction parameters into broadcast-ready raw bytes.
// The signer returns signatures without a recovery id, so the pipeline
// reconstructs it by trying each candidate against the signer's public
// key. The public key is fetched once and cached; the signing key does
// not rotate within a process lifetime.
type Pipeline struct {
	signer  signer.Signer
	chainID *big.Int
	logger  *zap.Logger

	pubkeyOnce sync.Once
	pubkey     []byte
	pubkeyErr  error
}

// NewPipeline creates a signing pipeline bound to one chain
func NewPipeline(s signer.Signer, chainID *big.Int, logger *zap.Logger) *Pipeline {
	return &Pipeline{signer: s, chainID: chainID, logger: logger}
}

// BuildAndSign validates the parameters, signs the transaction hash and
// assembles the raw transaction.
func (p *Pipeline) BuildAndSign(ctx context.Context, params *TransactionParams) (*SignedTransaction, error) {
	if err := params.Validate(p.chainID); err != nil {
		return nil, err
	}

	tx := params.Unsigned()
	ethSigner := types.LatestSignerForChainID(params.ChainID)
	sigHash := ethSigner.Hash(tx)

	pubkey, err := p.publicKey(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "fetching signer public key", err)
	}

	sig64, err := p.signer.Sign(ctx, sigHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "signing transaction", err)
	}
	if len(sig64) != 64 {
		return nil, apperrors.New(apperrors.CodeSigningFailed,
			fmt.Sprintf("signer returned %d byte signature, expected 64", len(sig64)))
	}

	recID, err := recoverID(sigHash, sig64, pubkey)
	if err != nil {
		return nil, err
	}

	sig65 := make([]byte, 65)
	copy(sig65, sig64)
	sig65[64] = recID

	signedTx, err := tx.WithSignature(ethSigner, sig65)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "attaching signature", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "encoding signed transaction", err)
	}

	from, err := types.Sender(ethSigner, signedTx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailed, "recovering sender", err)
	}

	p.logger.Debug("Transaction signed",
		zap.String("hash", signedTx.Hash().Hex()),
		zap.String("to", params.To.Hex()),
		zap.Uint64("nonce", params.Nonce),
		zap.Uint8("recovery_id", recID))

	return &SignedTransaction{
		RawTransaction:  raw,
		TransactionHash: signedTx.Hash(),
		FromAddress:     from,
		ToAddress:       params.To,
		Value:           new(big.Int).Set(params.Value),
		GasLimit:        params.GasLimit,
		MaxFeePerGas:    params.MaxFeePerGas,
	}, nil
}

// SignerAddress returns the delivery address derived from the signer key
func (p *Pipeline) SignerAddress(ctx context.Context) (common.Address, error) {
	pubkey, err := p.publicKey(ctx)
	if err != nil {
		return common.Address{}, err
	}
	decompressed, err := crypto.DecompressPubkey(pubkey)
	if err != nil {
		return common.Address{}, apperrors.Wrap(apperrors.CodeSigningFailed, "decompressing signer public key", err)
	}
	return crypto.PubkeyToAddress(*decompressed), nil
}

func (p *Pipeline) publicKey(ctx context.Context) ([]byte, error) {
	p.pubkeyOnce.Do(func() {
		p.pubkey, p.pubkeyErr = p.signer.PublicKey(ctx)
		if p.pubkeyErr == nil && len(p.pubkey) != 33 {
			p.pubkeyErr = fmt.Errorf("expected 33 byte compressed public key, got %d", len(p.pubkey))
		}
	})
	return p.pubkey, p.pubkeyErr
}

// recoverID finds the recovery id that makes the signature recover to
// the signer's public key.
func recoverID(sigHash [32]byte, sig64, compressedPubkey []byte) (byte, error) {
	decompressed, err := crypto.DecompressPubkey(compressedPubkey)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeSigningFailed, "decompressing signer public key", err)
	}
	expected := crypto.FromECDSAPub(decompressed)

	candidate := make([]byte, 65)
	copy(candidate, sig64)
	for recID := byte(0); recID < 4; recID++ {
		candidate[64] = recID
		recovered, err := crypto.Ecrecover(sigHash[:], candidate)
		if err != nil {
			continue
		}
		if bytes.Equal(recovered, expected) {
			return recID, nil
		}
	}
	return 0, apperrors.New(apperrors.CodeSigningFailed,
		"no recovery id matches the signer public key")
}
