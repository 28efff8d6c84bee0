// Package signer abstracts the key holder that authorizes outbound
// transactions. The production deployment fronts a remote threshold
// signing service; LocalSigner covers development and tests.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces raw ECDSA signatures over 32-byte digests.
// PublicKey returns the 33-byte compressed secp256k1 public key and
// Sign returns the 64-byte r||s signature without a recovery id.
type Signer interface {
	PublicKey(ctx context.Context) ([]byte, error)
	Sign(ctx context.Context, digest [32]byte) ([]byte, error)
}

// LocalSigner signs with an in-process private key
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner parses a hex-encoded private key
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing signer private key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

// NewLocalSignerFromKey wraps an existing key, for tests
func NewLocalSignerFromKey(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) PublicKey(_ context.Context) ([]byte, error) {
	return crypto.CompressPubkey(&s.key.PublicKey), nil
}

func (s *LocalSigner) Sign(_ context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}
	// strip the recovery id, callers reconstruct it from the public key
	return sig[:64], nil
}

// Address returns the EVM address controlled by the key
func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}
