package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EnclaveSigner holds an ECDSA private key sealed at rest in a
// memguard.Enclave, opening it only momentarily to sign, the same
// pattern as the teacher's SessionManager generalized from a
// TTL-and-value-limited Polymarket order signer to a plain
// store.Signer: SSSS's node identity key has no order value to meter
// and is expected to remain active for the node's whole lifetime, so
// the TTL/value-limit machinery the teacher built around Polymarket
// sessions has no SSSS equivalent and is dropped rather than kept
// unused.
type EnclaveSigner struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	address common.Address
}

// NewEnclaveSigner seals keyBytes into a memguard Enclave and derives
// the signer's Ethereum address. The caller must zero its own copy of
// keyBytes after this returns (e.g. via internal/zero.Wipe).
func NewEnclaveSigner(keyBytes []byte) (*EnclaveSigner, error) {
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)
	return &EnclaveSigner{
		enclave: memguard.NewEnclave(keyBytes),
		address: addr,
	}, nil
}

// Sign opens the enclave momentarily, signs digest with ECDSA, and
// returns a 65-byte (r || s || v) signature with v in {27, 28}.
func (s *EnclaveSigner) Sign(_ context.Context, digest common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("signer: open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}

	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("signer: ecdsa sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignerAddress returns the address derived at construction.
func (s *EnclaveSigner) SignerAddress(context.Context) (common.Address, error) {
	return s.address, nil
}
