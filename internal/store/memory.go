package store

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/escrin/ssss-node/internal/types"
)

// shareSlot is one version's worth of share state. A nil *shareSlot
// stored in entries (as opposed to a missing key) is a tombstone: the
// version existed and was deleted. expiry nil means committed/durable.
type shareSlot struct {
	share  types.SecretShare
	expiry *time.Time
}

type shareSeries struct {
	maxVersion types.ShareVersion
	entries    map[types.ShareVersion]*shareSlot
}

type keySlot struct {
	key types.WrappedKey
}

type keySeries struct {
	maxVersion types.KeyVersion
	entries    map[types.KeyVersion]*keySlot
}

// Memory is an in-process Store and Signer backend. It holds an
// ephemeral ECDSA keypair generated at construction and never persists
// anything to disk; restarting the process loses all state, including
// the signer identity. Intended for tests and local development, the
// same role original_source/ssss/src/backend/memory.rs's Backend plays
// in the Rust original.
type Memory struct {
	mu         sync.RWMutex
	shares     map[string]*shareSeries
	keys       map[string]*keySeries
	verifiers  map[string][]byte
	chainState map[types.ChainID]uint64
	nonces     map[string]map[[32]byte]struct{}

	signingKey *ecdsa.PrivateKey
	address    common.Address
}

// NewMemory constructs an empty Memory backend with a freshly generated
// signing key.
func NewMemory() (*Memory, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating signer key: %w", err)
	}
	return &Memory{
		shares:     make(map[string]*shareSeries),
		keys:       make(map[string]*keySeries),
		verifiers:  make(map[string][]byte),
		chainState: make(map[types.ChainID]uint64),
		nonces:     make(map[string]map[[32]byte]struct{}),
		signingKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func shareSeriesKey(identity types.IdentityLocator, name string) string {
	return types.ShareID{Identity: identity, SecretName: name}.ToKey()
}

func keySeriesKey(identity types.IdentityLocator, name string) string {
	return types.KeyID{Identity: identity, Name: name}.ToKey()
}

func verifierKey(permitter types.PermitterLocator, identity types.IdentityLocator) string {
	return permitter.ToKey() + "/" + identity.ToKey()
}

func (m *Memory) PutShare(_ context.Context, id types.ShareID, share types.SecretShare) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := shareSeriesKey(id.Identity, id.SecretName)
	series, ok := m.shares[key]
	if !ok {
		series = &shareSeries{entries: make(map[types.ShareVersion]*shareSlot)}
		m.shares[key] = series
	}
	if id.Version != series.maxVersion+1 {
		return false, nil
	}
	expiry := time.Now().Add(PreCommitExpiry)
	series.entries[id.Version] = &shareSlot{share: share, expiry: &expiry}
	series.maxVersion = id.Version
	return true, nil
}

func (m *Memory) CommitShare(ctx context.Context, id types.ShareID) (bool, error) {
	m.mu.Lock()
	key := shareSeriesKey(id.Identity, id.SecretName)
	series, ok := m.shares[key]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	slot, ok := series.entries[id.Version]
	if !ok || slot == nil {
		m.mu.Unlock()
		return false, nil
	}

	var committed bool
	var toDelete types.ShareVersion
	haveToDelete := false
	if slot.expiry != nil {
		committed = slot.expiry.After(time.Now())
		if committed {
			slot.expiry = nil
			if id.Version > 1 {
				toDelete = id.Version - 1
				haveToDelete = true
			}
		}
	} else {
		committed = true
	}
	m.mu.Unlock()

	if haveToDelete {
		if err := m.DeleteShare(ctx, types.ShareID{Identity: id.Identity, SecretName: id.SecretName, Version: toDelete}); err != nil {
			return committed, err
		}
	}
	return committed, nil
}

func (m *Memory) GetShare(_ context.Context, id types.ShareID) (*types.SecretShare, error) {
	m.mu.RLock()
	series, ok := m.shares[shareSeriesKey(id.Identity, id.SecretName)]
	if !ok {
		m.mu.RUnlock()
		return nil, nil
	}
	slot, ok := series.entries[id.Version]
	if !ok || slot == nil {
		m.mu.RUnlock()
		return nil, nil
	}
	expired := slot.expiry != nil && !slot.expiry.After(time.Now())
	share := slot.share
	m.mu.RUnlock()

	if expired {
		// An expired latest pre-commit is dropped so the previous version
		// is current again; an older one is tombstoned.
		m.mu.Lock()
		if cur := series.entries[id.Version]; cur != nil && cur.expiry != nil && !cur.expiry.After(time.Now()) {
			if id.Version == series.maxVersion {
				delete(series.entries, id.Version)
				series.maxVersion--
			} else {
				series.entries[id.Version] = nil
			}
		}
		m.mu.Unlock()
		return nil, nil
	}
	return &share, nil
}

func (m *Memory) GetCurrentShareVersion(_ context.Context, identity types.IdentityLocator, name string) (types.ShareVersion, bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.shares[shareSeriesKey(identity, name)]
	if !ok || series.maxVersion == 0 {
		return 0, false, false, nil
	}
	slot, ok := series.entries[series.maxVersion]
	if !ok || slot == nil {
		return 0, false, false, nil
	}
	return series.maxVersion, slot.expiry != nil, true, nil
}

func (m *Memory) DeleteShare(_ context.Context, id types.ShareID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.shares[shareSeriesKey(id.Identity, id.SecretName)]
	if !ok {
		return nil
	}
	if _, existed := series.entries[id.Version]; existed {
		series.entries[id.Version] = nil
	}
	return nil
}

func (m *Memory) PutSecret(_ context.Context, id types.KeyID, key types.WrappedKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seriesKey := keySeriesKey(id.Identity, id.Name)
	series, ok := m.keys[seriesKey]
	if !ok {
		series = &keySeries{entries: make(map[types.KeyVersion]*keySlot)}
		m.keys[seriesKey] = series
	}
	if id.Version != series.maxVersion+1 {
		return false, nil
	}
	series.entries[id.Version] = &keySlot{key: key}
	series.maxVersion = id.Version
	return true, nil
}

func (m *Memory) GetSecret(_ context.Context, id types.KeyID) (types.WrappedKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.keys[keySeriesKey(id.Identity, id.Name)]
	if !ok {
		return nil, false, nil
	}
	slot, ok := series.entries[id.Version]
	if !ok || slot == nil {
		return nil, false, nil
	}
	return slot.key, true, nil
}

func (m *Memory) DeleteSecret(_ context.Context, id types.KeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.keys[keySeriesKey(id.Identity, id.Name)]
	if !ok {
		return nil
	}
	if _, existed := series.entries[id.Version]; existed {
		series.entries[id.Version] = nil
	}
	return nil
}

func (m *Memory) PutVerifier(_ context.Context, permitter types.PermitterLocator, identity types.IdentityLocator, config []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifiers[verifierKey(permitter, identity)] = config
	return nil
}

func (m *Memory) GetVerifier(_ context.Context, permitter types.PermitterLocator, identity types.IdentityLocator) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	config, ok := m.verifiers[verifierKey(permitter, identity)]
	return config, ok, nil
}

func (m *Memory) GetChainState(_ context.Context, chain types.ChainID) (types.ChainState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.chainState[chain]
	return types.ChainState{Block: block}, ok, nil
}

func (m *Memory) UpdateChainState(_ context.Context, chain types.ChainID, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.chainState[chain]; ok && block <= current {
		return nil
	}
	m.chainState[chain] = block
	return nil
}

func (m *Memory) CheckAndSetNonce(_ context.Context, identity types.IdentityLocator, nonce [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identity.ToKey()
	seen, ok := m.nonces[key]
	if !ok {
		seen = make(map[[32]byte]struct{})
		m.nonces[key] = seen
	}
	if _, used := seen[nonce]; used {
		return false, nil
	}
	seen[nonce] = struct{}{}
	return true, nil
}

func (m *Memory) Sign(_ context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), m.signingKey)
	if err != nil {
		return nil, err
	}
	// crypto.Sign yields a recovery id in sig[64] of 0 or 1, already
	// correctly selected for this key; the Rust original's
	// signature_to_rsv brute-forces both candidates against a known
	// address because its signing primitive doesn't hand back the
	// recovery id directly. Normalize to the conventional 27/28 here.
	sig[64] += 27
	return sig, nil
}

func (m *Memory) SignerAddress(_ context.Context) (common.Address, error) {
	return m.address, nil
}
