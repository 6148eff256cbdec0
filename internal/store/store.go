// Package store defines the pre-commit versioned share/key store and the
// node's signer, plus a memory-backed implementation. Cloud (KMS+DynamoDB)
// and local (bbolt) backends live alongside it in the same package.
package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrin/ssss-node/internal/types"
)

// PreCommitExpiry is how long a newly put share version is held as
// an uncommitted pre-commit before it is treated as absent. Matches
// original_source/ssss/src/backend/mod.rs's PRE_COMMIT_EXPIRY.
const PreCommitExpiry = 10 * time.Minute

// Store is the versioned pre-commit share/key store, plus the supporting
// verifier, chain-state, and nonce tables. All methods are safe for
// concurrent use.
type Store interface {
	// PutShare records share as version id.Version of the named secret
	// for id.Identity. It reports false (not an error) if id.Version is
	// not exactly one more than the current version, or if a pending,
	// unexpired pre-commit already occupies that slot.
	PutShare(ctx context.Context, id types.ShareID, share types.SecretShare) (bool, error)

	// CommitShare clears the pre-commit expiry on id's version, making it
	// the durable current version, and deletes the prior version. It
	// reports false if id's version does not exist or its pre-commit has
	// already expired.
	CommitShare(ctx context.Context, id types.ShareID) (bool, error)

	// GetShare returns the share at id's version, or nil if absent,
	// deleted, or an unexpired... rather an *expired* pre-commit (an
	// uncommitted share past its expiry is treated as absent and may be
	// lazily deleted).
	GetShare(ctx context.Context, id types.ShareID) (*types.SecretShare, error)

	// GetCurrentShareVersion returns the latest version in the series
	// for (identity, name), and whether it is still a pending (uncommitted)
	// pre-commit. ok is false if the series is empty or its latest entry
	// has been deleted.
	GetCurrentShareVersion(ctx context.Context, identity types.IdentityLocator, name string) (version types.ShareVersion, pending bool, ok bool, err error)

	// DeleteShare tombstones the given version. A no-op if that version
	// was never put.
	DeleteShare(ctx context.Context, id types.ShareID) error

	// PutSecret, GetSecret, DeleteSecret mirror the share operations for
	// wrapped keys. Keys have no pre-commit expiry: once put, a version
	// is immediately durable.
	PutSecret(ctx context.Context, id types.KeyID, key types.WrappedKey) (bool, error)
	GetSecret(ctx context.Context, id types.KeyID) (types.WrappedKey, bool, error)
	DeleteSecret(ctx context.Context, id types.KeyID) error

	// PutVerifier/GetVerifier store the opaque CBOR policy document bound
	// to (permitter, identity). Last write wins.
	PutVerifier(ctx context.Context, permitter types.PermitterLocator, identity types.IdentityLocator, config []byte) error
	GetVerifier(ctx context.Context, permitter types.PermitterLocator, identity types.IdentityLocator) ([]byte, bool, error)

	// GetChainState/UpdateChainState track the highest observed block per
	// chain. UpdateChainState is a no-op if block is not higher than the
	// currently stored value.
	GetChainState(ctx context.Context, chain types.ChainID) (types.ChainState, bool, error)
	UpdateChainState(ctx context.Context, chain types.ChainID, block uint64) error

	// CheckAndSetNonce reports whether nonce has not been seen before for
	// identity, recording it atomically if so. Used to prevent an
	// attestation nonce from minting more than one permit.
	CheckAndSetNonce(ctx context.Context, identity types.IdentityLocator, nonce [32]byte) (fresh bool, err error)
}

// Signer signs digests on the node's behalf and reports the address that
// verifies those signatures. Implementations may hold the key in-process
// (memory and local backends), sign with a KMS key (cloud backend), or
// forward to a separate signing process (internal/signer's RemoteSigner).
type Signer interface {
	Sign(ctx context.Context, digest common.Hash) ([]byte, error)
	SignerAddress(ctx context.Context) (common.Address, error)
}

// Backend is a Store plus a Signer, the full set of node-local
// dependencies the API orchestration layer needs from a storage backend.
type Backend interface {
	Store
	Signer
}
