// Package types holds the value types shared across the secret store,
// the policy verifier, and the API layer. All identifiers here are
// copyable and compared by content, mirroring the node's data model.
package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID is an EVM chain identifier.
type ChainID = uint64

// IdentityID is an opaque 32-byte identity handle rooted in an
// IdentityRegistry contract on some chain.
type IdentityID [32]byte

func (id IdentityID) Hex() string {
	return fmt.Sprintf("%#x", [32]byte(id))
}

// IdentityLocator names a tenant identity by the chain and registry it
// was minted on plus its opaque id.
type IdentityLocator struct {
	Chain    ChainID
	Registry common.Address
	ID       IdentityID
}

// ToKey renders the locator as the namespaced string used for backend
// storage keys, matching the logical_id scheme in spec.md §6.
func (l IdentityLocator) ToKey() string {
	return fmt.Sprintf("%d-%s-%s", l.Chain, l.Registry.Hex(), l.ID.Hex())
}

// PermitterLocator names the on-chain SsssPermitter contract that a
// policy verification is bound to.
type PermitterLocator struct {
	Chain     ChainID
	Permitter common.Address
}

func (l PermitterLocator) ToKey() string {
	return fmt.Sprintf("%d-%s", l.Chain, l.Permitter.Hex())
}

// ShareVersion and KeyVersion are 1-indexed monotonic version counters.
type ShareVersion = uint64
type KeyVersion = uint64

// ShareID names one version of one named secret for one identity. The
// only secret name the core API accepts is "omni" (spec.md §4.F).
type ShareID struct {
	Identity   IdentityLocator
	SecretName string
	Version    ShareVersion
}

// ToKey renders the (identity, secret_name) pair used to namespace a
// share's version series in the backend. The version is not part of the
// key: backends index the series by version internally.
func (id ShareID) ToKey() string {
	return fmt.Sprintf("share-%s-%s", id.SecretName, id.Identity.ToKey())
}

// KeyID names one version of one named wrapped key for one identity.
type KeyID struct {
	Name     string
	Identity IdentityLocator
	Version  KeyVersion
}

func (id KeyID) ToKey() string {
	return fmt.Sprintf("key-%s-%s", id.Name, id.Identity.ToKey())
}

// SecretShareMeta is the public (non-secret) metadata of a Pedersen VSS
// share: the dealt index and the commitment vector (t entries for a
// degree-(t-1) polynomial).
type SecretShareMeta struct {
	Index       uint64
	Commitments [][]byte
}

// SecretShare is one party's dealt VSS share plus its Pedersen blinder.
// Share and Blinder are zeroized by the caller once no longer needed;
// see internal/zero for the wrapper used to enforce that.
type SecretShare struct {
	Meta    SecretShareMeta
	Share   []byte
	Blinder []byte
}

// WrappedKey is an opaque, backend-wrapped key blob. The store layer
// never interprets its contents.
type WrappedKey []byte

// EventIndex orders on-chain events by (block, log index); A is older
// than B iff A is lexicographically less than B.
type EventIndex struct {
	Block    uint64
	LogIndex uint64
}

func (a EventIndex) Less(b EventIndex) bool {
	if a.Block != b.Block {
		return a.Block < b.Block
	}
	return a.LogIndex < b.LogIndex
}

// ChainState is the node's local cache of a chain's observed head,
// advanced opportunistically from RPC responses (SPEC_FULL §3).
type ChainState struct {
	Block uint64
}
