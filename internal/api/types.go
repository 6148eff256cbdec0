package api

import (
	"github.com/ethereum/go-ethereum/common"
)

// ErrorResponse is the JSON body for any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EphemeralKeyResponse describes one of the node's advertised ephemeral
// ECDH public keys.
type EphemeralKeyResponse struct {
	KeyID     string   `json:"key_id"`
	PublicKey HexBytes `json:"pk"`
	Expiry    uint64   `json:"expiry"`
}

// IdentityResponse is GET /v1/identity's body: the node's current
// ephemeral key and its stable signer address (spec.md §4.F).
type IdentityResponse struct {
	Ephemeral EphemeralKeyResponse `json:"ephemeral"`
	Signer    common.Address       `json:"signer"`
}

// SetPolicyRequest is POST /v1/policies/:chain/:registry/:identity's
// body.
type SetPolicyRequest struct {
	Permitter common.Address `json:"permitter"`
	Policy    HexBytes       `json:"policy"`
}

// PermitRequest is the body of both POST (grant) and DELETE (revoke)
// /v1/permits/:chain/:registry/:identity.
type PermitRequest struct {
	Duration      uint64         `json:"duration"`
	Authorization HexBytes       `json:"authorization"`
	Permitter     common.Address `json:"permitter"`
	Recipient     common.Address `json:"recipient"`
	BaseBlock     uint64         `json:"base_block"`
}

// PermitResponseBody is the response to a permit grant/revoke: the
// issued (or revoking) SsssPermit, the signer address, and the node's
// signature over it (spec.md §4.F step 5-6).
type PermitResponseBody struct {
	Permit    PermitDTO      `json:"permit"`
	Signer    common.Address `json:"signer"`
	Signature HexBytes       `json:"signature"`
}

// PermitDTO is the JSON shape of an eip712.Permit.
type PermitDTO struct {
	Registry  common.Address `json:"registry"`
	Identity  common.Hash    `json:"identity"`
	Recipient common.Address `json:"recipient"`
	Grant     bool           `json:"grant"`
	Duration  uint64         `json:"duration"`
	Nonce     common.Hash    `json:"nonce"`
	PK        HexBytes       `json:"pk"`
	BaseBlock uint64         `json:"baseblock"`
}

// ShareMetaDTO is the public (non-secret) half of a dealt share.
type ShareMetaDTO struct {
	Index       uint64     `json:"index"`
	Commitments []HexBytes `json:"commitments"`
}

// ShareDTO is the plaintext wire shape of a SecretShare, used both for
// the GET /shares response body (when no recipient key is given) and
// the POST /shares request body (when sent unencrypted).
type ShareDTO struct {
	Meta    ShareMetaDTO `json:"meta"`
	Share   HexBytes     `json:"share"`
	Blinder HexBytes     `json:"blinder"`
}

// EnvelopeFormat is the wire encoding of the hybrid envelope's format
// field (spec.md §4.C): always P-384 ECDH + AES-256-GCM-SIV in this
// core, so curve is fixed.
type EnvelopeFormat struct {
	Curve           string   `json:"curve"`
	PK              HexBytes `json:"pk"`
	Nonce           HexBytes `json:"nonce"`
	RecipientKeyID  string   `json:"recipient_key_id"`
}

// Envelope is the wire representation of a hybrid-encrypted payload.
type Envelope struct {
	Format  EnvelopeFormat `json:"format"`
	Payload HexBytes       `json:"payload"`
}

// PutKeyRequest is PUT /v1/secrets/...'s body: an opaque, already
// backend-wrapped key blob.
type PutKeyRequest struct {
	Key HexBytes `json:"key"`
}

// KeyResponse is GET /v1/secrets/...'s body.
type KeyResponse struct {
	Key HexBytes `json:"key"`
}
