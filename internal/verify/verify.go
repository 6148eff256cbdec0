// Package verify implements the pluggable policy-verification pipeline
// of spec.md §4.E: evaluating attested evidence against an identity's
// CBOR policy, bound to the concrete request. Dispatch is by the
// policy's "verifier" tag; this package hosts the dispatcher plus the
// "mock" (test-only) and "nitro" (AWS Nitro Enclave attestation)
// verifiers. Grounded on
// original_source/ssss/src/verify/mod.rs's verify() dispatcher and
// Verifier trait.
package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrin/ssss-node/internal/apierr"
	"github.com/escrin/ssss-node/internal/policy"
	"github.com/escrin/ssss-node/internal/types"
)

// RequestKind discriminates a grant (new permit, with a requested
// lifetime) from a revoke (existing permit withdrawal) verification
// request, matching original_source/ssss/src/verify/mod.rs's
// RequestKind.
type RequestKind struct {
	Grant    bool
	Duration uint64 // seconds; only meaningful when Grant is true
}

// Request is everything a Verifier needs to evaluate one attestation
// against one identity's policy and bind it to this specific request.
type Request struct {
	Kind          RequestKind
	Chain         types.ChainID
	Permitter     common.Address
	Identity      types.IdentityLocator
	Recipient     common.Address
	Authorization []byte // the attestation evidence, verifier-specific encoding
}

// Verification is the outcome of a successful policy verification:
// the nonce to guard against attestation replay, the attested public
// key to bind into the issued permit, and (for grants) the permit's
// expiry.
type Verification struct {
	Nonce     [32]byte
	PublicKey []byte
	Expiry    *time.Time // nil for a revoke
}

// Verifier evaluates req's attestation evidence against policyBytes
// (the verifier-specific inner policy, already split from the CBOR
// Preamble by Verify).
type Verifier interface {
	Verify(ctx context.Context, policyBytes []byte, req Request) (Verification, error)
}

// Registry dispatches to a Verifier by the CBOR policy document's
// "verifier" tag.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry constructs a Registry with the given named verifiers.
// Callers typically pass "nitro" and, in non-production configurations,
// "mock".
func NewRegistry(verifiers map[string]Verifier) *Registry {
	return &Registry{verifiers: verifiers}
}

// Verify decodes the outer CBOR policy document, dispatches to the
// named verifier, and returns its verification result.
func (r *Registry) Verify(ctx context.Context, policyDoc []byte, req Request) (Verification, error) {
	preamble, err := policy.DecodePreamble(policyDoc)
	if err != nil {
		return Verification{}, apierr.BadRequestf("decode policy: %v", err)
	}
	v, ok := r.verifiers[preamble.Verifier]
	if !ok {
		return Verification{}, apierr.BadRequestf("unknown verifier %q", preamble.Verifier)
	}
	return v.Verify(ctx, preamble.Policy, req)
}

// Mock always succeeds, returning a random nonce and a 60-second
// lifetime. Test-only: spec.md §4.E says it is never wired in a
// production verifier registry.
type Mock struct{}

func (Mock) Verify(_ context.Context, _ []byte, req Request) (Verification, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Verification{}, fmt.Errorf("verify: mock: generate nonce: %w", err)
	}
	v := Verification{Nonce: nonce}
	if req.Kind.Grant {
		expiry := time.Now().Add(60 * time.Second)
		v.Expiry = &expiry
	}
	return v, nil
}
