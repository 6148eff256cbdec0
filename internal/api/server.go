// Package api composes the store, keypair provider, envelope codec,
// request-authentication middleware, and policy verifier into the
// node's HTTP surface (spec.md §4.F). Routing uses the standard
// library's net/http.ServeMux method+path patterns (Go 1.22+) rather
// than a router library: spec.md §1 places "HTTP transport framing" out
// of scope as an external collaborator, and no repo in the retrieved
// pack imports a router as a direct dependency (SPEC_FULL §2), so the
// ambient-stack rule's third-party-first default yields to the spec's
// own non-goal here.
package api

import (
	"context"
	"crypto/ecdh"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/escrin/ssss-node/internal/apierr"
	"github.com/escrin/ssss-node/internal/authn"
	"github.com/escrin/ssss-node/internal/eip712"
	"github.com/escrin/ssss-node/internal/envelope"
	"github.com/escrin/ssss-node/internal/keypair"
	"github.com/escrin/ssss-node/internal/store"
	"github.com/escrin/ssss-node/internal/types"
	"github.com/escrin/ssss-node/internal/verify"
	"github.com/escrin/ssss-node/internal/vss"
	"github.com/escrin/ssss-node/internal/zero"
)

// ChainProvider is the subset of ledger RPC access the API layer needs:
// the chain's observed head (for base-block validation) and the
// IdentityRegistry/SsssPermitter bindings (policy hash, permit
// membership). Spec.md §1 places the ABI bindings themselves out of
// scope; this interface is what core consumes from them.
type ChainProvider interface {
	HeadBlock(ctx context.Context) (uint64, error)
	PolicyHash(ctx context.Context, permitter common.Address, identity [32]byte) (common.Hash, error)
	IsPermitted(ctx context.Context, registry common.Address, identity [32]byte, requester common.Address) (bool, error)
}

// Server holds every dependency the route handlers compose.
type Server struct {
	backend   store.Backend
	kps       *keypair.Provider
	verifiers *verify.Registry
	chains    map[types.ChainID]ChainProvider
	host      string
	authn     *authn.Middleware
	log       *slog.Logger
}

// New constructs a Server. host is the configured authority the escrin1
// middleware checks signed requests against.
func New(backend store.Backend, kps *keypair.Provider, verifiers *verify.Registry, chains map[types.ChainID]ChainProvider, host string, log *slog.Logger) *Server {
	return &Server{
		backend:   backend,
		kps:       kps,
		verifiers: verifiers,
		chains:    chains,
		host:      host,
		authn:     authn.New(host),
		log:       log,
	}
}

// chainProvider reports the provider for chain, or an UnsupportedChain
// error.
func (s *Server) chainProvider(chain types.ChainID) (ChainProvider, error) {
	p, ok := s.chains[chain]
	if !ok {
		return nil, apierr.UnsupportedChainf("unsupported chain: %d", chain)
	}
	return p, nil
}

// Handler builds the full route tree, wrapping it in CORS per
// SPEC_FULL §3 (the original's permissive tower_http::cors layer).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/identity", s.handleIdentity)

	mux.Handle("POST /v1/policies/{chain}/{registry}/{identity}",
		s.requireSupportedChain(http.HandlerFunc(s.handleSetPolicy)))

	permits := s.authn.Wrap(
		s.requireSupportedChain(http.HandlerFunc(s.handlePermit)),
		nil, nil, // permit issuance itself establishes the permit; no prior permit to check
	)
	mux.Handle("POST /v1/permits/{chain}/{registry}/{identity}", permits)
	mux.Handle("DELETE /v1/permits/{chain}/{registry}/{identity}", permits)

	shares := s.withShareMiddleware(http.HandlerFunc(s.handleGetShare))
	mux.Handle("GET /v1/shares/{name}/{chain}/{registry}/{identity}", shares)
	mux.Handle("POST /v1/shares/{name}/{chain}/{registry}/{identity}", s.withShareMiddleware(http.HandlerFunc(s.handleDealShare)))
	mux.Handle("DELETE /v1/shares/{name}/{chain}/{registry}/{identity}", s.withShareMiddleware(http.HandlerFunc(s.handleDeleteShare)))
	mux.Handle("POST /v1/shares/{name}/{chain}/{registry}/{identity}/commit", s.withShareMiddleware(http.HandlerFunc(s.handleCommitShare)))

	mux.Handle("PUT /v1/secrets/{name}/{chain}/{registry}/{identity}", s.withSecretMiddleware(http.HandlerFunc(s.handlePutSecret)))
	mux.Handle("GET /v1/secrets/{name}/{chain}/{registry}/{identity}", s.withSecretMiddleware(http.HandlerFunc(s.handleGetSecret)))
	mux.Handle("DELETE /v1/secrets/{name}/{chain}/{registry}/{identity}", s.withSecretMiddleware(http.HandlerFunc(s.handleDeleteSecret)))

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Authorization",
			authn.RequesterHeader, authn.SignatureHeader, authn.RequesterPublicKeyHeader,
		}, ", "))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSupportedChain rejects requests whose {chain} path value isn't
// in s.chains before calling next.
func (s *Server) requireSupportedChain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain, err := parseChain(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		if _, err := s.chainProvider(chain); err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withShareMiddleware composes supported-chain + "omni"-only + escrin1
// + permitted-requester, the layer order spec.md §4.F's route table
// gives for /shares.
func (s *Server) withShareMiddleware(next http.Handler) http.Handler {
	return s.requireSupportedChain(s.requireOmni("share", s.authn.Wrap(next, permittedRequesterChecker{s}, extractShareIdentity)))
}

func (s *Server) withSecretMiddleware(next http.Handler) http.Handler {
	return s.requireSupportedChain(s.requireOmni("key", s.authn.Wrap(next, permittedRequesterChecker{s}, extractShareIdentity)))
}

// requireOmni rejects any {name} other than "omni", the only secret
// name this core's API accepts (spec.md §4.F).
func (s *Server) requireOmni(item string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "omni" {
			writeErr(w, apierr.NotFoundf("%s with name %q", item, r.PathValue("name")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type permittedRequesterChecker struct{ s *Server }

func (c permittedRequesterChecker) IsPermitted(ctx context.Context, registry common.Address, identity [32]byte, requester common.Address) (bool, error) {
	chain, err := parseChainFromCtx(ctx)
	if err != nil {
		return false, err
	}
	p, err := c.s.chainProvider(chain)
	if err != nil {
		return false, err
	}
	return p.IsPermitted(ctx, registry, identity, requester)
}

// requestChainKey threads the already-parsed chain id from a handler's
// Request through to permittedRequesterChecker without re-parsing the
// path (the extractor runs inside authn.Middleware, before the route's
// own handler body).
type requestChainKey struct{}

func extractShareIdentity(r *http.Request) (common.Address, [32]byte, bool) {
	registryHex := r.PathValue("registry")
	identityHex := r.PathValue("identity")
	if !common.IsHexAddress(registryHex) {
		return common.Address{}, [32]byte{}, false
	}
	idBytes, err := decodeHex32(identityHex)
	if err != nil {
		return common.Address{}, [32]byte{}, false
	}
	chain, err := parseChain(r)
	if err != nil {
		return common.Address{}, [32]byte{}, false
	}
	*r = *r.WithContext(context.WithValue(r.Context(), requestChainKey{}, chain))
	return common.HexToAddress(registryHex), idBytes, true
}

func parseChainFromCtx(ctx context.Context) (types.ChainID, error) {
	chain, ok := ctx.Value(requestChainKey{}).(types.ChainID)
	if !ok {
		return 0, fmt.Errorf("api: chain id missing from request context")
	}
	return chain, nil
}

func parseChain(r *http.Request) (types.ChainID, error) {
	chain, err := strconv.ParseUint(r.PathValue("chain"), 10, 64)
	if err != nil {
		return 0, apierr.BadRequestf("invalid chain id: %v", err)
	}
	return chain, nil
}

func parseIdentityLocator(r *http.Request) (types.IdentityLocator, error) {
	chain, err := parseChain(r)
	if err != nil {
		return types.IdentityLocator{}, err
	}
	registryHex := r.PathValue("registry")
	if !common.IsHexAddress(registryHex) {
		return types.IdentityLocator{}, apierr.BadRequestf("invalid registry address")
	}
	idBytes, err := decodeHex32(r.PathValue("identity"))
	if err != nil {
		return types.IdentityLocator{}, apierr.BadRequestf("invalid identity: %v", err)
	}
	return types.IdentityLocator{
		Chain:    chain,
		Registry: common.HexToAddress(registryHex),
		ID:       types.IdentityID(idBytes),
	}, nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// --- handlers ---

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	kp, err := s.kps.Latest()
	if err != nil {
		writeErr(w, err)
		return
	}
	signer, err := s.backend.SignerAddress(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IdentityResponse{
		Ephemeral: EphemeralKeyResponse{
			KeyID:     kp.ID,
			PublicKey: kp.PublicKey.Bytes(),
			Expiry:    uint64(kp.Expiry().Unix()),
		},
		Signer: signer,
	})
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req SetPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.BadRequestf("invalid request body: %v", err))
		return
	}

	provider, err := s.chainProvider(identity.Chain)
	if err != nil {
		writeErr(w, err)
		return
	}
	expected, err := provider.PolicyHash(r.Context(), req.Permitter, identity.ID)
	if err != nil {
		writeErr(w, fmt.Errorf("fetching expected policy hash: %w", err))
		return
	}
	if keccak256(req.Policy) != expected {
		writeErr(w, apierr.BadRequestf("provided policy did not match registered policy"))
		return
	}

	permitter := types.PermitterLocator{Chain: identity.Chain, Permitter: req.Permitter}
	if err := s.backend.PutVerifier(r.Context(), permitter, identity, req.Policy); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePermit(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req PermitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.BadRequestf("invalid request body: %v", err))
		return
	}

	provider, err := s.chainProvider(identity.Chain)
	if err != nil {
		writeErr(w, err)
		return
	}
	head, err := provider.HeadBlock(r.Context())
	if err != nil {
		writeErr(w, fmt.Errorf("fetching chain head: %w", err))
		return
	}
	if req.BaseBlock > head {
		writeErr(w, apierr.BadRequestf("base block is in the future"))
		return
	}

	permitter := types.PermitterLocator{Chain: identity.Chain, Permitter: req.Permitter}
	policyBytes, ok, err := s.backend.GetVerifier(r.Context(), permitter, identity)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, apierr.NotFoundf("policy"))
		return
	}
	currentHash, err := provider.PolicyHash(r.Context(), req.Permitter, identity.ID)
	if err != nil {
		writeErr(w, fmt.Errorf("fetching current policy hash: %w", err))
		return
	}
	if keccak256(policyBytes) != currentHash {
		writeErr(w, apierr.Unauthorizedf("policy not current"))
		return
	}

	kind := verify.RequestKind{Grant: r.Method == http.MethodPost, Duration: req.Duration}
	verification, err := s.verifiers.Verify(r.Context(), policyBytes, verify.Request{
		Kind:          kind,
		Chain:         identity.Chain,
		Permitter:     req.Permitter,
		Identity:      identity,
		Recipient:     req.Recipient,
		Authorization: req.Authorization,
	})
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.Unauthorized, "policy verification failed", err))
		return
	}

	fresh, err := s.backend.CheckAndSetNonce(r.Context(), identity, verification.Nonce)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !fresh {
		writeErr(w, apierr.Unauthorizedf("attestation nonce already used"))
		return
	}

	var duration uint64
	if verification.Expiry != nil {
		duration = req.Duration
	}
	permit := eip712.Permit{
		Registry:  identity.Registry,
		Identity:  common.Hash(identity.ID),
		Recipient: req.Recipient,
		Grant:     kind.Grant,
		Duration:  duration,
		Nonce:     verification.Nonce,
		PK:        verification.PublicKey,
		BaseBlock: req.BaseBlock,
	}
	domain := eip712.PermitterDomain(identity.Chain, req.Permitter)
	digest := permit.Digest(domain)

	signer, err := s.backend.SignerAddress(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	sig, err := s.backend.Sign(r.Context(), digest)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PermitResponseBody{
		Permit: PermitDTO{
			Registry:  permit.Registry,
			Identity:  permit.Identity,
			Recipient: permit.Recipient,
			Grant:     permit.Grant,
			Duration:  permit.Duration,
			Nonce:     permit.Nonce,
			PK:        HexBytes(permit.PK),
			BaseBlock: permit.BaseBlock,
		},
		Signer:    signer,
		Signature: sig,
	})
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	share, err := s.backend.GetShare(r.Context(), types.ShareID{Identity: identity, SecretName: "omni", Version: version})
	if err != nil {
		writeErr(w, err)
		return
	}
	if share == nil {
		writeErr(w, apierr.NotFoundf("share"))
		return
	}
	defer zero.Wipe(share.Share)
	defer zero.Wipe(share.Blinder)

	body := shareDTO(*share)

	peerPKHex := r.Header.Get(authn.RequesterPublicKeyHeader)
	if peerPKHex == "" {
		writeJSON(w, http.StatusOK, body)
		return
	}
	peerPKBytes, err := hexDecodeMaybePrefixed(peerPKHex)
	if err != nil {
		writeErr(w, apierr.BadRequestf("invalid requester public key header: %v", err))
		return
	}
	peerPK, err := ecdh.P384().NewPublicKey(peerPKBytes)
	if err != nil {
		writeErr(w, apierr.BadRequestf("invalid requester public key: %v", err))
		return
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer zero.Wipe(plaintext)

	env, err := envelope.Seal(peerPK, keypair.GetShareDomainSep, plaintext, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Format: EnvelopeFormat{
			Curve: "P-384",
			PK:    env.SenderPublicKey,
			Nonce: env.Nonce[:],
		},
		Payload: env.Ciphertext,
	})
}

func (s *Server) handleDealShare(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	raw, err := readAll(r)
	if err != nil {
		if apierr.KindOf(err) != apierr.Unhandled {
			// Preserve a kinded error surfaced from reading the body
			// rather than flattening it to BadRequest. authn.Wrap has
			// already verified the signature and handed this handler an
			// in-memory body, so a signature mismatch never reaches here.
			writeErr(w, err)
			return
		}
		writeErr(w, apierr.BadRequestf("reading request body: %v", err))
		return
	}

	dto, err := s.decodeShareRequest(raw)
	if err != nil {
		writeErr(w, err)
		return
	}

	commitments := make([][]byte, len(dto.Meta.Commitments))
	for i, c := range dto.Meta.Commitments {
		commitments[i] = c
	}
	var shareArr, blinderArr [32]byte
	if len(dto.Share) != 32 || len(dto.Blinder) != 32 {
		writeErr(w, apierr.BadRequestf("share and blinder must each be 32 bytes"))
		return
	}
	copy(shareArr[:], dto.Share)
	copy(blinderArr[:], dto.Blinder)
	defer zero.Wipe(shareArr[:])
	defer zero.Wipe(blinderArr[:])

	ok, err := vss.VerifyShareAndBlinder(commitments, dto.Meta.Index, shareArr, blinderArr)
	if err != nil {
		writeErr(w, apierr.BadRequestf("invalid commitments: %v", err))
		return
	}
	if !ok {
		writeErr(w, apierr.BadRequestf("invalid share or blinder"))
		return
	}

	created, err := s.backend.PutShare(r.Context(), types.ShareID{Identity: identity, SecretName: "omni", Version: version}, types.SecretShare{
		Meta:    types.SecretShareMeta{Index: dto.Meta.Index, Commitments: commitments},
		Share:   append([]byte(nil), dto.Share...),
		Blinder: append([]byte(nil), dto.Blinder...),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !created {
		writeErr(w, apierr.BadRequestf("incorrect version"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// decodeShareRequest accepts either a plaintext ShareDTO or an
// Envelope wrapping one, decrypting via the node's keypair.Provider
// when the wire body carries the "format"/"payload" envelope shape
// (spec.md §4.F's deal_share handler).
func (s *Server) decodeShareRequest(raw []byte) (ShareDTO, error) {
	var probe struct {
		Format *EnvelopeFormat `json:"format"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ShareDTO{}, apierr.BadRequestf("invalid request body: %v", err)
	}
	if probe.Format == nil {
		var dto ShareDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return ShareDTO{}, apierr.BadRequestf("invalid share payload: %v", err)
		}
		return dto, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ShareDTO{}, apierr.BadRequestf("invalid encrypted payload: %v", err)
	}
	if env.Format.Curve != "P-384" {
		return ShareDTO{}, apierr.BadRequestf("unknown encrypted request format")
	}
	senderPK, err := ecdh.P384().NewPublicKey(env.Format.PK)
	if err != nil {
		return ShareDTO{}, apierr.BadRequestf("invalid sender public key: %v", err)
	}
	if len(env.Format.Nonce) != 12 {
		return ShareDTO{}, apierr.BadRequestf("invalid nonce length")
	}

	kp, err := s.kps.ByID(env.Format.RecipientKeyID)
	if err != nil {
		return ShareDTO{}, apierr.BadRequestf("decryption failed: %v", err)
	}
	payload := &envelope.Payload{SenderPublicKey: senderPK.Bytes(), Ciphertext: env.Payload}
	copy(payload.Nonce[:], env.Format.Nonce)

	plaintext, err := envelope.Open(kp.PrivateKey, payload, keypair.DealSharesDomainSep, nil)
	if err != nil {
		return ShareDTO{}, apierr.BadRequestf("decryption failed: %v", err)
	}
	defer zero.Wipe(plaintext)

	var dto ShareDTO
	if err := json.Unmarshal(plaintext, &dto); err != nil {
		return ShareDTO{}, apierr.BadRequestf("invalid decrypted payload: %v", err)
	}
	return dto, nil
}

func (s *Server) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.backend.DeleteShare(r.Context(), types.ShareID{Identity: identity, SecretName: "omni", Version: version}); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommitShare(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	committed, err := s.backend.CommitShare(r.Context(), types.ShareID{Identity: identity, SecretName: "omni", Version: version})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !committed {
		writeErr(w, apierr.BadRequestf("no pending, unexpired share at that version"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req PutKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.BadRequestf("invalid request body: %v", err))
		return
	}
	created, err := s.backend.PutSecret(r.Context(), types.KeyID{Name: "omni", Identity: identity, Version: version}, types.WrappedKey(req.Key))
	if err != nil {
		writeErr(w, err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		writeErr(w, apierr.BadRequestf("incorrect version"))
	}
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	key, ok, err := s.backend.GetSecret(r.Context(), types.KeyID{Name: "omni", Identity: identity, Version: version})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, apierr.NotFoundf("key"))
		return
	}
	writeJSON(w, http.StatusOK, KeyResponse{Key: HexBytes(key)})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentityLocator(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := parseVersionQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.backend.DeleteSecret(r.Context(), types.KeyID{Name: "omni", Identity: identity, Version: version}); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func shareDTO(share types.SecretShare) ShareDTO {
	commitments := make([]HexBytes, len(share.Meta.Commitments))
	for i, c := range share.Meta.Commitments {
		commitments[i] = c
	}
	return ShareDTO{
		Meta:    ShareMetaDTO{Index: share.Meta.Index, Commitments: commitments},
		Share:   share.Share,
		Blinder: share.Blinder,
	}
}

func parseVersionQuery(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("version")
	if v == "" {
		return 0, apierr.BadRequestf("missing version query parameter")
	}
	version, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, apierr.BadRequestf("invalid version query parameter: %v", err)
	}
	return version, nil
}

func keccak256(b []byte) common.Hash {
	return crypto.Keccak256Hash(b)
}

func hexDecodeMaybePrefixed(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apierr.KindOf(err) {
	case apierr.BadRequest:
		status = http.StatusBadRequest
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.Unauthorized:
		status = http.StatusUnauthorized
	case apierr.Forbidden:
		status = http.StatusForbidden
	case apierr.UnsupportedChain:
		status = http.StatusMisdirectedRequest
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
