// Package client implements the dealer side of spec.md §4.G: splitting
// a secret into Pedersen VSS shares, dealing one to each node under its
// currently-advertised ephemeral public key, committing once all nodes
// have accepted, and reconstructing from a quorum of nodes' shares.
// This is "external to the node, specified for completeness" — the
// dealer is a standalone client of the API in internal/api, not a
// server component, grounded on the CLI argument shapes in
// original_source/ssss/src/cli.rs and the data flow description in
// spec.md §3.
package client

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/escrin/ssss-node/internal/authn"
	"github.com/escrin/ssss-node/internal/envelope"
	"github.com/escrin/ssss-node/internal/eip712"
	"github.com/escrin/ssss-node/internal/keypair"
	"github.com/escrin/ssss-node/internal/types"
	"github.com/escrin/ssss-node/internal/vss"
	"github.com/escrin/ssss-node/internal/zero"
)

// SignerProofGenerator produces the escrin1 request signature the dealer
// attaches to every mutating call: an EIP-712 signature over
// (method, url, bodyHash) recoverable to the dealer's on-chain address.
// Kept as an external interface rather than implemented here: spec.md
// positions the dealer's own signing key material (a hardware wallet, a
// local private key file, a remote signer) as outside this core's
// concern, same as the permitter contract's Merkle-proof computation in
// spec.md §4.F step 6.
type SignerProofGenerator interface {
	Address() common.Address
	SignRequest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// Node is one SSSS node's reachable base URL, e.g. "http://127.0.0.1:1075".
type Node struct {
	BaseURL string
}

// Dealer deals and reconstructs shares against a fixed set of nodes.
type Dealer struct {
	nodes  []Node
	signer SignerProofGenerator
	http   *http.Client
}

// New constructs a Dealer over nodes, authenticating every request with
// signer.
func New(nodes []Node, signer SignerProofGenerator) *Dealer {
	return &Dealer{nodes: nodes, signer: signer, http: &http.Client{}}
}

type identityResponse struct {
	Ephemeral struct {
		KeyID     string `json:"key_id"`
		PublicKey string `json:"pk"`
		Expiry    uint64 `json:"expiry"`
	} `json:"ephemeral"`
	Signer common.Address `json:"signer"`
}

// fetchIdentity retrieves a node's currently-advertised ephemeral public
// key (spec.md §4.G step 3).
func (d *Dealer) fetchIdentity(ctx context.Context, node Node) (*identityResponse, error) {
	var resp identityResponse
	if err := d.do(ctx, http.MethodGet, node, "/v1/identity", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: fetch identity from %s: %w", node.BaseURL, err)
	}
	return &resp, nil
}

type shareMetaWire struct {
	Index       uint64   `json:"index"`
	Commitments []string `json:"commitments"`
}

type shareWire struct {
	Meta    shareMetaWire `json:"meta"`
	Share   string        `json:"share"`
	Blinder string        `json:"blinder"`
}

type envelopeFormatWire struct {
	Curve          string `json:"curve"`
	PK             string `json:"pk"`
	Nonce          string `json:"nonce"`
	RecipientKeyID string `json:"recipient_key_id"`
}

type envelopeWire struct {
	Format  envelopeFormatWire `json:"format"`
	Payload string             `json:"payload"`
}

// DealResult is one node's outcome from a Deal call.
type DealResult struct {
	Node Node
	Err  error
}

// Deal splits secret (or a freshly generated one, if secret is nil) into
// len(d.nodes) Pedersen VSS shares with the given threshold, deals one
// per node under its currently-advertised ephemeral key, and, once every
// node has accepted its share, commits the version on all of them. If
// any node rejects its share, nothing is committed. It returns the per-node deal
// outcomes and, only on full success, the dealt secret (useful when it
// was randomly generated, so the caller can record it).
func (d *Dealer) Deal(ctx context.Context, identity types.IdentityLocator, version uint64, secret *[32]byte, threshold int) ([32]byte, []DealResult, error) {
	var secretBytes [32]byte
	if secret != nil {
		secretBytes = *secret
	} else {
		if _, err := rand.Read(secretBytes[:]); err != nil {
			return secretBytes, nil, fmt.Errorf("client: generate random secret: %w", err)
		}
	}
	defer zero.Wipe(secretBytes[:])

	shares, commitments, err := vss.Deal(rand.Reader, secretBytes, len(d.nodes), threshold)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("client: deal vss shares: %w", err)
	}

	commitmentsHex := make([]string, len(commitments))
	for i, c := range commitments {
		commitmentsHex[i] = "0x" + hex.EncodeToString(c)
	}

	results := make([]DealResult, len(d.nodes))
	var wg sync.WaitGroup
	for i, node := range d.nodes {
		i, node := i, node
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.dealOne(ctx, node, identity, version, shares[i], commitmentsHex)
			results[i] = DealResult{Node: node, Err: err}
		}()
	}
	wg.Wait()

	allDealt := true
	for _, r := range results {
		if r.Err != nil {
			allDealt = false
		}
	}
	if !allDealt {
		return [32]byte{}, results, fmt.Errorf("client: not all nodes accepted the deal")
	}

	commitResults := make([]DealResult, len(d.nodes))
	wg.Add(len(d.nodes))
	for i, node := range d.nodes {
		i, node := i, node
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("/v1/shares/omni/%d/%s/%s/commit?version=%d",
				identity.Chain, identity.Registry.Hex(), identity.ID.Hex(), version)
			err := d.do(ctx, http.MethodPost, node, path, nil, nil)
			commitResults[i] = DealResult{Node: node, Err: err}
		}()
	}
	wg.Wait()

	for _, r := range commitResults {
		if r.Err != nil {
			return [32]byte{}, commitResults, fmt.Errorf("client: not all nodes committed the deal")
		}
	}
	return secretBytes, commitResults, nil
}

func (d *Dealer) dealOne(ctx context.Context, node Node, identity types.IdentityLocator, version uint64, share vss.Share, commitmentsHex []string) error {
	ident, err := d.fetchIdentity(ctx, node)
	if err != nil {
		return err
	}
	pkBytes, err := decodeHex(ident.Ephemeral.PublicKey)
	if err != nil {
		return fmt.Errorf("client: decode node public key: %w", err)
	}
	nodePK, err := ecdh.P384().NewPublicKey(pkBytes)
	if err != nil {
		return fmt.Errorf("client: invalid node public key: %w", err)
	}

	plaintext, err := json.Marshal(shareWire{
		Meta: shareMetaWire{
			Index:       share.Index,
			Commitments: commitmentsHex,
		},
		Share:   "0x" + hex.EncodeToString(share.Share[:]),
		Blinder: "0x" + hex.EncodeToString(share.Blinder[:]),
	})
	if err != nil {
		return fmt.Errorf("client: encode share payload: %w", err)
	}
	defer zero.Wipe(plaintext)

	env, err := envelope.Seal(nodePK, keypair.DealSharesDomainSep, plaintext, nil)
	if err != nil {
		return fmt.Errorf("client: seal share envelope: %w", err)
	}

	body := envelopeWire{
		Format: envelopeFormatWire{
			Curve:          "P-384",
			PK:             "0x" + hex.EncodeToString(env.SenderPublicKey),
			Nonce:          "0x" + hex.EncodeToString(env.Nonce[:]),
			RecipientKeyID: ident.Ephemeral.KeyID,
		},
		Payload: "0x" + hex.EncodeToString(env.Ciphertext),
	}

	path := fmt.Sprintf("/v1/shares/omni/%d/%s/%s?version=%d",
		identity.Chain, identity.Registry.Hex(), identity.ID.Hex(), version)
	return d.do(ctx, http.MethodPost, node, path, body, nil)
}

// Reconstruct GETs the share at version from every node in parallel and
// waits for all of them to answer, decrypting each under a fresh local
// P-384 keypair sent via the Requester-Public-Key header, then
// VSS-combines the first threshold successful shares (in node order)
// into the original secret. Requests are not cancelled once threshold
// shares have arrived.
func (d *Dealer) Reconstruct(ctx context.Context, identity types.IdentityLocator, version uint64, threshold int) ([32]byte, error) {
	var zeroOut [32]byte
	local, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return zeroOut, fmt.Errorf("client: generate reconstruction keypair: %w", err)
	}

	type fetched struct {
		share vss.Share
		err   error
	}
	out := make([]fetched, len(d.nodes))
	var wg sync.WaitGroup
	wg.Add(len(d.nodes))
	for i, node := range d.nodes {
		i, node := i, node
		go func() {
			defer wg.Done()
			share, err := d.fetchShare(ctx, node, identity, version, local)
			out[i] = fetched{share: share, err: err}
		}()
	}
	wg.Wait()

	var shares []vss.Share
	for _, f := range out {
		if f.err == nil {
			shares = append(shares, f.share)
		}
		if len(shares) >= threshold {
			break
		}
	}
	if len(shares) < threshold {
		return zeroOut, fmt.Errorf("client: only %d of %d required shares were recovered", len(shares), threshold)
	}
	return vss.Combine(shares)
}

func (d *Dealer) fetchShare(ctx context.Context, node Node, identity types.IdentityLocator, version uint64, local *ecdh.PrivateKey) (vss.Share, error) {
	var zeroShare vss.Share
	path := fmt.Sprintf("/v1/shares/omni/%d/%s/%s?version=%d",
		identity.Chain, identity.Registry.Hex(), identity.ID.Hex(), version)

	req, err := d.newRequest(ctx, http.MethodGet, node, path, nil)
	if err != nil {
		return zeroShare, err
	}
	req.Header.Set(authn.RequesterPublicKeyHeader, "0x"+hex.EncodeToString(local.PublicKey().Bytes()))

	raw, err := d.send(req)
	if err != nil {
		return zeroShare, err
	}

	var env envelopeWire
	probeErr := json.Unmarshal(raw, &env)
	if probeErr == nil && env.Format.Curve != "" {
		ciphertext, err := decodeHex(env.Payload)
		if err != nil {
			return zeroShare, fmt.Errorf("client: decode envelope payload: %w", err)
		}
		senderPK, err := decodeHex(env.Format.PK)
		if err != nil {
			return zeroShare, fmt.Errorf("client: decode envelope sender key: %w", err)
		}
		nonce, err := decodeHex(env.Format.Nonce)
		if err != nil || len(nonce) != 12 {
			return zeroShare, fmt.Errorf("client: decode envelope nonce: %w", err)
		}
		var payload envelope.Payload
		payload.SenderPublicKey = senderPK
		copy(payload.Nonce[:], nonce)
		payload.Ciphertext = ciphertext

		plaintext, err := envelope.Open(local, &payload, keypair.GetShareDomainSep, nil)
		if err != nil {
			return zeroShare, fmt.Errorf("client: open share envelope: %w", err)
		}
		defer zero.Wipe(plaintext)
		raw = plaintext
	}

	var wire shareWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return zeroShare, fmt.Errorf("client: decode share response: %w", err)
	}
	shareBytes, err := decodeHex(wire.Share)
	if err != nil || len(shareBytes) != 32 {
		return zeroShare, fmt.Errorf("client: invalid share bytes")
	}
	blinderBytes, err := decodeHex(wire.Blinder)
	if err != nil || len(blinderBytes) != 32 {
		return zeroShare, fmt.Errorf("client: invalid blinder bytes")
	}
	var share vss.Share
	share.Index = wire.Meta.Index
	copy(share.Share[:], shareBytes)
	copy(share.Blinder[:], blinderBytes)
	return share, nil
}

func (d *Dealer) newRequest(ctx context.Context, method string, node Node, path string, body any) (*http.Request, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request body: %w", err)
		}
		bodyBytes = b
	}

	url := node.BaseURL + path
	var bodyHash common.Hash
	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		// The node hashes every body-carrying method's body, empty or not.
		bodyHash = crypto.Keccak256Hash(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	signedURL := req.URL.Host + req.URL.RequestURI()
	digest := eip712.Request{Method: method, URL: signedURL, Body: bodyHash}.Digest()
	sig, err := d.signer.SignRequest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("client: sign request: %w", err)
	}
	req.Header.Set(authn.RequesterHeader, d.signer.Address().Hex())
	req.Header.Set(authn.SignatureHeader, "0x"+hex.EncodeToString(sig))

	return req, nil
}

func (d *Dealer) send(req *http.Request) ([]byte, error) {
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("client: %s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, string(raw))
	}
	return raw, nil
}

func (d *Dealer) do(ctx context.Context, method string, node Node, path string, body, out any) error {
	req, err := d.newRequest(ctx, method, node, path, body)
	if err != nil {
		return err
	}
	raw, err := d.send(req)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
