// Package eip712 computes EIP-712 typed-data struct hashes for the two
// domains this node signs and verifies: SsssRequest (request
// authentication) and SsssPermit (issued permits). The hashing approach
// mirrors internal/signer/session.go's hand-rolled Order/Domain hashing
// in the teacher repo: precomputed type hashes, left-padded field
// encoding, and keccak256 composition, rather than a reflection-based
// typed-data library.
package eip712

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var errInvalidSignatureLength = errors.New("eip712: signature must be 65 bytes")

// Domain is an EIP-712 domain separator.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Hash computes the EIP-712 domain separator hash.
func (d Domain) Hash() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(d.ChainID.Bytes(), 32),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// RequestDomain is the fixed domain used to authenticate inbound
// requests (spec.md §4.D, §6): chainId 0, verifyingContract the zero
// address. It never varies per deployment — only the struct's "url"
// field embeds the serving host.
var RequestDomain = Domain{
	Name:              "SsssRequest",
	Version:           "1",
	ChainID:           big.NewInt(0),
	VerifyingContract: common.Address{},
}

// PermitterDomain returns the per-permitter-contract domain used to
// sign issued SsssPermits (spec.md §4.F step 5).
func PermitterDomain(chain uint64, permitter common.Address) Domain {
	return Domain{
		Name:              "SsssPermitter",
		Version:           "1",
		ChainID:           new(big.Int).SetUint64(chain),
		VerifyingContract: permitter,
	}
}

// Request is the typed-data struct signed by a requester to
// authenticate a single HTTP request.
type Request struct {
	Method string
	URL    string
	Body   common.Hash // keccak256 of the request body, or zero for GET/HEAD/DELETE
}

var requestTypeHash = crypto.Keccak256Hash([]byte(
	"SsssRequest(string method,string url,bytes32 body)",
))

func (r Request) structHash() common.Hash {
	return crypto.Keccak256Hash(
		requestTypeHash.Bytes(),
		crypto.Keccak256([]byte(r.Method)),
		crypto.Keccak256([]byte(r.URL)),
		r.Body.Bytes(),
	)
}

// Digest returns the final EIP-712 signing digest for this request
// under RequestDomain: keccak256("\x19\x01" || domainSeparator || structHash).
func (r Request) Digest() common.Hash {
	return finalDigest(RequestDomain.Hash(), r.structHash())
}

// Permit is the typed-data struct issued by the node authorizing (or
// revoking) access to a share, per spec.md §3 and §4.F.
type Permit struct {
	Registry  common.Address
	Identity  common.Hash
	Recipient common.Address
	Grant     bool
	Duration  uint64
	Nonce     common.Hash
	PK        []byte // recipient's attested public key, arbitrary length
	BaseBlock uint64
}

var permitTypeHash = crypto.Keccak256Hash([]byte(
	"SsssPermit(address registry,bytes32 identity,address recipient,bool grant,uint256 duration,bytes32 nonce,bytes pk,uint256 baseblock)",
))

func (p Permit) structHash() common.Hash {
	grant := big.NewInt(0)
	if p.Grant {
		grant = big.NewInt(1)
	}
	return crypto.Keccak256Hash(
		permitTypeHash.Bytes(),
		common.LeftPadBytes(p.Registry.Bytes(), 32),
		p.Identity.Bytes(),
		common.LeftPadBytes(p.Recipient.Bytes(), 32),
		common.LeftPadBytes(grant.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(p.Duration).Bytes(), 32),
		p.Nonce.Bytes(),
		crypto.Keccak256(p.PK),
		common.LeftPadBytes(new(big.Int).SetUint64(p.BaseBlock).Bytes(), 32),
	)
}

// Digest returns the signing digest for this permit under the given
// per-permitter domain.
func (p Permit) Digest(domain Domain) common.Hash {
	return finalDigest(domain.Hash(), p.structHash())
}

func finalDigest(domainHash, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainHash.Bytes(), structHash.Bytes())
}

// Recover recovers the signing address from a 65-byte (r||s||v,
// v ∈ {27,28}) signature over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errInvalidSignatureLength
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
