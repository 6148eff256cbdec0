// Package envelope implements the hybrid ECDH + HKDF-SHA256 +
// AES-256-GCM-SIV envelope codec used to carry shares between the
// dealer and the node (and back) without relying on transport-level
// confidentiality. Grounded on
// _examples/original_source/ssss/src/keypair.rs's
// derive_shared_cipher, generalized to a symmetric Seal/Open pair usable
// from both the dealing side (client, ephemeral key) and the serving
// side (node, rotating keypair.Provider key).
package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfSalt is fixed across all envelopes, matching keypair.rs's
// "ssss_ecdh_aes-256-gcm-siv" constant.
var hkdfSalt = []byte("ssss_ecdh_aes-256-gcm-siv")

// Payload is the wire representation of an encrypted share or key: the
// sender's ephemeral public key, the nonce, and the ciphertext.
type Payload struct {
	SenderPublicKey []byte // SEC1-encoded uncompressed P-384 public key
	Nonce           [12]byte
	Ciphertext      []byte // AES-256-GCM-SIV ciphertext || tag
}

// deriveCipherKey runs ECDH between sk and opk, then HKDF-SHA256 with
// the fixed salt and the given domain-separation info, producing a
// 32-byte AES-256-GCM-SIV key.
func deriveCipherKey(sk *ecdh.PrivateKey, opk *ecdh.PublicKey, info []byte) ([]byte, error) {
	shared, err := sk.ECDH(opk)
	if err != nil {
		return nil, fmt.Errorf("envelope: ecdh: %w", err)
	}
	kdf := hkdf.New(sha256.New, shared, hkdfSalt, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("envelope: hkdf expand: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for recipientPK using a fresh ephemeral P-384
// keypair, returning the resulting Payload. info is the domain
// separation tag (keypair.DealSharesDomainSep or
// keypair.GetShareDomainSep).
func Seal(recipientPK *ecdh.PublicKey, info, plaintext, aad []byte) (*Payload, error) {
	ephemeral, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("envelope: generate ephemeral key: %w", err)
	}
	key, err := deriveCipherKey(ephemeral, recipientPK, info)
	if err != nil {
		return nil, err
	}

	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext, err := seal(key, nonce[:], plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &Payload{
		SenderPublicKey: ephemeral.PublicKey().Bytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Open decrypts p using sk (the recipient's private key) and returns the
// plaintext. The caller owns the returned slice and should wipe it
// (internal/zero.Wipe) once it has been consumed.
func Open(sk *ecdh.PrivateKey, p *Payload, info, aad []byte) ([]byte, error) {
	senderPK, err := ecdh.P384().NewPublicKey(p.SenderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid sender public key: %w", err)
	}
	key, err := deriveCipherKey(sk, senderPK, info)
	if err != nil {
		return nil, err
	}
	return open(key, p.Nonce[:], p.Ciphertext, aad)
}
