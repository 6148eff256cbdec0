package envelope

// AES-GCM-SIV (RFC 8452) implemented directly against crypto/aes block
// primitives. No Go module in the retrieved example pack provides this
// AEAD (see DESIGN.md); this is the one deliberate standard-library-only
// component of the hybrid envelope codec. It supports AES-128-GCM-SIV
// and AES-256-GCM-SIV (16- or 32-byte keys); this package only ever
// constructs it with a 32-byte key, matching the envelope's
// "AES-256-GCM-SIV" name.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	sivNonceSize = 12
	sivTagSize   = 16
)

var (
	errOpenAuthFailed = errors.New("envelope: authentication failed")
	errBadNonceSize   = errors.New("envelope: nonce must be 12 bytes")
)

// sivAEAD is an AES-GCM-SIV instance bound to a single derived key pair.
type sivAEAD struct {
	block   cipher.Block // AES cipher under the message-encryption key
	encKey  []byte
	authKey []byte // 16-byte POLYVAL key (message-authentication key)
}

// newSIVAEAD derives the record authentication and encryption keys from
// rawKey and nonce per RFC 8452 §4, and returns an AEAD instance scoped
// to that single nonce (as GCM-SIV's derivation is nonce-dependent, a
// fresh sivAEAD is constructed per seal/open call rather than reused
// across nonces).
func newSIVAEAD(rawKey, nonce []byte) (*sivAEAD, error) {
	if len(nonce) != sivNonceSize {
		return nil, errBadNonceSize
	}
	rawBlock, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, err
	}

	numEncBlocks := len(rawKey) / 8 // 2 for AES-128, 4 for AES-256
	authKey := make([]byte, 0, 16)
	encKey := make([]byte, 0, len(rawKey))

	derive := func(counter uint32) []byte {
		var in, out [16]byte
		binary.LittleEndian.PutUint32(in[0:4], counter)
		copy(in[4:16], nonce)
		rawBlock.Encrypt(out[:], in[:])
		return out[:8]
	}
	authKey = append(authKey, derive(0)...)
	authKey = append(authKey, derive(1)...)
	for i := 0; i < numEncBlocks; i++ {
		encKey = append(encKey, derive(uint32(2+i))...)
	}

	encBlock, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &sivAEAD{block: encBlock, encKey: encKey, authKey: authKey}, nil
}

// seal encrypts plaintext with the given nonce and additional data,
// returning ciphertext||tag.
func seal(rawKey, nonce, plaintext, aad []byte) ([]byte, error) {
	s, err := newSIVAEAD(rawKey, nonce)
	if err != nil {
		return nil, err
	}
	tag := s.computeTag(nonce, plaintext, aad)
	ciphertext := s.ctrXOR(tag, plaintext)
	out := make([]byte, 0, len(ciphertext)+sivTagSize)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// open authenticates and decrypts ciphertextAndTag (ciphertext||tag),
// returning the plaintext. The returned slice is newly allocated; the
// caller is responsible for wiping it once done.
func open(rawKey, nonce, ciphertextAndTag, aad []byte) ([]byte, error) {
	if len(ciphertextAndTag) < sivTagSize {
		return nil, errOpenAuthFailed
	}
	ciphertext := ciphertextAndTag[:len(ciphertextAndTag)-sivTagSize]
	tag := ciphertextAndTag[len(ciphertextAndTag)-sivTagSize:]

	s, err := newSIVAEAD(rawKey, nonce)
	if err != nil {
		return nil, err
	}
	plaintext := s.ctrXOR(tag, ciphertext)
	expectedTag := s.computeTag(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(expectedTag, tag) != 1 {
		zero(plaintext)
		return nil, errOpenAuthFailed
	}
	return plaintext, nil
}

// computeTag runs POLYVAL over aad||plaintext||lengthBlock (each
// zero-padded to a 16-byte multiple), XORs in the nonce, clears the top
// bit, and encrypts the result with the message-encryption key — the
// RFC 8452 §4 tag-generation procedure.
func (s *sivAEAD) computeTag(nonce, plaintext, aad []byte) []byte {
	h := polyvalKey(s.authKey)
	acc := [2]uint64{}
	acc = polyvalBlocks(acc, h, aad)
	acc = polyvalBlocks(acc, h, plaintext)

	var lengthBlock [16]byte
	binary.LittleEndian.PutUint64(lengthBlock[0:8], uint64(len(aad))*8)
	binary.LittleEndian.PutUint64(lengthBlock[8:16], uint64(len(plaintext))*8)
	acc = polyvalBlock(acc, h, lengthBlock[:])

	s128 := elementBytes(acc)
	for i := 0; i < sivNonceSize; i++ {
		s128[i] ^= nonce[i]
	}
	s128[15] &= 0x7f

	tag := make([]byte, 16)
	s.block.Encrypt(tag, s128)
	return tag
}

// ctrXOR runs AES-CTR (message-encryption key) over in, using tag (with
// its top bit set) as the initial counter block and incrementing only
// the little-endian 32-bit counter in the first four bytes, per RFC 8452
// §4's "from-tag" CTR construction.
func (s *sivAEAD) ctrXOR(tag, in []byte) []byte {
	var counterBlock [16]byte
	copy(counterBlock[:], tag)
	counterBlock[15] |= 0x80

	out := make([]byte, len(in))
	var keystream [16]byte
	counter := binary.LittleEndian.Uint32(counterBlock[0:4])
	for off := 0; off < len(in); off += 16 {
		binary.LittleEndian.PutUint32(counterBlock[0:4], counter)
		s.block.Encrypt(keystream[:], counterBlock[:])
		n := len(in) - off
		if n > 16 {
			n = 16
		}
		for i := 0; i < n; i++ {
			out[off+i] = in[off+i] ^ keystream[i]
		}
		counter++
	}
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// --- POLYVAL (RFC 8452 §3), over GF(2^128) with reduction polynomial
// x^128 + x^127 + x^126 + x^121 + 1, elements read as little-endian
// 128-bit integers (byte i holds the coefficients of x^(8i)..x^(8i+7)).

type polyvalH struct {
	hi, lo uint64
}

func polyvalKey(key []byte) polyvalH {
	lo := binary.LittleEndian.Uint64(key[0:8])
	hi := binary.LittleEndian.Uint64(key[8:16])
	return polyvalH{hi: hi, lo: lo}
}

func elementOf(b []byte) (hi, lo uint64) {
	lo = binary.LittleEndian.Uint64(b[0:8])
	hi = binary.LittleEndian.Uint64(b[8:16])
	return
}

func elementBytes(acc [2]uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], acc[0])
	binary.LittleEndian.PutUint64(b[8:16], acc[1])
	return b
}

// polyvalBlocks folds a sequence of bytes (zero-padded to a 16-byte
// multiple) into acc, block by block.
func polyvalBlocks(acc [2]uint64, h polyvalH, data []byte) [2]uint64 {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		var block [16]byte
		if end > len(data) {
			copy(block[:], data[off:])
		} else {
			copy(block[:], data[off:end])
		}
		acc = polyvalBlock(acc, h, block[:])
	}
	return acc
}

// polyvalBlock performs one Horner step: acc = (acc XOR block) * H.
func polyvalBlock(acc [2]uint64, h polyvalH, block []byte) [2]uint64 {
	bhi, blo := elementOf(block)
	xhi := acc[1] ^ bhi
	xlo := acc[0] ^ blo
	rhi, rlo := gf128Mul(xhi, xlo, h.hi, h.lo)
	return [2]uint64{rlo, rhi}
}

func clmul64(x, y uint64) (hi, lo uint64) {
	for i := 0; i < 64; i++ {
		if (y>>uint(i))&1 == 1 {
			if i == 0 {
				lo ^= x
			} else {
				lo ^= x << uint(i)
				hi ^= x >> uint(64-i)
			}
		}
	}
	return
}

// gf128Mul computes POLYVAL's dot(a, b) = a * b * x^-128 for two 128-bit
// field elements (each given as hi/lo little-endian-bit-order halves):
// the 256-bit carry-less product is reduced modulo
// x^128 + x^127 + x^126 + x^121 + 1 by clearing its low 128 bits one at
// a time with multiples of that polynomial and keeping the high half.
func gf128Mul(aHi, aLo, bHi, bLo uint64) (rHi, rLo uint64) {
	m00hi, m00lo := clmul64(aLo, bLo)
	m01hi, m01lo := clmul64(aLo, bHi)
	m10hi, m10lo := clmul64(aHi, bLo)
	m11hi, m11lo := clmul64(aHi, bHi)

	crossHi := m01hi ^ m10hi
	crossLo := m01lo ^ m10lo

	var acc [4]uint64
	acc[0] = m00lo
	acc[1] = m00hi ^ crossLo
	acc[2] = crossHi ^ m11lo
	acc[3] = m11hi

	getBit := func(pos int) uint64 {
		return (acc[pos/64] >> uint(pos%64)) & 1
	}
	xorBit := func(pos int) {
		acc[pos/64] ^= 1 << uint(pos%64)
	}
	for i := 0; i < 128; i++ {
		if getBit(i) == 1 {
			xorBit(i)
			xorBit(i + 121)
			xorBit(i + 126)
			xorBit(i + 127)
			xorBit(i + 128)
		}
	}
	return acc[3], acc[2]
}
