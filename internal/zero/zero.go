// Package zero wraps secret-bearing byte buffers — VSS shares, Pedersen
// blinders, wrapped-key plaintext, ephemeral ECDH scalars — in
// memguard-backed enclaves, the same pattern the teacher's
// internal/signer/session.go uses to hold a decrypted signing key at
// rest. A Secret keeps its bytes out of regular, swappable, core-dumpable
// heap memory until the moment they're needed, and they're wiped
// immediately after.
package zero

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Secret holds sensitive bytes sealed in a memguard enclave. The zero
// value is not usable; construct with New.
type Secret struct {
	enclave *memguard.Enclave
}

// New seals a copy of b into a new Secret. The caller should zero their
// own copy of b immediately after this returns (e.g. with Wipe).
func New(b []byte) *Secret {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Secret{enclave: memguard.NewEnclave(cp)}
}

// With opens the secret into a locked buffer, invokes fn with its bytes,
// and destroys the buffer before returning, regardless of whether fn
// returns an error. fn must not retain the slice it's given.
func (s *Secret) With(fn func([]byte) error) error {
	if s == nil || s.enclave == nil {
		return errNilSecret
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("zero: open enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

var errNilSecret = fmt.Errorf("zero: secret is nil or was never sealed")

// Wipe zeros b in place. Used for transient plaintext (e.g. a decrypted
// envelope payload) that doesn't warrant a full enclave round trip but
// must not linger in memory past its use.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
