// Package policy decodes the CBOR policy document stored per identity
// (spec.md §4.E, §6) and the Nitro verifier's inner PCR policy. Dispatch
// on the outer document's "verifier" tag is left to internal/verify;
// this package only owns the wire shapes and decoding, grounded on
// original_source/ssss/src/verify/mod.rs's PolicyPreamble and
// verify/nitro/mod.rs's Policy/PolicyPcrs.
package policy

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// decMode bounds nesting depth like ciborium's recursion-limited decoder
// used by the original (from_reader_with_recursion_limit(policy_bytes, 3));
// fxamacker/cbor's MaxNestedLevels is set to 4, the smallest value it
// accepts, so the bound is one level looser than the original's.
var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{MaxNestedLevels: 4}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Preamble is the outer CBOR document: { verifier: text, policy: bstr }.
// The inner policy bytes are opaque here and interpreted by whichever
// verifier the tag names.
type Preamble struct {
	Verifier string `cbor:"verifier"`
	Policy   []byte `cbor:"policy"`
}

// DecodePreamble decodes the outer policy document.
func DecodePreamble(raw []byte) (Preamble, error) {
	var p Preamble
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return Preamble{}, fmt.Errorf("policy: decode preamble: %w", err)
	}
	return p, nil
}

// NitroPCRs carries the optional expected PCR digests a Nitro policy
// may pin. Each present entry is a 48-byte SHA-384 digest. Field names
// match the CBOR map keys in spec.md §6.
type NitroPCRs struct {
	PCR0 []byte `cbor:"pcr0,omitempty"`
	PCR1 []byte `cbor:"pcr1,omitempty"`
	PCR2 []byte `cbor:"pcr2,omitempty"`
	PCR3 []byte `cbor:"pcr3,omitempty"`
	PCR4 []byte `cbor:"pcr4,omitempty"`
	PCR8 []byte `cbor:"pcr8,omitempty"`
}

// NitroPolicy is the Nitro verifier's inner policy document.
type NitroPolicy struct {
	Version uint8     `cbor:"version"`
	PCRs    NitroPCRs `cbor:"pcrs"`
}

// DecodeNitroPolicy decodes the inner policy bytes of a "nitro"-tagged
// Preamble.
func DecodeNitroPolicy(raw []byte) (NitroPolicy, error) {
	var p NitroPolicy
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return NitroPolicy{}, fmt.Errorf("policy: decode nitro policy: %w", err)
	}
	return p, nil
}

// expectedPCRs pairs each present expected PCR with its register index,
// for iteration in Check.
func (p NitroPCRs) expectedPCRs() map[uint64][]byte {
	out := make(map[uint64][]byte, 6)
	for idx, v := range map[uint64][]byte{0: p.PCR0, 1: p.PCR1, 2: p.PCR2, 3: p.PCR3, 4: p.PCR4, 8: p.PCR8} {
		if v != nil {
			out[idx] = v
		}
	}
	return out
}

// Check verifies that every PCR this policy pins is present in observed
// and byte-equal to the pinned value (spec.md §4.E step 7). It reports
// the first mismatching or missing PCR index on failure.
func (p NitroPCRs) Check(observed map[uint64][]byte) (ok bool, mismatchedPCR uint64) {
	for idx, expected := range p.expectedPCRs() {
		got, present := observed[idx]
		if !present || !bytesEqual(got, expected) {
			return false, idx
		}
	}
	return true, 0
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
