package vss

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDealVerifyCombineRoundTrip(t *testing.T) {
	var secret [32]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)
	secret[0] &= 0x7f // keep well under the group order

	shares, commitments, err := Deal(rand.Reader, secret, 5, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	require.Len(t, commitments, 3)

	for _, s := range shares {
		ok, err := VerifyShareAndBlinder(commitments, s.Index, s.Share, s.Blinder)
		require.NoError(t, err)
		require.True(t, ok, "share %d must verify against the commitment vector", s.Index)
	}

	reconstructed, err := Combine(shares[:3])
	require.NoError(t, err)
	require.True(t, ConstantTimeEqual(secret, reconstructed))

	// Any other size-3 subset must reconstruct the same secret.
	reconstructed2, err := Combine([]Share{shares[0], shares[2], shares[4]})
	require.NoError(t, err)
	require.True(t, ConstantTimeEqual(secret, reconstructed2))
}

func TestVerifyShareAndBlinderRejectsTamperedShare(t *testing.T) {
	var secret [32]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)
	secret[0] &= 0x7f

	shares, commitments, err := Deal(rand.Reader, secret, 4, 2)
	require.NoError(t, err)

	tampered := shares[0]
	tampered.Share[31] ^= 0xff

	ok, err := VerifyShareAndBlinder(commitments, tampered.Index, tampered.Share, tampered.Blinder)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDealRejectsThresholdAboveCount(t *testing.T) {
	var secret [32]byte
	_, err := Deal(rand.Reader, secret, 2, 3)
	require.ErrorIs(t, err, ErrThresholdTooLarge)
}

func TestVerifyShareAndBlinderRejectsMalformedCommitments(t *testing.T) {
	_, err := VerifyShareAndBlinder(nil, 1, [32]byte{}, [32]byte{})
	require.ErrorIs(t, err, ErrInvalidCommitments)
}
