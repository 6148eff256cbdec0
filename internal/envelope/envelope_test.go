package envelope

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSivAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce := make([]byte, 12)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	plaintext := []byte("a pedersen share and its blinder")
	aad := []byte("deal-shares")

	ct, err := seal(key, nonce, plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct[:len(plaintext)])

	pt, err := open(key, nonce, ct, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestSivAEADRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce := make([]byte, 12)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	ct, err := seal(key, nonce, []byte("hello"), nil)
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff

	_, err = open(key, nonce, tampered, nil)
	require.ErrorIs(t, err, errOpenAuthFailed)
}

func TestSivAEADRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce := make([]byte, 12)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	ct, err := seal(key, nonce, []byte("hello"), []byte("deal-shares"))
	require.NoError(t, err)

	_, err = open(key, nonce, ct, []byte("get-share"))
	require.ErrorIs(t, err, errOpenAuthFailed)
}

func TestSivAEADHandlesEmptyAndMultiBlockPlaintext(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce := make([]byte, 12)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 33, 100} {
		plaintext := bytes.Repeat([]byte{0xab}, size)
		ct, err := seal(key, nonce, plaintext, nil)
		require.NoError(t, err)
		pt, err := open(key, nonce, ct, nil)
		require.NoError(t, err)
		require.Equal(t, plaintext, pt)
	}
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	recipientKey, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)

	info := []byte("deal-shares")
	plaintext := []byte(`{"index":1,"share":"AAAA"}`)

	payload, err := Seal(recipientKey.PublicKey(), info, plaintext, nil)
	require.NoError(t, err)
	require.NotEmpty(t, payload.SenderPublicKey)

	out, err := Open(recipientKey, payload, info, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestEnvelopeOpenFailsWithWrongDomainSep(t *testing.T) {
	recipientKey, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload, err := Seal(recipientKey.PublicKey(), []byte("deal-shares"), []byte("secret"), nil)
	require.NoError(t, err)

	_, err = Open(recipientKey, payload, []byte("get-share"), nil)
	require.Error(t, err)
}
