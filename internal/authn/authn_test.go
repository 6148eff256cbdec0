package authn

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/escrin/ssss-node/internal/eip712"
)

const testHost = "ssss.example"

func signRequest(t *testing.T, key *ecdsa.PrivateKey, method, url string, body []byte) []byte {
	t.Helper()
	var bodyHash common.Hash
	if len(body) > 0 {
		bodyHash = crypto.Keccak256Hash(body)
	}
	digest := eip712.Request{Method: method, URL: url, Body: bodyHash}.Digest()
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

// multiFrameBody splits b into n frames so the middleware must assemble
// the hash across several Read calls, exercising spec.md §8.5's
// "signature computed by streaming Keccak-256 over concatenated frames
// of an arbitrary frame decomposition" property.
type multiFrameBody struct {
	frames [][]byte
}

func (m *multiFrameBody) Read(p []byte) (int, error) {
	for len(m.frames) > 0 && len(m.frames[0]) == 0 {
		m.frames = m.frames[1:]
	}
	if len(m.frames) == 0 {
		return 0, io.EOF
	}
	n := copy(p, m.frames[0])
	m.frames[0] = m.frames[0][n:]
	return n, nil
}

func (m *multiFrameBody) Close() error { return nil }

func newFramedRequest(t *testing.T, method, path string, frames ...[]byte) *http.Request {
	t.Helper()
	var full bytes.Buffer
	for _, f := range frames {
		full.Write(f)
	}
	r := httptest.NewRequest(method, path, &multiFrameBody{frames: frames})
	r.ContentLength = int64(full.Len())
	return r
}

func TestMiddlewareAcceptsMatchingStreamedSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	requester := crypto.PubkeyToAddress(key.PublicKey)

	body := []byte(`{"meta":{"index":1,"commitments":[]},"share":"aa","blinder":"bb"}`)
	frames := [][]byte{body[:3], body[3:10], body[10:]}
	full := bytes.Join(frames, nil)

	r := newFramedRequest(t, http.MethodPost, "/v1/shares/omni/31337/0x01/0x02", frames...)
	sig := signRequest(t, key, http.MethodPost, testHost+r.URL.RequestURI(), full)
	r.Header.Set(RequesterHeader, requester.Hex())
	r.Header.Set(SignatureHeader, "0x"+hex.EncodeToString(sig))

	var handlerRan bool
	var seenBody []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		var err error
		seenBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
	})

	mw := New(testHost)
	w := httptest.NewRecorder()
	mw.Wrap(next, nil, nil).ServeHTTP(w, r)

	require.True(t, handlerRan)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, full, seenBody)
}

func TestMiddlewareRejectsMismatchedStreamedSignatureWithoutRunningHandler(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	requester := crypto.PubkeyToAddress(key.PublicKey)

	signedBody := []byte(`{"meta":{"index":1,"commitments":[]},"share":"aa","blinder":"bb"}`)
	wireFrames := [][]byte{[]byte(`{"meta":{"index":1,"commitments":[]},"share":"tampered!","blinder":"bb"}`)}

	r := newFramedRequest(t, http.MethodPost, "/v1/shares/omni/31337/0x01/0x02", wireFrames...)
	sig := signRequest(t, key, http.MethodPost, testHost+r.URL.RequestURI(), signedBody)
	r.Header.Set(RequesterHeader, requester.Hex())
	r.Header.Set(SignatureHeader, "0x"+hex.EncodeToString(sig))

	var handlerRan bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		w.WriteHeader(http.StatusCreated)
	})

	mw := New(testHost)
	w := httptest.NewRecorder()
	mw.Wrap(next, nil, nil).ServeHTTP(w, r)

	require.False(t, handlerRan, "handler must not run before a mutating request's signature is verified")
	require.Equal(t, http.StatusForbidden, w.Code)
}

// TestMiddlewareRejectsBodylessMutationBeforeHandlerRuns covers the
// handleCommitShare-shaped case: a mutating POST whose handler never
// reads r.Body at all (spec.md §8.5 extended to the bodyless case). The
// signature must still be checked — against the hash of the empty
// body — before next ever runs.
func TestMiddlewareRejectsBodylessMutationBeforeHandlerRuns(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	// Sign with a different key than the one in the Requester header, so
	// the recovered address never matches and verification must fail.
	wrongKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	requester := crypto.PubkeyToAddress(key.PublicKey)

	r := newFramedRequest(t, http.MethodPost, "/v1/shares/omni/31337/0x01/0x02/commit")
	sig := signRequest(t, wrongKey, http.MethodPost, testHost+r.URL.RequestURI(), nil)
	r.Header.Set(RequesterHeader, requester.Hex())
	r.Header.Set(SignatureHeader, "0x"+hex.EncodeToString(sig))

	var handlerRan bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		w.WriteHeader(http.StatusNoContent)
	})

	mw := New(testHost)
	w := httptest.NewRecorder()
	mw.Wrap(next, nil, nil).ServeHTTP(w, r)

	require.False(t, handlerRan, "a bodyless mutating handler must not run before signature verification")
	require.Equal(t, http.StatusForbidden, w.Code)
}
