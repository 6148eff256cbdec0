package signer_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/escrin/ssss-node/internal/signer"
)

// TestIntegration_SignAndAddress starts a real gRPC server on a temporary
// Unix domain socket backed by an EnclaveSigner, dials it with
// RemoteSigner, and verifies Sign/SignerAddress round-trip correctly
// over the custom JSON codec.
func TestIntegration_SignAndAddress(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-signer.sock")

	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyBytes := crypto.FromECDSA(privKey)
	wantAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	enclave, err := signer.NewEnclaveSigner(keyBytes)
	require.NoError(t, err)

	srv, err := signer.New(socketPath, enclave)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.GracefulStop)

	waitForSocket(t, socketPath)

	client, err := signer.DialRemote(socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()

	gotAddr, err := client.SignerAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, wantAddr, gotAddr)

	digest := crypto.Keccak256Hash([]byte("hello ssss"))
	sig, err := client.Sign(ctx, digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.True(t, sig[64] == 27 || sig[64] == 28)

	sigForRecover := append([]byte{}, sig...)
	sigForRecover[64] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), sigForRecover)
	require.NoError(t, err)
	require.Equal(t, wantAddr, crypto.PubkeyToAddress(*pub))
}

// waitForSocket polls until the socket file appears and accepts a
// connection or the timeout elapses.
func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
			if err == nil {
				conn.Close()
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("socket %s did not become available", path)
}
