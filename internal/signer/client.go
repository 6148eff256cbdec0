package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// RemoteSigner is a store.Signer that delegates to a Server over a Unix
// domain socket, the client half of the node's signer-isolation
// boundary (SPEC_FULL §2: "a KMS-backed signing process can run as a
// separate, narrowly-privileged service").
type RemoteSigner struct {
	conn *grpc.ClientConn
}

// DialRemote connects to a Server listening on socketPath. The
// connection carries no transport security of its own (insecure.
// NewCredentials) because Unix domain socket access is already gated by
// filesystem permissions (Server chmods the socket 0600), the same
// trust boundary the teacher's UDS signer relied on.
func DialRemote(socketPath string) (*RemoteSigner, error) {
	conn, err := grpc.NewClient(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("signer: dial %s: %w", socketPath, err)
	}
	return &RemoteSigner{conn: conn}, nil
}

func (r *RemoteSigner) Close() error {
	return r.conn.Close()
}

func (r *RemoteSigner) Sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	resp := new(SignResponse)
	if err := r.conn.Invoke(ctx, "/"+ServiceName+"/Sign", &SignRequest{Digest: digest.Bytes()}, resp); err != nil {
		return nil, fmt.Errorf("signer: remote sign: %w", err)
	}
	return resp.Signature, nil
}

func (r *RemoteSigner) SignerAddress(ctx context.Context) (common.Address, error) {
	resp := new(AddressResponse)
	if err := r.conn.Invoke(ctx, "/"+ServiceName+"/Address", &AddressRequest{}, resp); err != nil {
		return common.Address{}, fmt.Errorf("signer: remote address: %w", err)
	}
	return common.BytesToAddress(resp.Address), nil
}
