package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrin/ssss-node/internal/store"
)

// rpcHandler is the HandlerType serviceDesc's method descriptors dispatch
// against — the hand-written analogue of a generated SignerServer
// interface a real signer.proto would produce.
type rpcHandler interface {
	Sign(ctx context.Context, req *SignRequest) (*SignResponse, error)
	Address(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
}

// Handler adapts a store.Signer to rpcHandler, letting the node's signer
// identity (an EnclaveSigner, or any other store.Signer) run inside a
// narrowly-privileged child process reachable only over a Unix domain
// socket — the same process-isolation role the teacher's
// SessionManager-backed gRPC server played for Polymarket order signing.
type Handler struct {
	signer store.Signer
}

func NewHandler(signer store.Signer) *Handler {
	return &Handler{signer: signer}
}

func (h *Handler) Sign(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	if len(req.Digest) != 32 {
		return nil, fmt.Errorf("signer: digest must be 32 bytes, got %d", len(req.Digest))
	}
	sig, err := h.signer.Sign(ctx, common.BytesToHash(req.Digest))
	if err != nil {
		return nil, err
	}
	return &SignResponse{Signature: sig}, nil
}

func (h *Handler) Address(ctx context.Context, _ *AddressRequest) (*AddressResponse, error) {
	addr, err := h.signer.SignerAddress(ctx)
	if err != nil {
		return nil, err
	}
	return &AddressResponse{Address: addr.Bytes()}, nil
}
