package signer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	"github.com/escrin/ssss-node/internal/store"
)

// Server wraps the gRPC server and its Unix Domain Socket listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
}

// New creates a new Signer gRPC server bound to the given UDS path,
// serving the given store.Signer.
func New(socketPath string, signer store.Signer) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("signer: create socket directory: %w", err)
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("signer: remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("signer: listen on unix socket %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("signer: chmod socket: %w", err)
	}

	gs := grpc.NewServer()
	gs.RegisterService(&serviceDesc, NewHandler(signer))

	return &Server{
		grpcServer: gs,
		listener:   lis,
		socketPath: socketPath,
	}, nil
}

// Serve starts accepting gRPC connections. It blocks until the server
// is stopped or an error occurs.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// GracefulStop gracefully drains in-flight RPCs and cleans up the socket file.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	os.Remove(s.socketPath)
}
