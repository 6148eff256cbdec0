package signer

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path segment used by both server
// registration and client Invoke calls, standing in for what a
// generated *_grpc.pb.go would otherwise hard-code.
const ServiceName = "ssss.signer.v1.Signer"

// SignRequest/SignResponse and AddressRequest/AddressResponse are the
// hand-written wire messages the jsonCodec (de)serializes, replacing
// the fields a .proto for this service would define:
//
//	service Signer {
//	  rpc Sign(SignRequest) returns (SignResponse);
//	  rpc Address(AddressRequest) returns (AddressResponse);
//	}
type SignRequest struct {
	Digest []byte `json:"digest"`
}

type SignResponse struct {
	Signature []byte `json:"signature"`
}

type AddressRequest struct{}

type AddressResponse struct {
	Address []byte `json:"address"`
}

// serviceDesc describes the Signer service to grpc.Server.RegisterService,
// the same role a generated _ServiceDesc var plays for a protoc-generated
// service, pointed at srv (an rpcHandler) instead of a generated
// SignerServer interface implementation.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*rpcHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Sign",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(SignRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(rpcHandler).Sign(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Sign"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(rpcHandler).Sign(ctx, req.(*SignRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "Address",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(AddressRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(rpcHandler).Address(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Address"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(rpcHandler).Address(ctx, req.(*AddressRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Metadata: "signer.proto",
}
