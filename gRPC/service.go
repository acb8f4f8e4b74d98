package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GateService is declared on protobuf well-known types, so no generated
// stubs are needed:
//
//	service GateService {
//	  rpc Decide(google.protobuf.BytesValue) returns (google.protobuf.Struct);
//	  rpc AllowedPlates(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	  rpc UpdateAllowedPlates(google.protobuf.ListValue) returns (google.protobuf.Empty);
//	}
const ServiceName = "truckgate.v1.GateService"

const (
	methodDecide              = "/" + ServiceName + "/Decide"
	methodAllowedPlates       = "/" + ServiceName + "/AllowedPlates"
	methodUpdateAllowedPlates = "/" + ServiceName + "/UpdateAllowedPlates"
)

type GateServiceServer interface {
	// Decide takes an encoded image and answers with the same object as
	// HTTP POST /detect.
	Decide(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	AllowedPlates(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	UpdateAllowedPlates(context.Context, *structpb.ListValue) (*emptypb.Empty, error)
}

func RegisterGateServiceServer(s grpc.ServiceRegistrar, srv GateServiceServer) {
	s.RegisterService(&GateServiceDesc, srv)
}

var GateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "AllowedPlates", Handler: allowedPlatesHandler},
		{MethodName: "UpdateAllowedPlates", Handler: updateAllowedPlatesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "truckgate/v1/gate.proto",
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServiceServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDecide}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(GateServiceServer).Decide(ctx, req.(*wrapperspb.BytesValue))
	})
}

func allowedPlatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServiceServer).AllowedPlates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAllowedPlates}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(GateServiceServer).AllowedPlates(ctx, req.(*emptypb.Empty))
	})
}

func updateAllowedPlatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServiceServer).UpdateAllowedPlates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUpdateAllowedPlates}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(GateServiceServer).UpdateAllowedPlates(ctx, req.(*structpb.ListValue))
	})
}

// GateServiceClient calls a remote GateService.
type GateServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewGateServiceClient(cc grpc.ClientConnInterface) *GateServiceClient {
	return &GateServiceClient{cc: cc}
}

func (c *GateServiceClient) Decide(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodDecide, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GateServiceClient) AllowedPlates(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodAllowedPlates, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GateServiceClient) UpdateAllowedPlates(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodUpdateAllowedPlates, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
