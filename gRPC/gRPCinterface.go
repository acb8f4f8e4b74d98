package proto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"TruckGate/allowlist"
	"TruckGate/monitor"
	"TruckGate/pipeline"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Submitter queues one encoded frame for the decision pipeline.
type Submitter interface {
	Submit(ctx context.Context, image []byte) (*pipeline.Result, error)
}

type Server struct {
	jobs  Submitter
	allow allowlist.Store
	log   *zap.Logger
}

var _ GateServiceServer = (*Server)(nil)

func NewServer(jobs Submitter, allow allowlist.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{jobs: jobs, allow: allow, log: log}
}

func (s *Server) Decide(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.RequestsTotal.WithLabelValues("grpc").Inc()
	if len(req.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image cannot be empty")
	}
	res, err := s.jobs.Submit(pipeline.WithTransport(ctx, "grpc"), req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := ResultStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *Server) AllowedPlates(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	plates, err := s.allow.Plates(ctx)
	if err != nil {
		s.log.Error("read allow-list", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "allow-list unavailable")
	}
	values := make([]any, len(plates))
	for i, p := range plates {
		values[i] = p
	}
	return structpb.NewList(values)
}

func (s *Server) UpdateAllowedPlates(ctx context.Context, req *structpb.ListValue) (*emptypb.Empty, error) {
	plates := make([]string, 0, len(req.GetValues()))
	for i, v := range req.GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "plate %d is not a string", i)
		}
		plates = append(plates, sv.StringValue)
	}
	if err := s.allow.Replace(ctx, plates); err != nil {
		s.log.Error("replace allow-list", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to save allow-list")
	}
	s.log.Info("allow-list updated", zap.Int("plates", len(plates)), zap.String("transport", "grpc"))
	return &emptypb.Empty{}, nil
}

// ResultStruct converts a pipeline result to the JSON-shaped Struct sent to
// gRPC clients.
func ResultStruct(res *pipeline.Result) (*structpb.Struct, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrUndecodableImage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, pipeline.ErrDetection):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, pipeline.ErrQueueClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// NewGRPCServer builds a server with logging and recovery interceptors and
// the gate service registered.
func NewGRPCServer(srv GateServiceServer, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(20*1024*1024),
		grpc.ChainUnaryInterceptor(RecoveryInterceptor(log), LoggingInterceptor(log)),
	)
	RegisterGateServiceServer(s, srv)
	return s
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv GateServiceServer, log *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on gRPC port %d: %w", port, err)
	}
	s := NewGRPCServer(srv, log)
	go func() {
		log.Info("gRPC server listening", zap.Int("port", port))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
