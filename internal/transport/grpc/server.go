// Package grpc exposes the presence query API over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxBulkIDs caps GetBulkPresence requests.
const MaxBulkIDs = 500

// Reader is the query side of the presence service.
type Reader interface {
	GetPresence(ctx context.Context, userID string) presence.Snapshot
	GetBulkPresence(ctx context.Context, userIDs []string) map[string]presence.Snapshot
	IsOnline(ctx context.Context, userID string) bool
	GetOnlineUsers(ctx context.Context) []string
	GetOnlineCount(ctx context.Context) int
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	presence   Reader
}

func New(reader Reader) *Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(metricsInterceptor),
	)

	s := &Server{
		grpcServer: grpcServer,
		health:     health.NewServer(),
		presence:   reader,
	}

	RegisterPresenceApiServer(grpcServer, s)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

func metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	observability.GrpcRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}

// Serve blocks until lis fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	observability.Log.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Stop() {
	observability.Log.Info("shutting down gRPC")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func snapshotFields(snap presence.Snapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"state":    string(snap.State),
		"lastSeen": nil,
	}
	if !snap.LastSeen.IsZero() {
		fields["lastSeen"] = float64(snap.LastSeen.UnixMilli())
	}
	return fields
}

func (s *Server) GetPresence(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if err := presence.ValidateUserID(userID); err != nil {
		return nil, MapError(err)
	}

	snap := s.presence.GetPresence(ctx, userID)
	fields := snapshotFields(snap)
	fields["userId"] = userID
	fields["online"] = snap.State == presence.StateOnline

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *Server) GetBulkPresence(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	values := req.GetValues()
	if len(values) > MaxBulkIDs {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d user ids per request", MaxBulkIDs)
	}

	userIDs := make([]string, 0, len(values))
	for i, v := range values {
		id, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "user id %d is not a string", i)
		}
		if err := presence.ValidateUserID(id.StringValue); err != nil {
			return nil, MapError(err)
		}
		userIDs = append(userIDs, id.StringValue)
	}

	snaps := s.presence.GetBulkPresence(ctx, userIDs)
	fields := make(map[string]interface{}, len(snaps))
	for id, snap := range snaps {
		fields[id] = snapshotFields(snap)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *Server) IsOnline(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := presence.ValidateUserID(req.GetValue()); err != nil {
		return nil, MapError(err)
	}
	return wrapperspb.Bool(s.presence.IsOnline(ctx, req.GetValue())), nil
}

func (s *Server) GetOnlineUsers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	users := s.presence.GetOnlineUsers(ctx)
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(users))}
	for _, u := range users {
		out.Values = append(out.Values, structpb.NewStringValue(u))
	}
	return out, nil
}

func (s *Server) GetOnlineCount(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	return wrapperspb.Int64(int64(s.presence.GetOnlineCount(ctx))), nil
}
