package grpc

import (
	"context"
	"errors"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MapError converts a presence error into a gRPC status error.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, presence.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, presence.ErrBackendUnavailable):
		return status.Error(codes.Unavailable, "presence backend unavailable")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		observability.Log.Error("internal gRPC error", zap.Error(err))
		return status.Error(codes.Internal, "internal server error")
	}
}
