package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eventflow/realtime/internal/presence"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{
			name:     "Nil error",
			err:      nil,
			wantCode: codes.OK,
		},
		{
			name:     "Invalid argument",
			err:      fmt.Errorf("%w: empty user id", presence.ErrInvalidArgument),
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "Backend unavailable",
			err:      fmt.Errorf("%w: set_online: dial tcp: refused", presence.ErrBackendUnavailable),
			wantCode: codes.Unavailable,
		},
		{
			name:     "Deadline",
			err:      fmt.Errorf("scan: %w", context.DeadlineExceeded),
			wantCode: codes.DeadlineExceeded,
		},
		{
			name:     "Already gRPC error",
			err:      status.Error(codes.AlreadyExists, "already exists"),
			wantCode: codes.AlreadyExists,
		},
		{
			name:     "Unknown error",
			err:      errors.New("something went wrong"),
			wantCode: codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr := MapError(tt.err)
			if tt.err == nil {
				if gotErr != nil {
					t.Errorf("MapError() = %v, want nil", gotErr)
				}
				return
			}

			st, ok := status.FromError(gotErr)
			if !ok {
				t.Errorf("MapError() did not return a gRPC status error")
				return
			}

			if st.Code() != tt.wantCode {
				t.Errorf("MapError() code = %v, want %v", st.Code(), tt.wantCode)
			}
		})
	}
}
