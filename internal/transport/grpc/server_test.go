package grpc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/eventflow/realtime/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startServer(t *testing.T, reader Reader) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(reader)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seededService(t *testing.T) (*presence.Service, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := presence.NewService(presence.NewMemoryStore(), presence.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, svc.SetOnline(ctx, "alice", "s1"))
	require.NoError(t, svc.SetOnline(ctx, "bob", "s2"))
	require.NoError(t, svc.SetOffline(ctx, "bob", "s2"))
	return svc, now
}

func TestPresenceApi(t *testing.T) {
	svc, now := seededService(t)
	client := NewPresenceApiClient(startServer(t, svc))
	ctx := context.Background()

	t.Run("get presence", func(t *testing.T) {
		out, err := client.GetPresence(ctx, "alice")
		require.NoError(t, err)
		m := out.AsMap()
		assert.Equal(t, "alice", m["userId"])
		assert.Equal(t, "online", m["state"])
		assert.Equal(t, true, m["online"])
		assert.Equal(t, float64(now.UnixMilli()), m["lastSeen"])
	})

	t.Run("unknown user", func(t *testing.T) {
		out, err := client.GetPresence(ctx, "nobody")
		require.NoError(t, err)
		m := out.AsMap()
		assert.Equal(t, "offline", m["state"])
		assert.Nil(t, m["lastSeen"])
	})

	t.Run("bulk", func(t *testing.T) {
		out, err := client.GetBulkPresence(ctx, []string{"alice", "bob", "carol"})
		require.NoError(t, err)
		m := out.AsMap()
		require.Len(t, m, 3)
		assert.Equal(t, "online", m["alice"].(map[string]interface{})["state"])
		assert.Equal(t, "offline", m["bob"].(map[string]interface{})["state"])
		assert.Equal(t, "offline", m["carol"].(map[string]interface{})["state"])
	})

	t.Run("is online", func(t *testing.T) {
		online, err := client.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)
		online, err = client.IsOnline(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("online users and count agree", func(t *testing.T) {
		users, err := client.GetOnlineUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, users)
		count, err := client.GetOnlineCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(users)), count)
	})
}

func TestPresenceApiInvalidArguments(t *testing.T) {
	svc, _ := seededService(t)
	conn := startServer(t, svc)
	client := NewPresenceApiClient(conn)
	ctx := context.Background()

	_, err := client.GetPresence(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.IsOnline(ctx, strings.Repeat("x", presence.MaxIDLength+1))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	mixed := &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("alice"), structpb.NewNumberValue(7)}}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/GetBulkPresence", mixed, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	tooMany := make([]string, MaxBulkIDs+1)
	for i := range tooMany {
		tooMany[i] = "u"
	}
	_, err = client.GetBulkPresence(ctx, tooMany)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthService(t *testing.T) {
	svc, _ := seededService(t)
	conn := startServer(t, svc)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
