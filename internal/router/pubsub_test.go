package router

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRelaysBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := New(client, "instance-a")
	b := New(client, "instance-b")

	gotA := make(chan Envelope, 4)
	gotB := make(chan Envelope, 4)
	require.NoError(t, a.Subscribe(ctx, func(env Envelope) { gotA <- env }))
	require.NoError(t, b.Subscribe(ctx, func(env Envelope) { gotB <- env }))

	frame := protocol.Typing("c1", "u1", true)
	require.NoError(t, a.Publish(ctx, Envelope{Room: "c1", ExceptSocket: "s1", Frame: &frame}))

	select {
	case env := <-gotB:
		assert.Equal(t, "instance-a", env.Origin)
		assert.Equal(t, "c1", env.Room)
		assert.Equal(t, "s1", env.ExceptSocket)
		require.NotNil(t, env.Frame)
		assert.Equal(t, frame, *env.Frame)
	case <-time.After(2 * time.Second):
		t.Fatal("instance-b did not receive the envelope")
	}

	select {
	case env := <-gotA:
		t.Fatalf("origin received its own envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
