package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	name    string
	err     error
	got     []presence.Change
	closed  bool
	closeEr error
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, c presence.Change) error {
	f.got = append(f.got, c)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return f.closeEr
}

func TestMultiPublishesToEverySink(t *testing.T) {
	a := &fakePublisher{name: "a"}
	b := &fakePublisher{name: "b", err: errors.New("broker down")}
	c := &fakePublisher{name: "c"}
	m := NewMulti(a, b, c)

	change := presence.Change{UserID: "u1", State: presence.StateOnline, Previous: presence.StateOffline}
	err := m.Notify(context.Background(), change)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: broker down")
	assert.Equal(t, []presence.Change{change}, a.got)
	assert.Equal(t, []presence.Change{change}, c.got, "a failing sink must not stop later ones")
}

func TestMultiClose(t *testing.T) {
	a := &fakePublisher{name: "a", closeEr: errors.New("boom")}
	b := &fakePublisher{name: "b"}
	m := NewMulti(a, b)

	assert.Error(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 2, m.Len())
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, PresenceChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "")
	change := presence.Change{
		UserID:     "u1",
		State:      presence.StateOffline,
		Previous:   presence.StateOnline,
		LastSeen:   1700000000000,
		OccurredAt: 1700000005000,
	}
	require.NoError(t, pub.Publish(ctx, change))

	select {
	case msg := <-sub.Channel():
		var got presence.Change
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, change, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message on presence channel")
	}
	assert.NoError(t, pub.Close())
}

func TestNATSHeaderCarrier(t *testing.T) {
	c := natsHeaderCarrier{header: map[string][]string{}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
