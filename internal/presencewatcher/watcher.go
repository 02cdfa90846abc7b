// Package presencewatcher pushes presence changes to the sessions that care about them.
package presencewatcher

import (
	"context"
	"encoding/json"

	"github.com/eventflow/realtime/internal/notify"
	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink delivers a change to local sessions and reports how many received it.
type Sink interface {
	NotifyPresence(c presence.Change) int
}

// Watcher forwards presence changes to a Sink. Start subscribes to the shared
// Redis channel for multi-instance deployments; single-instance deployments
// register the Watcher itself as a notify.Publisher instead.
type Watcher struct {
	client  *redis.Client
	sink    Sink
	channel string
}

func NewWatcher(client *redis.Client, sink Sink) *Watcher {
	return &Watcher{client: client, sink: sink, channel: notify.PresenceChannel}
}

// Start subscribes and returns once the subscription is confirmed.
func (w *Watcher) Start(ctx context.Context) error {
	pubsub := w.client.Subscribe(ctx, w.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	go func() {
		log := observability.GetLogger(ctx)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("presence watcher stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c presence.Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					log.Error("presence watcher: error unmarshaling event", zap.Error(err))
					continue
				}
				w.handle(ctx, c)
			}
		}
	}()
	return nil
}

func (w *Watcher) handle(ctx context.Context, c presence.Change) {
	n := w.sink.NotifyPresence(c)
	observability.GetLogger(ctx).Debug("presence watcher: processed update",
		zap.String("user_id", c.UserID), zap.String("state", string(c.State)), zap.Int("sessions", n))
}

func (w *Watcher) Name() string { return "local" }

// Publish delivers c in-process.
func (w *Watcher) Publish(ctx context.Context, c presence.Change) error {
	w.handle(ctx, c)
	return nil
}

func (w *Watcher) Close() error { return nil }
