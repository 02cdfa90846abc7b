// Package router relays room events between gateway instances over Redis pub/sub.
package router

import (
	"context"
	"encoding/json"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "realtime:rooms"

// Membership kinds carried by an Envelope with no Frame.
const (
	MemberJoined = "member_joined"
	MemberLeft   = "member_left"
	// MemberDeparted is a leave caused by the socket closing.
	MemberDeparted = "member_departed"
)

// Envelope is one relayed room event. Either Frame is set (deliver to the room's
// local sessions except ExceptSocket) or Membership is set (UserID joined or left Room).
type Envelope struct {
	Origin       string          `json:"origin"`
	Room         string          `json:"room"`
	ExceptSocket string          `json:"exceptSocket,omitempty"`
	Frame        *protocol.Frame `json:"frame,omitempty"`
	Membership   string          `json:"membership,omitempty"`
	UserID       string          `json:"userId,omitempty"`
}

type Router struct {
	client     *redis.Client
	instanceID string
	channel    string
}

func New(client *redis.Client, instanceID string) *Router {
	return &Router{client: client, instanceID: instanceID, channel: DefaultChannel}
}

func (r *Router) InstanceID() string { return r.instanceID }

// Publish stamps env with this instance as origin and broadcasts it.
func (r *Router) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.instanceID
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	observability.GetLogger(ctx).Debug("router: publishing room event", zap.String("conversation_id", env.Room))
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe delivers envelopes from other instances to handler until ctx is done.
// It returns once the subscription is confirmed.
func (r *Router) Subscribe(ctx context.Context, handler func(Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	go func() {
		log := observability.GetLogger(ctx)
		log.Info("router: subscribed to channel", zap.String("channel", r.channel))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("router: subscription loop stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("router: pubsub channel closed")
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn("router: dropping malformed envelope", zap.Error(err))
					continue
				}
				if env.Origin == r.instanceID {
					continue
				}
				handler(env)
			}
		}
	}()
	return nil
}
