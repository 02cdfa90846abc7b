package gateway

import (
	"context"

	"github.com/eventflow/realtime/internal/membership"
	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/eventflow/realtime/internal/protocol"
	"github.com/eventflow/realtime/internal/router"
	"go.uber.org/zap"
)

// Relay carries room events to the other gateway instances.
type Relay interface {
	Publish(ctx context.Context, env router.Envelope) error
}

// Hub owns room fan-out for this instance. With a nil Relay it serves a single
// instance; otherwise room events and membership changes are mirrored to peers.
type Hub struct {
	registry *Registry
	members  *membership.Cache
	relay    Relay
}

func NewHub(registry *Registry, members *membership.Cache, relay Relay) *Hub {
	if members == nil {
		members = membership.New()
	}
	return &Hub{registry: registry, members: members, relay: relay}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Attach(s *Session) {
	h.registry.Add(s)
}

// Detach unregisters s and leaves every room it had joined.
func (h *Hub) Detach(ctx context.Context, s *Session) {
	for _, room := range h.registry.Remove(s) {
		h.members.Depart(room, s.UserID)
		h.publishMembership(ctx, room, s.UserID, router.MemberDeparted)
	}
}

// Join is idempotent per session: a repeated join changes nothing.
func (h *Hub) Join(ctx context.Context, s *Session, room string) {
	if !h.registry.Join(room, s) {
		return
	}
	h.members.Add(room, s.UserID)
	h.publishMembership(ctx, room, s.UserID, router.MemberJoined)
}

func (h *Hub) Leave(ctx context.Context, s *Session, room string) {
	if !h.registry.Leave(room, s) {
		return
	}
	h.members.Remove(room, s.UserID)
	h.publishMembership(ctx, room, s.UserID, router.MemberLeft)
}

func (h *Hub) InRoom(s *Session, room string) bool {
	return h.registry.InRoom(room, s)
}

// Broadcast delivers f to the room's sessions here and on every other instance,
// skipping exceptSocket.
func (h *Hub) Broadcast(ctx context.Context, room string, f protocol.Frame, exceptSocket string) int {
	n := h.Deliver(room, f, exceptSocket, "local")
	if h.relay != nil {
		env := router.Envelope{Room: room, ExceptSocket: exceptSocket, Frame: &f}
		if err := h.relay.Publish(ctx, env); err != nil {
			observability.GetLogger(ctx).Warn("hub: relay publish failed", zap.String("conversation_id", room), zap.Error(err))
		}
	}
	return n
}

// Deliver sends f to the room's local sessions, skipping exceptSocket. It returns
// the number of sessions the frame was queued for.
func (h *Hub) Deliver(room string, f protocol.Frame, exceptSocket, origin string) int {
	sessions := h.registry.RoomSessions(room)
	if len(sessions) == 0 {
		return 0
	}
	payload, err := protocol.Encode(f)
	if err != nil {
		observability.Log.Error("hub: encode frame", zap.String("type", f.Type), zap.Error(err))
		return 0
	}
	n := 0
	for _, s := range sessions {
		if s.ID == exceptSocket {
			continue
		}
		if s.TrySend(payload) {
			n++
		}
	}
	observability.RealtimeEventsTotal.WithLabelValues(f.Type, origin).Add(float64(n))
	return n
}

// HandleRelay applies an envelope received from another instance.
func (h *Hub) HandleRelay(env router.Envelope) {
	switch {
	case env.Membership == router.MemberJoined:
		h.members.Add(env.Room, env.UserID)
	case env.Membership == router.MemberLeft:
		h.members.Remove(env.Room, env.UserID)
	case env.Membership == router.MemberDeparted:
		h.members.Depart(env.Room, env.UserID)
	case env.Frame != nil:
		h.Deliver(env.Room, *env.Frame, env.ExceptSocket, "relay")
	}
}

// NotifyPresence pushes a presence frame for c.UserID to every local session of
// another user that shares a room with them. Each session receives it once. An
// offline change also reaches the rooms the user's closed sockets were in.
func (h *Hub) NotifyPresence(c presence.Change) int {
	var rooms []string
	if c.State == presence.StateOffline {
		rooms = h.members.RecentRooms(c.UserID)
		h.members.Forget(c.UserID)
	} else {
		rooms = h.members.UserRooms(c.UserID)
	}
	if len(rooms) == 0 {
		return 0
	}

	payload, err := protocol.Encode(protocol.Presence(c.UserID, string(c.State), c.LastSeen))
	if err != nil {
		return 0
	}

	seen := make(map[string]struct{})
	n := 0
	for _, room := range rooms {
		for _, s := range h.registry.RoomSessions(room) {
			if s.UserID == c.UserID {
				continue
			}
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			if s.TrySend(payload) {
				n++
			}
		}
	}
	observability.RealtimeEventsTotal.WithLabelValues(protocol.TypePresence, "presence").Add(float64(n))
	return n
}

func (h *Hub) publishMembership(ctx context.Context, room, userID, kind string) {
	if h.relay == nil {
		return
	}
	env := router.Envelope{Room: room, UserID: userID, Membership: kind}
	if err := h.relay.Publish(ctx, env); err != nil {
		observability.GetLogger(ctx).Warn("hub: membership relay failed", zap.String("conversation_id", room), zap.String("user_id", userID), zap.Error(err))
	}
}

// Shutdown closes every local session.
func (h *Hub) Shutdown() {
	h.registry.CloseAll()
}
