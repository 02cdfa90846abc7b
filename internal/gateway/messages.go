package gateway

import (
	"context"
	"encoding/json"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/protocol"
	"go.uber.org/zap"
)

// MessageEvent is the record published by the conversation service when a
// message is stored.
type MessageEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	SentAt         int64  `json:"sentAt"`
}

// MessageHandler turns message events into new_message frames for the room's
// local sessions. Every instance consumes every event, so nothing is relayed.
type MessageHandler struct {
	hub *Hub
}

func NewMessageHandler(hub *Hub) *MessageHandler {
	return &MessageHandler{hub: hub}
}

func (m *MessageHandler) Handle(ctx context.Context, record []byte) {
	log := observability.GetLogger(ctx)

	var ev MessageEvent
	if err := json.Unmarshal(record, &ev); err != nil {
		log.Warn("message event: malformed record", zap.Error(err))
		return
	}
	if ev.ConversationID == "" {
		log.Warn("message event: missing conversationId", zap.String("message_id", ev.MessageID))
		return
	}

	f := protocol.Frame{
		Type:           protocol.TypeNewMessage,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		SenderID:       ev.SenderID,
		Body:           ev.Body,
		SentAt:         ev.SentAt,
	}
	n := m.hub.Deliver(ev.ConversationID, f, "", "kafka")
	log.Debug("message event delivered", zap.String("conversation_id", ev.ConversationID), zap.String("message_id", ev.MessageID), zap.Int("sessions", n))
}
