// Package protocol defines the JSON text frames exchanged between the realtime
// gateway and its clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server frame types.
const (
	TypeAuth      = "auth"
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeTyping    = "typing"
	TypeHeartbeat = "heartbeat"
)

// Server -> client frame types. TypeTyping is shared by both directions.
const (
	TypeAuthOK     = "auth_ok"
	TypeAuthError  = "auth_error"
	TypeJoined     = "joined"
	TypeLeft       = "left"
	TypePresence   = "presence"
	TypeNewMessage = "new_message"
	TypeError      = "error"
)

// CloseAuthFailed is the websocket close code sent when the auth handshake fails.
const CloseAuthFailed = 4001

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the single envelope for every message. Only the fields relevant to Type are set.
type Frame struct {
	Type           string `json:"type"`
	UserID         string `json:"userId,omitempty"`
	Token          string `json:"token,omitempty"`
	SocketID       string `json:"socketId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping,omitempty"`
	State          string `json:"state,omitempty"`
	LastSeen       *int64 `json:"lastSeen,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	Body           string `json:"body,omitempty"`
	SentAt         int64  `json:"sentAt,omitempty"`
	Message        string `json:"message,omitempty"`
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func Auth(userID, token string) Frame {
	return Frame{Type: TypeAuth, UserID: userID, Token: token}
}

func AuthOK(userID, socketID string) Frame {
	return Frame{Type: TypeAuthOK, UserID: userID, SocketID: socketID}
}

func AuthError(msg string) Frame {
	return Frame{Type: TypeAuthError, Message: msg}
}

func Join(conversationID string) Frame {
	return Frame{Type: TypeJoin, ConversationID: conversationID}
}

func Joined(conversationID string) Frame {
	return Frame{Type: TypeJoined, ConversationID: conversationID}
}

func Leave(conversationID string) Frame {
	return Frame{Type: TypeLeave, ConversationID: conversationID}
}

func Left(conversationID string) Frame {
	return Frame{Type: TypeLeft, ConversationID: conversationID}
}

func Typing(conversationID, userID string, isTyping bool) Frame {
	return Frame{Type: TypeTyping, ConversationID: conversationID, UserID: userID, IsTyping: isTyping}
}

func Heartbeat() Frame {
	return Frame{Type: TypeHeartbeat}
}

// Presence builds a presence frame; a zero lastSeen is sent as absent.
func Presence(userID, state string, lastSeenMillis int64) Frame {
	f := Frame{Type: TypePresence, UserID: userID, State: state}
	if lastSeenMillis > 0 {
		ls := lastSeenMillis
		f.LastSeen = &ls
	}
	return f
}

func Error(msg string) Frame {
	return Frame{Type: TypeError, Message: msg}
}
