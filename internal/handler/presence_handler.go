// Package handler serves the HTTP presence query API.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/eventflow/realtime/internal/presence"
	"github.com/go-chi/chi/v5"
)

// MaxBulkIDs caps the user_ids list of a bulk query.
const MaxBulkIDs = 500

// PresenceReader is the query side of the presence service.
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) presence.Snapshot
	GetBulkPresence(ctx context.Context, userIDs []string) map[string]presence.Snapshot
	IsOnline(ctx context.Context, userID string) bool
	GetOnlineUsers(ctx context.Context) []string
	GetOnlineCount(ctx context.Context) int
}

type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(p PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: p}
}

type userPresenceResponse struct {
	UserID   string         `json:"userId"`
	State    presence.State `json:"state"`
	LastSeen *int64         `json:"lastSeen"`
	Online   bool           `json:"online"`
}

func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := presence.ValidateUserID(userID); err != nil {
		WriteServiceError(w, err)
		return
	}

	snap := h.presence.GetPresence(r.Context(), userID)
	resp := userPresenceResponse{
		UserID: userID,
		State:  snap.State,
		Online: snap.State == presence.StateOnline,
	}
	if !snap.LastSeen.IsZero() {
		ms := snap.LastSeen.UnixMilli()
		resp.LastSeen = &ms
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *PresenceHandler) GetBulkPresence(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_ids")
	if raw == "" {
		WriteError(w, http.StatusBadRequest, "missing_user_ids", "user_ids query parameter is required")
		return
	}

	var userIDs []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}
	if len(userIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "missing_user_ids", "user_ids query parameter is required")
		return
	}
	if len(userIDs) > MaxBulkIDs {
		WriteError(w, http.StatusBadRequest, "too_many_user_ids", "at most 500 user ids per request")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"presences": h.presence.GetBulkPresence(r.Context(), userIDs),
	})
}

func (h *PresenceHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := h.presence.GetOnlineUsers(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (h *PresenceHandler) GetOnlineCount(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{
		"count": h.presence.GetOnlineCount(r.Context()),
	})
}
