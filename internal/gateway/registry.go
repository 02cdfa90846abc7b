package gateway

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// Registry indexes the sessions connected to this instance by user and by room.
// A user may hold any number of sessions; each counts as its own socket.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
	rooms    map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.UserID] == nil {
		r.sessions[s.UserID] = make(map[string]*Session)
	}
	r.sessions[s.UserID][s.ID] = s
}

// Remove unregisters s and takes it out of every room. It returns the rooms s was in.
func (r *Registry) Remove(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byID, ok := r.sessions[s.UserID]; ok {
		delete(byID, s.ID)
		if len(byID) == 0 {
			delete(r.sessions, s.UserID)
		}
	}

	left := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		r.leaveLocked(room, s)
		left = append(left, room)
	}
	sort.Strings(left)
	return left
}

// Join adds s to room. It reports false when s was already a member.
func (r *Registry) Join(room string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := s.rooms[room]; ok {
		return false
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]*Session)
	}
	r.rooms[room][s.ID] = s
	s.rooms[room] = struct{}{}
	return true
}

// Leave removes s from room. It reports false when s was not a member.
func (r *Registry) Leave(room string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return false
	}
	r.leaveLocked(room, s)
	return true
}

func (r *Registry) leaveLocked(room string, s *Session) {
	delete(s.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) InRoom(room string, s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (r *Registry) RoomSessions(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		result = append(result, s)
	}
	return result
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byID := range r.sessions {
		n += len(byID)
	}
	return n
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, byID := range r.sessions {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}
}
