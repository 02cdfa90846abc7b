package presence

import (
	"encoding/json"
	"time"
)

type State string

const (
	StateOnline  State = "online"
	StateAway    State = "away"
	StateOffline State = "offline"
)

// Thresholds are the idle durations after which a connected user reads as away, then offline.
type Thresholds struct {
	Away    time.Duration
	Offline time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{Away: 5 * time.Minute, Offline: 15 * time.Minute}
}

// Record is a point-in-time copy of one user's stored presence.
type Record struct {
	UserID    string
	LastSeen  time.Time
	SocketIDs []string
}

func (r *Record) State(now time.Time, th Thresholds) State {
	if r == nil {
		return StateOffline
	}
	return Derive(r.LastSeen, len(r.SocketIDs), now, th)
}

// Derive computes presence from the last activity time and the number of open sockets.
// No sockets is always offline; otherwise idle time alone decides, so a stale socket
// still decays to away and then offline.
func Derive(lastSeen time.Time, sockets int, now time.Time, th Thresholds) State {
	if sockets == 0 || lastSeen.IsZero() {
		return StateOffline
	}
	idle := now.Sub(lastSeen)
	switch {
	case idle >= th.Offline:
		return StateOffline
	case idle >= th.Away:
		return StateAway
	default:
		return StateOnline
	}
}

// Snapshot is the read-only view handed to callers. LastSeen is zero for users never seen.
type Snapshot struct {
	State    State
	LastSeen time.Time
}

func offlineSnapshot() Snapshot {
	return Snapshot{State: StateOffline}
}

type snapshotJSON struct {
	State    State  `json:"state"`
	LastSeen *int64 `json:"lastSeen"`
}

// MarshalJSON encodes lastSeen as epoch milliseconds, or null when never seen.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{State: s.State}
	if !s.LastSeen.IsZero() {
		ms := s.LastSeen.UnixMilli()
		out.LastSeen = &ms
	}
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.State = in.State
	s.LastSeen = time.Time{}
	if in.LastSeen != nil {
		s.LastSeen = time.UnixMilli(*in.LastSeen)
	}
	return nil
}

// Change is published when an explicit operation moves a user between states.
type Change struct {
	UserID     string `json:"userId"`
	State      State  `json:"state"`
	Previous   State  `json:"previous"`
	LastSeen   int64  `json:"lastSeen"`
	OccurredAt int64  `json:"occurredAt"`
}
