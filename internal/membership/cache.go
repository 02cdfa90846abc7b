// Package membership tracks which users are in which conversation rooms across
// the cluster, as learned from local joins and relayed membership events.
package membership

import (
	"sort"
	"sync"
)

// Cache counts memberships per (room, user): a user with two sockets in a room
// stays a member until both have left. Rooms dropped by a disconnect (Depart) are
// remembered until the user joins again or Forget is called, so the offline
// change that follows a disconnect still reaches them. An explicit Remove
// forgets the room at once.
type Cache struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]int
	userToRooms map[string]map[string]struct{}
	departed    map[string]map[string]struct{}
}

func New() *Cache {
	return &Cache{
		rooms:       make(map[string]map[string]int),
		userToRooms: make(map[string]map[string]struct{}),
		departed:    make(map[string]map[string]struct{}),
	}
}

// Add records one more membership of user in room.
func (c *Cache) Add(room, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[room] == nil {
		c.rooms[room] = make(map[string]int)
	}
	c.rooms[room][user]++

	if c.userToRooms[user] == nil {
		c.userToRooms[user] = make(map[string]struct{})
	}
	c.userToRooms[user][room] = struct{}{}
	delete(c.departed, user)
}

// Remove drops one membership of user in room. Removing an unknown pair is a no-op.
func (c *Cache) Remove(room, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(room, user)
}

// Depart is Remove for a membership that ended with a disconnect. When it was
// the user's last membership in room, the room is kept for RecentRooms.
func (c *Cache) Depart(room, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.removeLocked(room, user) {
		return
	}
	if c.departed[user] == nil {
		c.departed[user] = make(map[string]struct{})
	}
	c.departed[user][room] = struct{}{}
}

// removeLocked reports whether user is no longer a member of room.
func (c *Cache) removeLocked(room, user string) bool {
	members, ok := c.rooms[room]
	if !ok || members[user] == 0 {
		return false
	}
	members[user]--
	if members[user] > 0 {
		return false
	}
	delete(members, user)
	if len(members) == 0 {
		delete(c.rooms, room)
	}
	if rooms := c.userToRooms[user]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(c.userToRooms, user)
		}
	}
	return true
}

// Forget drops the rooms remembered for a user who left them.
func (c *Cache) Forget(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.departed, user)
}

func (c *Cache) Members(room string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms[room]))
	for u := range c.rooms[room] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// UserRooms returns the rooms user is in.
func (c *Cache) UserRooms(user string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.userToRooms[user]))
	for room := range c.userToRooms[user] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// RecentRooms returns the rooms user is in plus the rooms a disconnect took
// the user out of since the last Forget.
func (c *Cache) RecentRooms(user string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.userToRooms[user])+len(c.departed[user]))
	for room := range c.userToRooms[user] {
		out = append(out, room)
	}
	for room := range c.departed[user] {
		if _, live := c.userToRooms[user][room]; !live {
			out = append(out, room)
		}
	}
	sort.Strings(out)
	return out
}
