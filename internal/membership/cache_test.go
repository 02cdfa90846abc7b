package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheCountsMemberships(t *testing.T) {
	c := New()
	c.Add("room1", "alice")
	c.Add("room1", "alice")
	c.Add("room1", "bob")
	c.Add("room2", "alice")

	assert.Equal(t, []string{"alice", "bob"}, c.Members("room1"))
	assert.Equal(t, []string{"room1", "room2"}, c.UserRooms("alice"))

	c.Remove("room1", "alice")
	assert.Equal(t, []string{"alice", "bob"}, c.Members("room1"), "second socket keeps alice in the room")

	c.Remove("room1", "alice")
	assert.Equal(t, []string{"bob"}, c.Members("room1"))

	c.Remove("room1", "alice")
	c.Remove("nope", "carol")
	assert.Equal(t, []string{"bob"}, c.Members("room1"))
	assert.Empty(t, c.UserRooms("carol"))

	c.Remove("room1", "bob")
	assert.Empty(t, c.Members("room1"))
}

func TestCacheRemembersDepartedRooms(t *testing.T) {
	c := New()
	c.Add("room1", "alice")
	c.Add("room2", "alice")

	c.Depart("room1", "alice")
	c.Depart("room2", "alice")
	assert.Empty(t, c.Members("room1"))
	assert.Empty(t, c.UserRooms("alice"))
	assert.Equal(t, []string{"room1", "room2"}, c.RecentRooms("alice"))

	c.Forget("alice")
	assert.Empty(t, c.RecentRooms("alice"))

	c.Depart("room1", "alice")
	c.Add("room1", "alice")
	c.Depart("room1", "alice")
	c.Add("room3", "alice")
	assert.Equal(t, []string{"room3"}, c.RecentRooms("alice"), "joining again clears departed rooms")
}

func TestCacheExplicitRemoveIsNotRemembered(t *testing.T) {
	c := New()
	c.Add("room1", "alice")
	c.Add("room2", "alice")

	c.Remove("room1", "alice")
	assert.Equal(t, []string{"room2"}, c.UserRooms("alice"))
	assert.Equal(t, []string{"room2"}, c.RecentRooms("alice"))
}

func TestCacheDepartKeepsRoomWhileAnotherSocketStays(t *testing.T) {
	c := New()
	c.Add("room1", "alice")
	c.Add("room1", "alice")

	c.Depart("room1", "alice")
	assert.Equal(t, []string{"room1"}, c.UserRooms("alice"))
	assert.Equal(t, []string{"room1"}, c.RecentRooms("alice"))

	c.Remove("room1", "alice")
	assert.Empty(t, c.RecentRooms("alice"))
}
