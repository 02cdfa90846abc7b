package client

import (
	"slices"
	"sync"

	"github.com/eventflow/realtime/internal/protocol"
)

// Event topics published by the client.
const (
	TopicConnected        = "messenger:connected"
	TopicDisconnected     = "messenger:disconnected"
	TopicTyping           = "messenger:typing"
	TopicNewMessage       = "messenger:new-message"
	TopicPresence         = "messenger:presence"
	TopicConnectionFailed = "messenger:connection-failed"
)

// Event is delivered to subscribers. Frame carries the server frame for typing,
// new-message and presence events; Err carries the cause of a disconnect or failure.
type Event struct {
	Topic    string
	Frame    protocol.Frame
	SocketID string
	Attempts int
	Err      error
}

type Handler func(Event)

// Bus is a synchronous publish-subscribe list keyed by topic.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish calls every handler for ev.Topic in subscription order. Handlers may
// subscribe or unsubscribe while being called.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs[ev.Topic]))
	handlers := make(map[int]Handler, len(b.subs[ev.Topic]))
	for id, h := range b.subs[ev.Topic] {
		ids = append(ids, id)
		handlers[id] = h
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](ev)
	}
}
