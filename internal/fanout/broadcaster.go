package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

const DefaultBufferSize = 100

type EventKind string

const (
	EventEmergencyAlert EventKind = "emergency-alert"
	EventAlertResponse  EventKind = "alert-response"
)

type Event struct {
	Kind  EventKind
	Alert models.Alert
}

// Subscription is one observer session. C is closed when the session is
// unsubscribed or the broadcaster shuts down.
type Subscription struct {
	ID   uint64
	Name string
	C    <-chan Event

	ch chan Event
}

type Broadcaster struct {
	subscribers map[uint64]*Subscription
	nextID      atomic.Uint64
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[uint64]*Subscription),
		bufferSize:  bufferSize,
	}
}

func (b *Broadcaster) Subscribe(name string) *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{
		ID:   b.nextID.Add(1),
		Name: name,
		C:    ch,
		ch:   ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub.ID] = sub

	return sub
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Broadcast hands e to every subscriber without blocking and returns the
// number of subscribers whose buffer was full.
func (b *Broadcaster) Broadcast(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			// Skip slow subscribers
			dropped++
			slog.Warn("dropped event for slow subscriber",
				"subscriber_id", sub.ID, "event", e.Kind, "alert_id", e.Alert.ID)
		}
	}
	return dropped
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing sessions to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
