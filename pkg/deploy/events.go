package deploy

import (
	"sync"
	"time"

	"github.com/caravel-sh/caravel/internal/state"
	"github.com/caravel-sh/caravel/pkg/config"
)

// EventType classifies lifecycle events.
type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventLog           EventType = "log"
)

// Event is one deployment lifecycle notification. Reporting and dashboard
// layers subscribe to these instead of hooking into the deployer itself.
type Event struct {
	Type         EventType
	DeploymentID string
	Environment  config.Environment
	Status       state.Status
	Message      string
	Time         time.Time
}

// Broadcaster fans lifecycle events out to subscribers. Slow subscribers
// lose events rather than stall a deployment: sends never block.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an event broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the event channel plus an unsubscribe function.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber that has buffer room.
func (b *Broadcaster) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
