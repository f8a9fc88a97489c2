// Package eventbus is the process-wide, coarse-grained activity bus (§4.9):
// session/project/queue notifications, broadcast to every subscriber with
// no backlog. It is a simple broadcaster, not a durable log — a subscriber
// only sees events published after it joins.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type is the coarse activity event vocabulary.
type Type string

const (
	SessionActive     Type = "session.active"
	SessionIdle       Type = "session.idle"
	SessionTerminated Type = "session.terminated"
	QueueEnqueued     Type = "queue.enqueued"
	QueueStarted      Type = "queue.started"
	QueueCancelled    Type = "queue.cancelled"
	ProjectDiscovered Type = "project.discovered"
	ProjectUpdated    Type = "project.updated"
)

// Event is one activity notification.
type Event struct {
	Type      Type   `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Subscriber receives events published after it subscribes.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans activity events out to every current subscriber. It keeps a
// watermill gochannel pub/sub alive as the backing broker (so a future
// distributed backend is a drop-in swap) but dispatches to subscribers by
// direct call, preserving the Event's concrete type across the boundary.
type Bus struct {
	mu          sync.RWMutex
	pubsub      *gochannel.GoChannel
	subscribers []subscriberEntry
	nextID      uint64
	closed      bool
}

// New builds a Bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100, Persistent: false},
			watermill.NopLogger{},
		),
	}
}

// Subscribe registers fn for every future event. Returns an unsubscribe
// function.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers = append(b.subscribers, subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.subscribers {
		if e.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish broadcasts ev to every current subscriber asynchronously.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	fns := make([]Subscriber, len(b.subscribers))
	for i, e := range b.subscribers {
		fns[i] = e.fn
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		go fn(ev)
	}
}

// PublishSync broadcasts ev synchronously; useful in tests and for the
// shutdown flush (§6 exit codes note: signal-initiated shutdown flushes the
// bus before closing transports).
func (b *Bus) PublishSync(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	fns := make([]Subscriber, len(b.subscribers))
	for i, e := range b.subscribers {
		fns[i] = e.fn
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Close stops the bus. Further Publish/Subscribe calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}
