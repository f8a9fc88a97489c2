// Package workerqueue implements the per-project start-session FIFO (§4.8):
// two request kinds (new-session, resume-session), each resolved exactly
// once by whichever worker dequeues it.
package workerqueue

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tetherhq/tether/internal/eventbus"
)

// Kind distinguishes a brand-new session request from a resume of one that
// already has an id.
type Kind string

const (
	KindNewSession    Kind = "new-session"
	KindResumeSession Kind = "resume-session"
)

// Result is what a worker hands back via Request.Resolve.
type Result struct {
	Status string // "ok" or "cancelled" or "error"
	Value  any
	Err    error
}

// Request is one queued start-session ask.
type Request struct {
	QueueID   string
	Kind      Kind
	ProjectID string
	SessionID string // set for KindResumeSession
	Opts      any    // adapter.StartOptions, opaque to this package

	enqueuedAt time.Time
	done       chan Result
}

// Resolve completes the request's promise exactly once. Later calls are
// no-ops.
func (r *Request) Resolve(res Result) {
	select {
	case r.done <- res:
	default:
	}
}

// Wait blocks until the request is resolved.
func (r *Request) Wait() Result {
	return <-r.done
}

// Queue is a per-project FIFO of start-session Requests.
type Queue struct {
	projectID string
	bus       *eventbus.Bus

	mu      sync.Mutex
	items   []*Request
	maxWait time.Duration
}

// New builds an empty Queue for one project. bus may be nil (no activity
// events published).
func New(projectID string, bus *eventbus.Bus) *Queue {
	return &Queue{projectID: projectID, bus: bus}
}

// Enqueue appends req, assigning it a queue id, and returns its 1-based
// position.
func (q *Queue) Enqueue(kind Kind, sessionID string, opts any) (*Request, int) {
	req := &Request{
		QueueID:    ulid.Make().String(),
		Kind:       kind,
		ProjectID:  q.projectID,
		SessionID:  sessionID,
		Opts:       opts,
		enqueuedAt: time.Now(),
		done:       make(chan Result, 1),
	}
	q.mu.Lock()
	q.items = append(q.items, req)
	pos := len(q.items)
	q.mu.Unlock()

	q.publish(eventbus.QueueEnqueued, req.QueueID)
	return req, pos
}

// Dequeue removes and returns the head request, or nil if empty. It publishes
// QueueStarted for the removed request and, when requests remain, one more
// QueueStarted event with id "positions-shifted"; no per-request position
// event is published.
func (q *Queue) Dequeue() *Request {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	req := q.items[0]
	q.items = q.items[1:]
	remaining := len(q.items)
	if waited := time.Since(req.enqueuedAt); waited > q.maxWait {
		q.maxWait = waited
	}
	q.mu.Unlock()

	q.publish(eventbus.QueueStarted, req.QueueID)
	if remaining > 0 {
		q.publish(eventbus.QueueStarted, "positions-shifted")
	}
	return req
}

// Cancel resolves queueID's promise as cancelled and removes it from the
// queue, reshuffling positions. Returns false if queueID is not present.
func (q *Queue) Cancel(queueID string) bool {
	q.mu.Lock()
	idx := -1
	for i, r := range q.items {
		if r.QueueID == queueID {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	req := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.mu.Unlock()

	req.Resolve(Result{Status: "cancelled"})
	q.publish(eventbus.QueueCancelled, queueID)
	return true
}

// FindBySessionID returns the queued resume-session request for sessionID,
// if any.
func (q *Queue) FindBySessionID(sessionID string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.items {
		if r.Kind == KindResumeSession && r.SessionID == sessionID {
			return r
		}
	}
	return nil
}

// Position returns queueID's 1-based head-distance, or 0 if not found.
func (q *Queue) Position(queueID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if r.QueueID == queueID {
			return i + 1
		}
	}
	return 0
}

// Peek returns the head request without removing it, or nil if empty.
func (q *Queue) Peek() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// IsEmpty reports whether the queue currently holds no requests.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Length returns the current number of queued requests.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Info is a snapshot for introspection/debugging endpoints.
type Info struct {
	ProjectID string
	Length    int
	QueueIDs  []string
	// MaxWait is the longest time any completed request spent queued
	// before being dequeued, for client-side "queued longer than usual"
	// messaging. Zero until a request has been dequeued.
	MaxWait time.Duration
}

// GetQueueInfo returns a snapshot of the queue's current contents.
func (q *Queue) GetQueueInfo() Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.items))
	for i, r := range q.items {
		ids[i] = r.QueueID
	}
	return Info{ProjectID: q.projectID, Length: len(q.items), QueueIDs: ids, MaxWait: q.maxWait}
}

func (q *Queue) publish(t eventbus.Type, queueID string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: t, ProjectID: q.projectID, Data: map[string]string{"queueId": queueID}})
}
