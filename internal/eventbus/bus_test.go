package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBusSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := New()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionActive, SessionID: "sess-1"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
		if received.Type != SessionActive {
			t.Errorf("expected SessionActive, got %v", received.Type)
		}
		if received.SessionID != "sess-1" {
			t.Errorf("expected sess-1, got %v", received.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusSubscribeOnlySeesEventsAfterJoining(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.PublishSync(Event{Type: ProjectDiscovered, ProjectID: "before"})

	var count int32
	unsub := bus.Subscribe(func(e Event) { atomic.AddInt32(&count, 1) })
	defer unsub()

	bus.PublishSync(Event{Type: ProjectDiscovered, ProjectID: "after"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected exactly 1 event seen after subscribing, got %d", count)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(func(e Event) { atomic.AddInt32(&count, 1) })
	unsub()

	bus.PublishSync(Event{Type: QueueEnqueued})

	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", count)
	}
}

func TestBusCloseStopsFurtherPublish(t *testing.T) {
	bus := New()

	var count int32
	bus.Subscribe(func(e Event) { atomic.AddInt32(&count, 1) })

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bus.PublishSync(Event{Type: SessionIdle})

	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("expected no events after close, got %d", count)
	}
}
