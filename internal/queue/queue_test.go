package queue

import (
	"testing"
	"time"
)

func TestQueuePushOrderPreserved(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pull()
		if !ok || got != want {
			t.Fatalf("want %d, got %d (ok=%v)", want, got, ok)
		}
	}
}

func TestQueuePullBlocksUntilPush(t *testing.T) {
	q := New[string]()

	done := make(chan string)
	go func() {
		v, ok := q.Pull()
		if !ok {
			done <- "closed"
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("want hello, got %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pull")
	}
}

func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	q := New[int]()

	done := make(chan bool)
	go func() {
		_, ok := q.Pull()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close to wake consumer")
	}
}

func TestQueueGeneratorYieldsInOrderThenCloses(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	gen := q.Generator()

	if v := <-gen; v != 1 {
		t.Fatalf("want 1, got %d", v)
	}
	if v := <-gen; v != 2 {
		t.Fatalf("want 2, got %d", v)
	}

	q.Close()
	if _, ok := <-gen; ok {
		t.Fatal("expected channel closed after queue Close")
	}
}
