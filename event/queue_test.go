package event

import (
	"testing"
	"time"
)

func recvOne(t *testing.T, q *Queue) *Event {
	t.Helper()
	select {
	case e, ok := <-q.Out():
		if !ok {
			t.Fatal("out channel closed unexpectedly")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	const n = 100
	for i := 0; i < n; i++ {
		q.Put(&Event{Timestamp: int64(i)})
	}
	for i := 0; i < n; i++ {
		e := recvOne(t, q)
		if e.Timestamp != int64(i) {
			t.Fatalf("event %d arrived with timestamp %d", i, e.Timestamp)
		}
	}
}

func TestQueuePutNeverBlocksWithoutConsumer(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.Put(&Event{Timestamp: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Put blocked with no consumer attached")
	}
}

func TestQueueCloseDrainsThenEnds(t *testing.T) {
	q := NewQueue()
	q.Put(&Event{Timestamp: 1})
	q.Put(&Event{Timestamp: 2})
	q.Put(&Event{Timestamp: 3})
	q.Close()

	for want := int64(1); want <= 3; want++ {
		e := recvOne(t, q)
		if e.Timestamp != want {
			t.Fatalf("got timestamp %d, want %d", e.Timestamp, want)
		}
	}
	select {
	case _, ok := <-q.Out():
		if ok {
			t.Fatal("received event after drain, expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("out channel did not close after drain")
	}
}

func TestQueueDropsAfterClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close() // idempotent
	q.Put(&Event{Timestamp: 9})

	select {
	case e, ok := <-q.Out():
		if ok {
			t.Fatalf("got event %v after close", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("out channel did not close")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after close, want 0", q.Len())
	}
}
