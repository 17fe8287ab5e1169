package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !q.Push(ctx, Event{Name: "status", Payload: i}) {
			t.Fatal("push failed")
		}
	}
	q.Close()

	for i := 0; i < 3; i++ {
		e, err := q.Pull(ctx)
		if err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
		if e.Payload != i {
			t.Errorf("pull %d = %v", i, e.Payload)
		}
	}
	if _, err := q.Pull(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("after drain: %v, want ErrClosed", err)
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	q.Push(ctx, Event{Name: "a"})

	unblocked := make(chan bool)
	go func() {
		unblocked <- q.Push(ctx, Event{Name: "b"})
	}()

	select {
	case <-unblocked:
		t.Fatal("push on a full queue must block")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := q.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if ok := <-unblocked; !ok {
		t.Error("push should succeed once space frees")
	}
	q.Close()
}

func TestQueueFail(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	q.Push(ctx, Event{Name: "buffered"})

	boom := errors.New("boom")
	q.Fail(boom)

	if _, err := q.Pull(ctx); !errors.Is(err, boom) {
		t.Errorf("Pull after Fail = %v, want boom", err)
	}
	if q.Push(ctx, Event{Name: "late"}) {
		t.Error("push after Fail must report failure")
	}
}

func TestQueueCloseDuringBlockedPush(t *testing.T) {
	// A producer blocked in Push while the consumer closes the queue must
	// observe the close and return false, never panic.
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		q := NewQueue(1)
		q.Push(ctx, Event{Name: "fill"})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q.Push(ctx, Event{Name: "spin"}) {
			}
		}()
		q.Close()
		wg.Wait()

		if q.Push(ctx, Event{Name: "late"}) {
			t.Fatal("push after close must fail")
		}
	}
}

func TestQueueConsumerCancellation(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pull(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Pull = %v, want context.Canceled", err)
	}
	// Consumer cancellation closes the queue for the producer too.
	if q.Push(context.Background(), Event{Name: "x"}) {
		t.Error("push after consumer cancellation must fail")
	}
}
