package locks

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	release, err := k.Lock(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		r2, err := k.Lock(ctx, "sess-1")
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on same key must block")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestKeyedIndependentKeys(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	r1, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	r2, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatal("different keys must not contend:", err)
	}
	r2()
}

func TestKeyedTryLock(t *testing.T) {
	k := NewKeyed()
	release, ok := k.TryLock("sess")
	if !ok {
		t.Fatal("first TryLock must succeed")
	}
	if _, ok := k.TryLock("sess"); ok {
		t.Error("second TryLock on held key must fail")
	}
	release()
	r2, ok := k.TryLock("sess")
	if !ok {
		t.Error("TryLock after release must succeed")
	}
	r2()
}

func TestKeyedLockContextCancel(t *testing.T) {
	k := NewKeyed()
	release, _ := k.Lock(context.Background(), "sess")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "sess"); err == nil {
		t.Error("expected context error on blocked lock")
	}
}

func TestKeyedCleansUpEntries(t *testing.T) {
	k := NewKeyed()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := k.Lock(context.Background(), "shared")
			if err != nil {
				t.Error(err)
				return
			}
			r()
		}()
	}
	wg.Wait()

	k.mu.Lock()
	n := len(k.entries)
	k.mu.Unlock()
	if n != 0 {
		t.Errorf("entries leaked: %d", n)
	}
}
