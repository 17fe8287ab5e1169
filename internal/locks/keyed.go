// Package locks provides the per-session mutex front-ends use to serialize
// turns while letting distinct sessions run in parallel.
package locks

import (
	"context"
	"sync"
)

// Keyed hands out one mutex per key. Entries are reference-counted and
// removed once the last holder releases, so idle sessions cost nothing.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until available or ctx ends.
// The returned release function must be called exactly once.
func (k *Keyed) Lock(ctx context.Context, key string) (release func(), err error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.unref(key, e)
		})
	}, nil
}

// TryLock acquires without blocking. ok=false when held elsewhere.
func (k *Keyed) TryLock(key string) (release func(), ok bool) {
	k.mu.Lock()
	e, found := k.entries[key]
	if !found {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	default:
		k.unref(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.unref(key, e)
		})
	}, true
}

func (k *Keyed) unref(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 && k.entries[key] == e {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
