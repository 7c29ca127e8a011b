package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex hands out one mutual-exclusion slot per document ID so
// pipeline runs for the same document serialize while unrelated
// documents proceed in parallel. Entries are reclaimed once no holder
// or waiter remains.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*kmEntry
}

type kmEntry struct {
	slot chan struct{} // capacity 1: holding the token means holding the lock
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[uuid.UUID]*kmEntry)}
}

func (k *keyedMutex) entry(key uuid.UUID) *kmEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &kmEntry{slot: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) put(key uuid.UUID, e *kmEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *keyedMutex) entryCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Acquire blocks until the key's slot is free or ctx is done. The
// returned release func must be called exactly once.
func (k *keyedMutex) Acquire(ctx context.Context, key uuid.UUID) (func(), error) {
	e := k.entry(key)
	select {
	case e.slot <- struct{}{}:
		return func() {
			<-e.slot
			k.put(key, e)
		}, nil
	case <-ctx.Done():
		k.put(key, e)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the slot only if it is immediately free.
func (k *keyedMutex) TryAcquire(key uuid.UUID) (func(), bool) {
	e := k.entry(key)
	select {
	case e.slot <- struct{}{}:
		return func() {
			<-e.slot
			k.put(key, e)
		}, true
	default:
		k.put(key, e)
		return nil, false
	}
}
