package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	a, b := uuid.New(), uuid.New()

	relA, err := km.Acquire(context.Background(), a)
	require.NoError(t, err)

	// a different key is not blocked
	relB, err := km.Acquire(context.Background(), b)
	require.NoError(t, err)

	relA()
	relB()
}

func TestKeyedMutexTryAcquire(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	rel, ok := km.TryAcquire(key)
	require.True(t, ok)

	_, ok = km.TryAcquire(key)
	assert.False(t, ok, "second acquire on a held key must fail")

	rel()

	rel2, ok := km.TryAcquire(key)
	assert.True(t, ok, "key must be acquirable again after release")
	rel2()
}

func TestKeyedMutexAcquireRespectsContext(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	rel, err := km.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = km.Acquire(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutexSerializesWaiters(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := km.Acquire(context.Background(), key)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			rel()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "only one holder at a time")
	assert.Equal(t, 0, km.entryCount(), "entries must be reclaimed after release")
}
