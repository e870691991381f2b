package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "balregistry/pkg/domain"
)

func TestKeyedSerializesSameID(t *testing.T) {
	k := NewKeyed()
	blID := id.NewBaseLocaleID()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, blID)
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one holder per base locale at a time")
}

func TestKeyedDifferentIDsDoNotBlock(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	releaseA, err := k.Acquire(ctx, id.NewBaseLocaleID())
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := k.Acquire(ctx, id.NewBaseLocaleID())
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different base locale blocked")
	}
}

func TestKeyedReleaseIsIdempotent(t *testing.T) {
	k := NewKeyed()
	blID := id.NewBaseLocaleID()

	release, err := k.Acquire(context.Background(), blID)
	require.NoError(t, err)
	release()
	release() // second call must not unlock someone else's hold

	release2, err := k.Acquire(context.Background(), blID)
	require.NoError(t, err)
	release2()
}

func TestKeyedCancelledContext(t *testing.T) {
	k := NewKeyed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := k.Acquire(ctx, id.NewBaseLocaleID())
	assert.Error(t, err)
}

func TestKeyedWaiterAbortsOnCancel(t *testing.T) {
	k := NewKeyed()
	blID := id.NewBaseLocaleID()

	release, err := k.Acquire(context.Background(), blID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := k.Acquire(ctx, blID)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire kept blocking after cancellation")
	}

	release()

	// The aborted waiter must not poison the slot for later holders.
	release2, err := k.Acquire(context.Background(), blID)
	require.NoError(t, err)
	release2()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestKeyedMapDoesNotLeak(t *testing.T) {
	k := NewKeyed()
	for i := 0; i < 100; i++ {
		release, err := k.Acquire(context.Background(), id.NewBaseLocaleID())
		require.NoError(t, err)
		release()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
