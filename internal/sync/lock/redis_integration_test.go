//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balregistry/internal/sync/lock"
	id "balregistry/pkg/domain"
	"balregistry/pkg/testutil/containers"
)

// Two lockers stand in for two service instances sharing one Redis.
func TestRedisLockerAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := containers.GetManager().GetRedis(t).Client
	instanceA := lock.NewRedisLocker(client)
	instanceB := lock.NewRedisLocker(client)
	blID := id.NewBaseLocaleID()

	releaseA, err := instanceA.Acquire(context.Background(), blID)
	require.NoError(t, err)

	// Instance B must not get the lock while A holds it.
	shortCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = instanceB.Acquire(shortCtx, blID)
	require.Error(t, err)

	releaseA()

	releaseB, err := instanceB.Acquire(context.Background(), blID)
	require.NoError(t, err)
	releaseB()
}

func TestRedisLockerIndependentIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := containers.GetManager().GetRedis(t).Client
	locker := lock.NewRedisLocker(client)

	releaseA, err := locker.Acquire(context.Background(), id.NewBaseLocaleID())
	require.NoError(t, err)
	defer releaseA()

	// A different base locale is unaffected.
	done := make(chan struct{})
	go func() {
		releaseB, err := locker.Acquire(context.Background(), id.NewBaseLocaleID())
		assert.NoError(t, err)
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring an uncontended lock blocked")
	}
}
