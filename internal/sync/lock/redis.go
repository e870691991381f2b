package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "balregistry/pkg/domain"
	"balregistry/pkg/platform/sentinel"
)

const (
	// leaseTTL bounds how long a crashed worker can hold a lock. A reconcile
	// is a handful of HTTP calls; anything past this is a dead holder.
	leaseTTL = 5 * time.Minute

	retryInterval = 250 * time.Millisecond
)

// RedisLocker serializes reconciliation across service instances with a
// SETNX lease per base locale. It composes with Keyed so in-process callers
// never even reach Redis for a contended ID.
type RedisLocker struct {
	client *redis.Client
	local  *Keyed
	prefix string
}

// NewRedisLocker creates a distributed locker on top of the given client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		local:  NewKeyed(),
		prefix: "balregistry:sync-lock:",
	}
}

// Acquire implements Locker. It spins on the lease with a short interval
// rather than subscribing; contention on one base locale is rare and short.
func (l *RedisLocker) Acquire(ctx context.Context, blID id.BaseLocaleID) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, blID)
	if err != nil {
		return nil, err
	}

	key := l.prefix + blID.String()
	holder := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, holder, leaseTTL).Result()
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("acquire sync lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, fmt.Errorf("acquire sync lock %s: %w", blID, sentinel.ErrLocked)
		case <-time.After(retryInterval):
		}
	}

	release := func() {
		// Release only our own lease: the TTL may have expired and another
		// holder taken over while we were stuck.
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, holder).Err()
		releaseLocal()
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
