package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chronicle/pkg/platform/sentinel"
)

// releaseScript deletes the lock key only when the stored token still
// matches, so an expired lease reacquired by another holder is never
// released by the original owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Manager backed by Redis SET NX leases. Use it when more than
// one sweeper instance runs against the same stores.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed lock manager.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "chronicle:sweep-lock:"}
}

// TryAcquire implements Manager. The ttl bounds how long a crashed holder
// can block the next sweep.
func (m *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error) {
	key := m.prefix + name
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !ok {
		return nil, sentinel.ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %q: %w", name, err)
		}
		return nil
	}
	return release, nil
}
