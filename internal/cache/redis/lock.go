package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arenalabs/agentarena/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL
// and a Lua-based conditional unlock.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(name string) string {
	return "lock:" + name
}

// lock is a held lock. Release is safe to call more than once.
type lock struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

var _ domain.Lock = (*lock)(nil)

// Release frees the lock if this holder still owns it.
func (l *lock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: release lock %s: %w", l.key, err)
	}
	return nil
}

// Acquire attempts to obtain the named lock for at most ttl. Returns
// domain.ErrLockHeld when another holder owns it.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (domain.Lock, error) {
	token := uuid.New().String()
	key := lockKey(name)

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return &lock{lm: lm, key: key, token: token}, nil
}
