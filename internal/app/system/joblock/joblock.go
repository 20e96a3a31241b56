// internal/app/system/joblock/joblock.go

// Package joblock keeps background jobs single-active. With Redis
// configured the lock spans every instance of the service; without it a
// process-local lock still stops the ticker and a manual run-now trigger
// from overlapping inside one instance.
package joblock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job lock names.
const (
	JobReconcile   = "reconcile"
	JobOutboxDrain = "outbox_drain"
)

// Locker acquires and releases named job locks. Acquire returns ok=false
// when another holder is active; token must be passed back to Release so a
// stale holder cannot free a lock it lost.
type Locker interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, job, token string) error
}

// New returns a Redis-backed locker, or a process-local one when client is
// nil.
func New(client *redis.Client) Locker {
	if client == nil {
		return NewMemory()
	}
	return &redisLocker{client: client}
}

type redisLocker struct {
	client *redis.Client
}

// releaseScript deletes the lock only when the token still matches, so a
// holder whose TTL expired cannot free the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(job), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *redisLocker) Release(ctx context.Context, job, token string) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey(job)}, token).Err()
}

func lockKey(job string) string {
	return "memberhub:joblock:" + job
}

// memoryLocker is the single-instance fallback.
type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

// NewMemory returns a process-local Locker.
func NewMemory() Locker {
	return &memoryLocker{locks: make(map[string]memoryLock)}
}

func (l *memoryLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.locks[job]; ok && now.Before(held.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[job] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *memoryLocker) Release(ctx context.Context, job, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[job]; ok && held.token == token {
		delete(l.locks, job)
	}
	return nil
}
