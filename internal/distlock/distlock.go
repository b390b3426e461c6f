// Package distlock provides the Redis-backed advisory lock spec.md §5 calls
// for when cross-worker conversation routing cannot be guaranteed: the
// per-conversation serialization lock of internal/debounce is promoted from
// an in-process sync.Mutex to a SET NX PX lock held across workers. Grounded
// in the teacher's internal/workspaces/redis_cache.go (AcquireCommitLock,
// PublishInvalidation/SubscribeInvalidations).
package distlock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the distributed mutual-exclusion primitive a worker acquires
// before running a conversation's pipeline, mirroring AcquireCommitLock's
// SET NX PX semantics.
type Lock interface {
	Acquire(ctx context.Context, conversationID, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, conversationID, holderID string) error
}

// Publisher emits observer events to the channel the dashboard subscribes
// to, mirroring PublishInvalidation.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// RedisLock is a Redis-backed Lock and Publisher.
type RedisLock struct {
	client  redis.UniversalClient
	channel string
}

// New builds a RedisLock against addr/password/db. channel is the pub/sub
// channel observer events are published to.
func New(addr, password string, db int, channel string) *RedisLock {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisLock{client: client, channel: channel}
}

func (l *RedisLock) key(conversationID string) string {
	return "convo:" + conversationID + ":lock"
}

// Acquire attempts to take the per-conversation lock, holderID distinguishing
// this worker/attempt so Release only clears a lock it actually owns.
func (l *RedisLock) Acquire(ctx context.Context, conversationID, holderID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key(conversationID), holderID, ttl).Result()
}

// Release clears the lock, but only if holderID still owns it — a Lua-free
// compare-and-delete using GET then DEL, accepting the small race window the
// teacher's own AcquireCommitLock accepts (TTL-bounded, not correctness-critical
// beyond "don't release someone else's lock").
func (l *RedisLock) Release(ctx context.Context, conversationID, holderID string) error {
	cur, err := l.client.Get(ctx, l.key(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	if cur != holderID {
		return nil
	}
	return l.client.Del(ctx, l.key(conversationID)).Err()
}

// Publish sends event as JSON on the configured pub/sub channel.
func (l *RedisLock) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return l.client.Publish(ctx, l.channel, data).Err()
}

// Ping checks connectivity, the check the teacher's NewRedisGenerationCache
// makes before returning; New does not call it.
func (l *RedisLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (l *RedisLock) Close() error { return l.client.Close() }
