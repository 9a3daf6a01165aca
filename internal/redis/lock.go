package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker is used by the appointment service to guard critical sections per slot.
// WithSlotLock waits up to its configured budget for a busy lock before giving up.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(slotID uuid.UUID) string {
	return fmt.Sprintf("lock:slot:%s", slotID.String())
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(slotID)
	token := uuid.NewString()

	backoff := retry.NewExponential(10 * time.Millisecond)
	backoff = retry.WithCappedDuration(200*time.Millisecond, backoff)
	backoff = retry.WithMaxDuration(l.wait, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if !ok {
			return retry.RetryableError(ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// localSlotLocker serialises per slot inside one process. Used when Redis is
// not configured and in tests.
type localSlotLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slotSem
}

// slotSem is a one-slot semaphore shared by everyone holding or waiting for
// a slot. It is dropped from the map once refs reaches zero.
type slotSem struct {
	ch   chan struct{}
	refs int
}

func NewLocalSlotLocker() Locker {
	return &localSlotLocker{slots: make(map[uuid.UUID]*slotSem)}
}

func (l *localSlotLocker) acquire(slotID uuid.UUID) *slotSem {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[slotID]
	if !ok {
		s = &slotSem{ch: make(chan struct{}, 1)}
		l.slots[slotID] = s
	}
	s.refs++
	return s
}

func (l *localSlotLocker) release(slotID uuid.UUID, s *slotSem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, slotID)
	}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	s := l.acquire(slotID)
	defer l.release(slotID, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}
