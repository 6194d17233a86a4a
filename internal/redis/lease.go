package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lease held by another instance")
	ErrLeaseLost       = errors.New("lease lost before work finished")
)

// Locker runs fn while this instance holds the named lease.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Lease is a Redis key holding the owner's holder id. The owner keeps
// extending it while fn runs, so a slow sweep never overlaps with a sweep
// on another replica. If an extension finds the key gone or owned by someone
// else, fn's context is cancelled.
type Lease struct {
	client *redis.Client
	holder string
	ttl    time.Duration
}

// NewLease returns a Locker whose keys record holder, e.g. "expiry-worker".
func NewLease(client *redis.Client, holder string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		holder: holder,
		ttl:    ttl,
	}
}

func leaseKey(name string) string { return "lease:" + name }

// Holder reports who owns the lease, or "" when nobody does.
func (l *Lease) Holder(ctx context.Context, name string) (string, error) {
	v, err := l.client.Get(ctx, leaseKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", name, err)
	}
	return v, nil
}

func (l *Lease) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := leaseKey(name)
	token := l.holder + "/" + uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	workCtx, cancel := context.WithCancelCause(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.keepAlive(workCtx, key, token, cancel)
	}()

	err = fn(workCtx)

	cancel(nil)
	<-renewed
	_ = l.release(context.WithoutCancel(ctx), key, token)

	if errors.Is(context.Cause(workCtx), ErrLeaseLost) {
		return ErrLeaseLost
	}
	return err
}

// keepAlive extends the lease every third of its ttl until ctx ends.
func (l *Lease) keepAlive(ctx context.Context, key, token string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// A failed round trip is retried next tick; the ttl still covers us.
				continue
			}
			if n == 0 {
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *Lease) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
