// Package lock keeps a single active scheduler across processes using a
// Redis lease. A Lock without a client always succeeds.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotHeld = errors.New("lock not held")

const DefaultKey = "courtsched:scheduler"

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Client is the subset of *redis.Client the lease needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type Lock struct {
	rdb   Client
	key   string
	token string
	ttl   time.Duration
	log   *zap.Logger

	// RetryEvery is the pause between acquisition attempts in Hold.
	RetryEvery time.Duration
}

// New returns a lease on key. rdb may be nil, which disables locking.
func New(rdb Client, key string, ttl time.Duration, log *zap.Logger) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Lock{rdb: rdb, key: key, token: uuid.NewString(), ttl: ttl, log: log, RetryEvery: ttl / 2}
}

func (l *Lock) Enabled() bool { return l.rdb != nil }

func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	if l.rdb == nil {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *Lock) Renew(ctx context.Context) error {
	if l.rdb == nil {
		return nil
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	if l.rdb == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// Hold waits until the lease is acquired, then runs fn with a context that is
// cancelled if the lease is lost, in which case Hold returns ErrNotHeld. The
// lease is renewed every ttl/3 and released when fn returns.
func (l *Lock) Hold(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			l.log.Warn("lock acquire failed", zap.String("key", l.key), zap.Error(err))
		}
		if ok {
			break
		}
		if err == nil {
			l.log.Info("another instance holds the lock, waiting", zap.String("key", l.key))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery()):
		}
	}
	if l.Enabled() {
		l.log.Info("lock acquired", zap.String("key", l.key))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost atomic.Bool
	if l.Enabled() {
		go l.keepAlive(runCtx, func() {
			lost.Store(true)
			cancel()
		})
	}
	defer func() {
		releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := l.Release(releaseCtx); err != nil {
			l.log.Warn("lock release failed", zap.String("key", l.key), zap.Error(err))
		}
	}()

	err := fn(runCtx)
	if lost.Load() && ctx.Err() == nil {
		return ErrNotHeld
	}
	return err
}

func (l *Lock) keepAlive(ctx context.Context, lost func()) {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := l.Renew(ctx)
			if errors.Is(err, ErrNotHeld) {
				l.log.Error("lock lost", zap.String("key", l.key))
				lost()
				return
			}
			if err != nil {
				l.log.Warn("lock renew failed", zap.String("key", l.key), zap.Error(err))
			}
		}
	}
}

func (l *Lock) retryEvery() time.Duration {
	if l.RetryEvery <= 0 {
		return time.Second
	}
	return l.RetryEvery
}

// NewRedisClient connects to addr and pings it. An empty addr yields a nil
// client, which turns the lock into a no-op.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
