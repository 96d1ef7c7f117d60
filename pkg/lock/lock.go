// Package lock serializes generation per story. Acquisition never waits: a
// story that is already locked fails fast with ErrLocked.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storyloom/storyloom/pkg/logger"
)

// ErrLocked is returned when another holder owns the story.
var ErrLocked = errors.New("lock: story is locked")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker grants exclusive per-story access.
type Locker interface {
	TryLock(ctx context.Context, storyID string) (Unlock, error)
}

// LocalLocker locks stories within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, storyID string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[storyID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, storyID)
	}
	l.held[storyID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, storyID)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether storyID is currently locked.
func (l *LocalLocker) Held(storyID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[storyID]
	return ok
}

// DefaultTTL bounds a Redis lock whose holder died.
const DefaultTTL = 2 * time.Minute

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// renewScript extends the lease only while it still carries our token.
const renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// RedisLocker locks stories across processes with SET NX PX. A held lock is
// renewed every third of its TTL until it is released, so a generation that
// outlives the TTL keeps its story.
type RedisLocker struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	renew     time.Duration
	logger    logger.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLogger sets the logger for renewal and release failures.
func WithLogger(l logger.Logger) RedisOption {
	return func(r *RedisLocker) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRenewInterval overrides the lease renewal period.
func WithRenewInterval(d time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if d > 0 {
			r.renew = d
		}
	}
}

// NewRedisLocker creates a RedisLocker. A non-positive ttl selects
// DefaultTTL.
func NewRedisLocker(client redis.Cmdable, keyPrefix string, ttl time.Duration, opts ...RedisOption) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if keyPrefix == "" {
		keyPrefix = "storyloom"
	}
	r := &RedisLocker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		renew:     ttl / 3,
		logger:    logger.Global(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisLocker) key(storyID string) string {
	return r.keyPrefix + ":lock:story:" + storyID
}

func (r *RedisLocker) TryLock(ctx context.Context, storyID string) (Unlock, error) {
	key := r.key(storyID)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", storyID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, storyID)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(storyID, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be done; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				r.logger.Warn("story lock release failed", "story_id", storyID, "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lease until stop is closed or the lease is lost.
func (r *RedisLocker) keepAlive(storyID, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.renew)
		n, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			// Transient; the next tick retries while the lease lasts.
			r.logger.Warn("story lock renewal failed", "story_id", storyID, "key", key, "error", err)
		case n == 0:
			r.logger.Error("story lock lost before release", "story_id", storyID, "key", key)
			return
		}
	}
}
