// Package lock provides a Redis lease that keeps two harvesters from writing
// the same store at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotHeld is returned when releasing a lease this instance does not own
	ErrNotHeld = errors.New("lock not held")
)

// renew and release only touch the key while it still carries our token
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

// Locker is an exclusive, expiring lease
type Locker interface {
	// Acquire blocks until the lease is held or ctx is done
	Acquire(ctx context.Context) error
	// TryAcquire makes a single attempt
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives up the lease
	Release(ctx context.Context) error
	// Held reports whether the lease is currently owned
	Held() bool
	// Token identifies this holder
	Token() string
	// Lost is closed when a renewal finds the lease owned by someone else.
	// It is nil before the first acquisition.
	Lost() <-chan struct{}
}

type lease struct {
	log    logrus.FieldLogger
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration

	mu   sync.RWMutex
	held bool
	lost chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a lease on cfg.Key. token identifies the holder; an empty token
// generates one.
func New(log logrus.FieldLogger, client redis.Cmdable, cfg *Config, token string) Locker {
	if token == "" {
		token = uuid.New().String()
	}

	return &lease{
		log:    log.WithField("component", "lock"),
		client: client,
		key:    cfg.Key,
		token:  token,
		ttl:    cfg.TTL,
	}
}

func (l *lease) renewInterval() time.Duration {
	return l.ttl / 3
}

func (l *lease) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(l.renewInterval())
	defer ticker.Stop()

	waiting := false

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			l.log.WithError(err).Warn("Failed to acquire lock")
		}

		if ok {
			return nil
		}

		if !waiting {
			l.log.WithField("key", l.key).Info("Waiting for run lock")
			waiting = true
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *lease) TryAcquire(ctx context.Context) (bool, error) {
	if l.Held() {
		return true, nil
	}

	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}

	if !ok {
		owner, err := l.client.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, err
		}

		l.log.WithFields(logrus.Fields{
			"key":   l.key,
			"owner": owner,
		}).Debug("Lock held by another instance")

		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.done = make(chan struct{})
	l.lost = make(chan struct{})
	done, lost := l.done, l.lost
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"key":   l.key,
		"token": l.token,
		"ttl":   l.ttl,
	}).Info("Acquired run lock")

	l.wg.Add(1)
	go l.keepAlive(done, lost)

	return true, nil
}

func (l *lease) keepAlive(done, lost chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.renewInterval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(context.Background(), l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			if err != nil {
				l.log.WithError(err).Warn("Failed to renew run lock")
				continue
			}

			if renewed == 0 {
				l.log.WithField("key", l.key).Error("Run lock lost")
				l.setHeld(false)
				close(lost)

				return
			}

			l.log.WithField("ttl", l.ttl).Debug("Renewed run lock")
		}
	}
}

func (l *lease) Release(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	held := l.held
	l.done = nil
	l.held = false
	l.mu.Unlock()

	if done != nil {
		close(done)
	}

	l.wg.Wait()

	if !held {
		return ErrNotHeld
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if deleted == 0 {
		return ErrNotHeld
	}

	l.log.WithField("key", l.key).Info("Released run lock")

	return nil
}

func (l *lease) setHeld(held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = held
}

func (l *lease) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.held
}

func (l *lease) Token() string {
	return l.token
}

func (l *lease) Lost() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lost
}

var _ Locker = (*lease)(nil)
