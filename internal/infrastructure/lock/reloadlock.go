// Package lock provides the Redis-backed mutual exclusion an HA pair of
// detection engines uses so that only one node's control loop drives a rule
// reload at a time. Acquisition is a single SET NX with a TTL; release is a
// Lua compare-and-delete so a node can only ever delete a lock it still
// holds.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if its value still matches ours. Without
// the check, a node whose lock expired mid-reload could delete the lock a
// peer has since acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Config tunes lock behavior. The TTL is a liveness bound: if the holding
// node dies mid-reload, peers can proceed once it lapses.
type Config struct {
	TTL           time.Duration
	RetryInterval time.Duration
}

// DefaultConfig matches a worst-case reload duration with headroom.
func DefaultConfig() *Config {
	return &Config{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
	}
}

// ReloadLock is one named lock slot in Redis. A single instance is reused
// across reload attempts; the holder value is regenerated per acquisition so
// stale releases never match.
type ReloadLock struct {
	client *redis.Client
	key    string
	cfg    *Config
	logger *slog.Logger

	holder string
}

// NewReloadLock builds a lock on key. A nil cfg uses DefaultConfig.
func NewReloadLock(client *redis.Client, key string, cfg *Config, logger *slog.Logger) *ReloadLock {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadLock{
		client: client,
		key:    key,
		cfg:    cfg,
		logger: logger,
	}
}

// TryAcquire attempts a single SET NX. Returns false without error when a
// peer holds the lock.
func (l *ReloadLock) TryAcquire(ctx context.Context) (bool, error) {
	holder, err := newHolderValue()
	if err != nil {
		return false, err
	}

	ok, err := l.client.SetNX(ctx, l.key, holder, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("lock: acquiring %q: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	l.holder = holder
	l.logger.Debug("reload lock acquired", "key", l.key, "ttl", l.cfg.TTL)
	return true, nil
}

// AcquireWithRetry calls TryAcquire up to attempts times, sleeping the
// configured retry interval between contended attempts. Redis errors abort
// immediately; only contention is retried.
func (l *ReloadLock) AcquireWithRetry(ctx context.Context, attempts int) (bool, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
	l.logger.Debug("reload lock contended, giving up", "key", l.key, "attempts", attempts)
	return false, nil
}

// Release deletes the lock iff we still hold it. Releasing a lock that
// expired (and may have been re-acquired by a peer) is a no-op, not an
// error: the TTL already did the release for us.
func (l *ReloadLock) Release(ctx context.Context) error {
	if l.holder == "" {
		return nil
	}
	holder := l.holder
	l.holder = ""

	n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, holder).Int()
	if err != nil {
		return fmt.Errorf("lock: releasing %q: %w", l.key, err)
	}
	if n == 0 {
		l.logger.Warn("reload lock already expired or taken over at release", "key", l.key)
	}
	return nil
}

func newHolderValue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lock: generating holder value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
