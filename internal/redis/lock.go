package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("doctor schedule lock not acquired")
)

const retryInterval = 25 * time.Millisecond

// Locker serialises bookings for one doctor across api-server instances.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error
}

type redisScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    *zap.Logger
}

// NewRedisScheduleLocker creates a locker that uses a per doctor Redis key.
// A busy key is retried until wait elapses. A nil log discards release
// failures.
func NewRedisScheduleLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisScheduleLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		log:    log,
	}
}

func lockKey(doctorID int64) string {
	return fmt.Sprintf("lock:doctor-schedule:%d", doctorID)
}

func (l *redisScheduleLocker) WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	key := lockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	// the caller ctx may already be cancelled; release regardless
	defer l.releaseOrWarn(context.WithoutCancel(ctx), key, token)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisScheduleLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire schedule lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// releaseOrWarn logs a failed release. The key still expires after ttl.
func (l *redisScheduleLocker) releaseOrWarn(ctx context.Context, key, token string) {
	if err := l.release(ctx, key, token); err != nil {
		l.log.Warn("failed to release schedule lock", zap.String("key", key), zap.Error(err))
	}
}

func (l *redisScheduleLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}
