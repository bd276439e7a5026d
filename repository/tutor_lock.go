package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrTutorBusy is returned when another request holds the tutor lock for too long.
var ErrTutorBusy = errors.New("tutor is being rescheduled by another request")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTutorLocker serialises conflict-check-then-write per tutor with SET NX + TTL.
// A nil client turns it into a no-op.
type RedisTutorLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedisTutorLocker(client *redis.Client, ttl, wait time.Duration) *RedisTutorLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisTutorLocker{client: client, ttl: ttl, wait: wait, retry: 50 * time.Millisecond}
}

func tutorLockKey(tutorID uint) string {
	return fmt.Sprintf("lock:tutor:%d", tutorID)
}

// LockTutor blocks until the lock is acquired, the wait budget runs out or ctx ends.
func (l *RedisTutorLocker) LockTutor(ctx context.Context, tutorID uint) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	key := tutorLockKey(tutorID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire tutor lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrTutorBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logrus.WithFields(logrus.Fields{"tutor_id": tutorID, "error": err}).Warn("failed to release tutor lock")
		}
	}, nil
}
