package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTutorLockWithoutRedisIsNoop(t *testing.T) {
	var nilLocker *RedisTutorLocker
	release, err := nilLocker.LockTutor(context.Background(), 7)
	require.NoError(t, err)
	release()

	l := NewRedisTutorLocker(nil, 0, 0)
	assert.Equal(t, 10*time.Second, l.ttl)
	assert.Equal(t, 5*time.Second, l.wait)
	release, err = l.LockTutor(context.Background(), 7)
	require.NoError(t, err)
	release()
}

func TestTutorLockKey(t *testing.T) {
	assert.Equal(t, "lock:tutor:42", tutorLockKey(42))
}
