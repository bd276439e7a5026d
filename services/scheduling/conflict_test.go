package scheduling

import (
	"context"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictWindowAroundExistingSession(t *testing.T) {
	store := newMemStore()
	existingAt := time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC)
	existing := store.addSession(models.Session{
		BatchID: 1, SessionNumber: 1, ScheduledAt: existingAt,
		TutorID: uintPtr(7), Status: models.SessionScheduled,
	})
	checker := NewConflictChecker(store, DefaultConflictWindow())

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{-91 * time.Minute, false},
		{-90 * time.Minute, true},
		{-45 * time.Minute, true},
		{0, true},
		{30 * time.Minute, true},
		{31 * time.Minute, false},
		{3 * time.Hour, false},
	}
	for _, tc := range tests {
		got, err := checker.HasConflict(context.Background(), 7, existingAt.Add(tc.offset), 0)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "offset %s", tc.offset)
	}

	got, err := checker.HasConflict(context.Background(), 7, existingAt, existing.ID)
	require.NoError(t, err)
	assert.False(t, got, "a session never conflicts with itself")

	got, err = checker.HasConflict(context.Background(), 8, existingAt, 0)
	require.NoError(t, err)
	assert.False(t, got, "other tutors are not affected")

	got, err = checker.HasConflict(context.Background(), 0, existingAt, 0)
	require.NoError(t, err)
	assert.False(t, got, "unassigned sessions never conflict")
}

func TestConflictIgnoresInactiveStatuses(t *testing.T) {
	at := time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		status models.SessionStatus
		want   bool
	}{
		{models.SessionScheduled, true},
		{models.SessionCompleted, true},
		{models.SessionCancelled, false},
		{models.SessionRescheduled, false},
	} {
		store := newMemStore()
		store.addSession(models.Session{BatchID: 1, SessionNumber: 1, ScheduledAt: at, TutorID: uintPtr(3), Status: tc.status})
		got, err := NewConflictChecker(store, DefaultConflictWindow()).HasConflict(context.Background(), 3, at.Add(15*time.Minute), 0)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "status %s", tc.status)
	}
}

func TestConflictEnsureReturnsTypedError(t *testing.T) {
	store := newMemStore()
	at := time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC)
	existing := store.addSession(models.Session{BatchID: 1, SessionNumber: 1, ScheduledAt: at, TutorID: uintPtr(3), Status: models.SessionScheduled})

	checker := NewConflictChecker(store, ConflictWindow{Before: 10 * time.Minute, After: 10 * time.Minute})
	err := checker.Ensure(context.Background(), 3, at.Add(5*time.Minute))
	require.ErrorIs(t, err, ErrSchedulingConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uint{existing.ID}, conflict.ConflictingIDs())

	assert.NoError(t, checker.Ensure(context.Background(), 3, at.Add(11*time.Minute)))
}
