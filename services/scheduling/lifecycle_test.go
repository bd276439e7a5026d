package scheduling

import (
	"context"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkAttendanceCompletesSession(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 4, 5)
	first := plan.Drafts[0].Session

	res, err := sched.MarkAttendance(context.Background(), first.ID, map[string]string{
		"studentA": models.AttendancePresent,
		"studentB": models.AttendanceAbsent,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Rate)
	assert.Equal(t, models.SessionCompleted, res.Session.Status)

	stored := store.session(t, first.ID)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	marks, err := DecodeAttendance(stored.Attendance)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceAbsent, marks["studentB"])

	batch := store.batch(t, plan.Batch.ID)
	assert.Equal(t, models.BatchProgress{CurrentSession: 2, CompletedSessions: 1, TotalSessions: 4}, batch.Progress)

	_, err = sched.MarkAttendance(context.Background(), first.ID, map[string]string{"studentA": models.AttendancePresent})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkAttendanceRates(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 3, 0)

	res, err := sched.MarkAttendance(context.Background(), plan.Drafts[0].Session.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Rate)

	res, err = sched.MarkAttendance(context.Background(), plan.Drafts[1].Session.ID, map[string]string{
		"a": models.AttendancePresent, "b": models.AttendancePresent, "c": models.AttendanceAbsent,
	})
	require.NoError(t, err)
	assert.Equal(t, 67, res.Rate)

	_, err = sched.MarkAttendance(context.Background(), plan.Drafts[2].Session.ID, map[string]string{"a": "late"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, models.SessionScheduled, store.session(t, plan.Drafts[2].Session.ID).Status)
}

func TestCancelAndRescheduleRequireScheduled(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 4, 5)
	completed := plan.Drafts[0].Session
	cancelled := plan.Drafts[1].Session
	ctx := context.Background()

	_, err := sched.MarkAttendance(ctx, completed.ID, map[string]string{"a": models.AttendancePresent})
	require.NoError(t, err)
	out, err := sched.Cancel(ctx, cancelled.ID, "tutor sick")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out.Status)
	assert.Contains(t, out.Notes, "tutor sick")

	newAt := time.Date(2024, time.February, 20, 10, 0, 0, 0, time.UTC)
	for _, id := range []uint{completed.ID, cancelled.ID} {
		before := store.session(t, id)

		_, err := sched.Cancel(ctx, id, "again")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = sched.RescheduleSingle(ctx, id, newAt, "move", nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = sched.RescheduleCascade(ctx, id, newAt, "move")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = sched.RescheduleSupersede(ctx, id, &newAt, "move")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		assert.Equal(t, before, store.session(t, id))
	}
}

func TestRescheduleSingle(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 4, 5)
	ctx := context.Background()
	target := plan.Drafts[1].Session

	other := store.addSession(models.Session{
		BatchID: 99, SessionNumber: 1, TutorID: uintPtr(5), Status: models.SessionScheduled,
		ScheduledAt: time.Date(2024, time.January, 6, 10, 0, 0, 0, time.UTC),
	})

	_, err := sched.RescheduleSingle(ctx, target.ID, other.ScheduledAt.Add(-time.Hour), "clash", nil)
	require.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Equal(t, target, store.session(t, target.ID))

	// another tutor is free at that time
	moved, err := sched.RescheduleSingle(ctx, target.ID, other.ScheduledAt.Add(-time.Hour), "swap tutor", uintPtr(6))
	require.NoError(t, err)
	assert.Equal(t, uint(6), *moved.TutorID)
	assert.Equal(t, models.SessionScheduled, moved.Status)
	assert.Equal(t, target.SessionNumber, moved.SessionNumber)

	// moving a session next to its own old slot is fine
	free := time.Date(2024, time.January, 5, 18, 30, 0, 0, time.UTC)
	moved, err = sched.RescheduleSingle(ctx, target.ID, free, "back", uintPtr(5))
	require.NoError(t, err)
	assert.True(t, free.Equal(store.session(t, target.ID).ScheduledAt))
	assert.Equal(t, models.SessionScheduled, moved.Status)

	_, err = sched.RescheduleSingle(ctx, target.ID, time.Date(2024, time.January, 5, 22, 0, 0, 0, time.UTC), "late", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRescheduleCascadeShiftsLaterScheduledSessions(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 6, 5)
	ctx := context.Background()

	ids := make([]uint, len(plan.Drafts))
	for i, d := range plan.Drafts {
		ids[i] = d.Session.ID
	}
	_, err := sched.Cancel(ctx, ids[4], "holiday")
	require.NoError(t, err)
	before := store.batchSessions(t, plan.Batch.ID)

	delta := 24 * time.Hour
	res, err := sched.RescheduleCascade(ctx, ids[2], before[2].ScheduledAt.Add(delta), "room change")
	require.NoError(t, err)
	assert.Equal(t, delta, res.Delta)
	assert.Len(t, res.Shifted, 2)

	after := store.batchSessions(t, plan.Batch.ID)
	for i := range after {
		b, a := before[i], after[i]
		assert.Equal(t, b.SessionNumber, a.SessionNumber)
		assert.Equal(t, b.Status, a.Status)
		switch {
		case b.SessionNumber < 3 || b.Status != models.SessionScheduled:
			assert.True(t, b.ScheduledAt.Equal(a.ScheduledAt), "session %d moved", b.SessionNumber)
		default:
			assert.Equal(t, delta, a.ScheduledAt.Sub(b.ScheduledAt), "session %d", b.SessionNumber)
		}
	}
}

func TestRescheduleCascadeWarnsButRejectsOnlyMovedConflicts(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 4, 5)
	ctx := context.Background()
	first := plan.Drafts[0].Session

	busy := store.addSession(models.Session{
		BatchID: 99, SessionNumber: 1, TutorID: uintPtr(5), Status: models.SessionScheduled,
		ScheduledAt: time.Date(2024, time.January, 6, 18, 0, 0, 0, time.UTC),
	})

	// session 2 (Fri 5th) shifted by one day lands on the busy slot
	res, err := sched.RescheduleCascade(ctx, first.ID, first.ScheduledAt.Add(24*time.Hour), "shift")
	require.NoError(t, err)
	require.Len(t, res.Shifted, 3)
	require.Len(t, res.Shifted[0].Warnings, 1)
	assert.Equal(t, []uint{busy.ID}, res.Shifted[0].Warnings[0].ConflictingSessionIDs)
	assert.Empty(t, res.Shifted[1].Warnings)

	before := store.batchSessions(t, plan.Batch.ID)
	_, err = sched.RescheduleCascade(ctx, first.ID, busy.ScheduledAt, "clash")
	require.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Equal(t, before, store.batchSessions(t, plan.Batch.ID))
}

func TestRescheduleSupersedeAppendsSession(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 5, 5)
	ctx := context.Background()
	third := plan.Drafts[2].Session

	res, err := sched.RescheduleSupersede(ctx, third.ID, nil, "tutor away")
	require.NoError(t, err)

	assert.Equal(t, models.SessionRescheduled, store.session(t, third.ID).Status)
	assert.Equal(t, 6, res.Replacement.SessionNumber)
	assert.Equal(t, third.Topic, res.Replacement.Topic)
	assert.Equal(t, third.TutorID, res.Replacement.TutorID)
	assert.Equal(t, third.DurationMinutes, res.Replacement.DurationMinutes)
	require.NotNil(t, res.Replacement.SupersedesSessionID)
	assert.Equal(t, third.ID, *res.Replacement.SupersedesSessionID)

	// sessions 1..5 run Tue 2nd .. Tue 16th; the next pattern slot is Fri 19th
	assert.Equal(t, time.Date(2024, time.January, 19, 18, 0, 0, 0, time.UTC), res.Replacement.ScheduledAt)

	sessions := store.batchSessions(t, plan.Batch.ID)
	require.Len(t, sessions, 6)
	seen := map[int]bool{}
	for _, s := range sessions {
		assert.False(t, seen[s.SessionNumber], "session number %d reused", s.SessionNumber)
		seen[s.SessionNumber] = true
	}

	progress, err := sched.ComputeProgress(ctx, plan.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, progress.TotalActive)
	assert.Equal(t, 5, store.batch(t, plan.Batch.ID).Progress.TotalSessions)
}

func TestRescheduleSupersedeSkipsBusySlots(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 2, 5)
	ctx := context.Background()

	store.addSession(models.Session{
		BatchID: 99, SessionNumber: 1, TutorID: uintPtr(5), Status: models.SessionScheduled,
		ScheduledAt: time.Date(2024, time.January, 9, 18, 45, 0, 0, time.UTC),
	})

	res, err := sched.RescheduleSupersede(ctx, plan.Drafts[0].Session.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.January, 12, 18, 0, 0, 0, time.UTC), res.Replacement.ScheduledAt)
	assert.Equal(t, 3, res.Replacement.SessionNumber)
}

// rangeHolidays only reports dates inside the requested range, like a real feed.
type rangeHolidays struct {
	dates []time.Time
	froms []time.Time
}

func (r *rangeHolidays) Holidays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	r.froms = append(r.froms, from)
	var out []time.Time
	for _, d := range r.dates {
		if !d.Before(from.Truncate(24*time.Hour)) && !d.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestRescheduleSupersedeLoadsHolidaysFromLastSession(t *testing.T) {
	store := newMemStore()
	calendar := &rangeHolidays{dates: []time.Time{time.Date(2024, time.January, 19, 0, 0, 0, 0, time.UTC)}}
	sched := newTestScheduler(store, WithHolidayCalendar(calendar))
	course := store.addCourse(models.Course{TotalSessions: 5, SessionDurationMinutes: 60})
	plan, err := sched.CreateBatch(context.Background(), CreateBatchInput{
		CourseID: course.ID, StartAt: monday, Timezone: "UTC", TutorID: uintPtr(5),
		Pattern: tueFri(18), SkipHolidays: true,
	})
	require.NoError(t, err)
	require.Len(t, plan.Drafts, 5)

	res, err := sched.RescheduleSupersede(context.Background(), plan.Drafts[0].Session.ID, nil, "tutor away")
	require.NoError(t, err)

	// the walk starts after Tue 16th; Fri 19th is a holiday
	assert.Equal(t, time.Date(2024, time.January, 23, 18, 0, 0, 0, time.UTC), res.Replacement.ScheduledAt)
	require.Len(t, calendar.froms, 2)
	assert.True(t, calendar.froms[1].Equal(plan.Drafts[4].Session.ScheduledAt), "holidays loaded from %s", calendar.froms[1])
}

func TestRescheduleSupersedeExplicitTimeIsChecked(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 3, 5)
	ctx := context.Background()
	second := plan.Drafts[1].Session

	clash := plan.Drafts[2].Session.ScheduledAt.Add(30 * time.Minute)
	_, err := sched.RescheduleSupersede(ctx, second.ID, &clash, "clash")
	require.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Len(t, store.batchSessions(t, plan.Batch.ID), 3)
	assert.Equal(t, models.SessionScheduled, store.session(t, second.ID).Status)

	// its own old slot is free once it is retired
	res, err := sched.RescheduleSupersede(ctx, second.ID, &second.ScheduledAt, "same time, new record")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Replacement.SessionNumber)
}

func TestReactivateBatchFrom(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 5, 5)
	ctx := context.Background()
	batchID := plan.Batch.ID

	before := store.batchSessions(t, batchID)
	_, err := sched.ReactivateBatchFrom(ctx, batchID, 2)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, before, store.batchSessions(t, batchID))
	assert.Equal(t, models.BatchActive, store.batch(t, batchID).Status)

	for _, d := range plan.Drafts[:2] {
		_, err := sched.MarkAttendance(ctx, d.Session.ID, map[string]string{"a": models.AttendancePresent})
		require.NoError(t, err)
	}
	_, err = sched.RescheduleSupersede(ctx, plan.Drafts[3].Session.ID, nil, "moved")
	require.NoError(t, err)
	_, err = sched.CompleteBatch(ctx, batchID)
	require.NoError(t, err)

	batch, err := sched.ReactivateBatchFrom(ctx, batchID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.BatchActive, batch.Status)

	for _, s := range store.batchSessions(t, batchID) {
		switch {
		case s.SessionNumber == 1:
			assert.Equal(t, models.SessionCompleted, s.Status)
			assert.NotEmpty(t, s.Attendance)
		case s.SessionNumber == 4:
			assert.Equal(t, models.SessionRescheduled, s.Status)
		default:
			assert.Equal(t, models.SessionScheduled, s.Status, "session %d", s.SessionNumber)
			assert.Empty(t, s.Attendance)
		}
	}
	stored := store.batch(t, batchID)
	assert.Equal(t, models.BatchActive, stored.Status)
	assert.Equal(t, models.BatchProgress{CurrentSession: 2, CompletedSessions: 1, TotalSessions: 5}, stored.Progress)
}

func TestCompleteBatchForceCompletesFutureSessions(t *testing.T) {
	store := newMemStore()
	plan := seedBatch(t, store, newTestScheduler(store), 4, 5)
	// sessions: Tue 2nd, Fri 5th, Tue 9th, Fri 12th
	now := time.Date(2024, time.January, 6, 12, 0, 0, 0, time.UTC)
	sched := newTestScheduler(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := sched.MarkAttendance(ctx, plan.Drafts[0].Session.ID, map[string]string{"a": models.AttendancePresent})
	require.NoError(t, err)

	batch, err := sched.CompleteBatch(ctx, plan.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, batch.Status)

	sessions := store.batchSessions(t, plan.Batch.ID)
	assert.Equal(t, models.SessionCompleted, sessions[0].Status)
	assert.Equal(t, models.SessionScheduled, sessions[1].Status, "past sessions are left alone")
	assert.Equal(t, models.SessionCompleted, sessions[2].Status)
	assert.Equal(t, models.SessionCompleted, sessions[3].Status)
	assert.Empty(t, sessions[3].Attendance)

	_, err = sched.CompleteBatch(ctx, plan.Batch.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateBatchStatus(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store)
	plan := seedBatch(t, store, sched, 2, 0)
	ctx := context.Background()
	id := plan.Batch.ID

	steps := []struct {
		to      models.BatchStatus
		wantErr error
	}{
		{models.BatchActive, ErrInvalidTransition},
		{models.BatchPaused, nil},
		{models.BatchPaused, ErrInvalidTransition},
		{models.BatchActive, nil},
		{models.BatchStatus("archived"), ErrInvalidInput},
		{models.BatchCancelled, nil},
		{models.BatchActive, ErrInvalidTransition},
		{models.BatchCompleted, ErrInvalidTransition},
	}
	for i, step := range steps {
		_, err := sched.UpdateBatchStatus(ctx, id, step.to)
		if step.wantErr != nil {
			assert.ErrorIs(t, err, step.wantErr, "step %d", i)
			continue
		}
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.to, store.batch(t, id).Status)
	}

	_, err := sched.UpdateBatchStatus(ctx, 404, models.BatchPaused)
	assert.ErrorIs(t, err, ErrNotFound)
}
