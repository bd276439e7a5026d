package scheduling

import (
	"context"
	"time"

	"classflow_go/models"
)

// ConflictWindow is the span around a candidate time in which the same tutor
// may not hold another active session. Both ends are inclusive.
type ConflictWindow struct {
	Before time.Duration
	After  time.Duration
}

// DefaultConflictWindow covers 30 minutes of setup before and 90 minutes of overrun after.
func DefaultConflictWindow() ConflictWindow {
	return ConflictWindow{Before: 30 * time.Minute, After: 90 * time.Minute}
}

// Bounds returns the inclusive window around at.
func (w ConflictWindow) Bounds(at time.Time) (time.Time, time.Time) {
	return at.Add(-w.Before), at.Add(w.After)
}

// Contains reports whether other falls inside the window around at.
func (w ConflictWindow) Contains(at, other time.Time) bool {
	from, to := w.Bounds(at)
	return !other.Before(from) && !other.After(to)
}

var conflictingStatuses = []models.SessionStatus{models.SessionScheduled, models.SessionCompleted}

// ConflictChecker detects tutor double-booking over a read interface.
type ConflictChecker struct {
	reader SessionReader
	window ConflictWindow
}

func NewConflictChecker(reader SessionReader, window ConflictWindow) *ConflictChecker {
	return &ConflictChecker{reader: reader, window: window}
}

// Window returns the configured conflict window.
func (c *ConflictChecker) Window() ConflictWindow { return c.window }

// FindConflicts returns the tutor's scheduled or completed sessions inside the
// window around at, skipping the sessions listed in exclude. A zero tutor never conflicts.
func (c *ConflictChecker) FindConflicts(ctx context.Context, tutorID uint, at time.Time, exclude ...uint) ([]models.Session, error) {
	if tutorID == 0 {
		return nil, nil
	}
	from, to := c.window.Bounds(at)
	filter := SessionFilter{Statuses: conflictingStatuses, ExcludeIDs: exclude}
	candidates, err := c.reader.FindTutorSessions(ctx, tutorID, from, to, filter)
	if err != nil {
		return nil, err
	}

	var conflicts []models.Session
	for i := range candidates {
		s := &candidates[i]
		if s.TutorID == nil || *s.TutorID != tutorID {
			continue
		}
		if !filter.Matches(s) || !c.window.Contains(at, s.ScheduledAt) {
			continue
		}
		conflicts = append(conflicts, *s)
	}
	return conflicts, nil
}

// HasConflict reports whether tutorID is busy around at, ignoring excludeSessionID (0 for none).
func (c *ConflictChecker) HasConflict(ctx context.Context, tutorID uint, at time.Time, excludeSessionID uint) (bool, error) {
	var exclude []uint
	if excludeSessionID != 0 {
		exclude = append(exclude, excludeSessionID)
	}
	conflicts, err := c.FindConflicts(ctx, tutorID, at, exclude...)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// Ensure returns a *ConflictError when the tutor is busy around at.
func (c *ConflictChecker) Ensure(ctx context.Context, tutorID uint, at time.Time, exclude ...uint) error {
	conflicts, err := c.FindConflicts(ctx, tutorID, at, exclude...)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{TutorID: tutorID, At: at, Conflicts: conflicts}
	}
	return nil
}

func tutorOf(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
