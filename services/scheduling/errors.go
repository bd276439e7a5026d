package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"classflow_go/models"
)

var (
	// ErrScheduleUnsatisfiable indicates the pattern could not place the requested
	// number of sessions inside the search horizon.
	ErrScheduleUnsatisfiable = errors.New("schedule unsatisfiable")
	// ErrSchedulingConflict indicates the tutor already has an active session inside the conflict window.
	ErrSchedulingConflict = errors.New("scheduling conflict")
	// ErrInvalidTransition indicates a lifecycle operation was attempted from a state that does not permit it.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// UnsatisfiableError carries how far the resolver got before hitting the horizon.
type UnsatisfiableError struct {
	Placed      int
	Target      int
	HorizonDays int
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("schedule unsatisfiable: placed %d of %d sessions within %d days", e.Placed, e.Target, e.HorizonDays)
}

func (e *UnsatisfiableError) Is(target error) bool { return target == ErrScheduleUnsatisfiable }

// ConflictError lists the tutor sessions that fall inside the conflict window of a candidate time.
type ConflictError struct {
	TutorID   uint
	At        time.Time
	Conflicts []models.Session
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, s := range e.Conflicts {
		ids = append(ids, fmt.Sprintf("%d", s.ID))
	}
	return fmt.Sprintf("scheduling conflict: tutor %d already has session(s) [%s] near %s",
		e.TutorID, strings.Join(ids, ","), e.At.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrSchedulingConflict }

// ConflictingIDs returns the ids of the sessions that caused the conflict.
func (e *ConflictError) ConflictingIDs() []uint {
	ids := make([]uint, 0, len(e.Conflicts))
	for _, s := range e.Conflicts {
		ids = append(ids, s.ID)
	}
	return ids
}

// TransitionError describes a rejected lifecycle operation.
type TransitionError struct {
	Entity string // "session" or "batch"
	ID     uint
	From   string
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s %s %d in status %q", e.Op, e.Entity, e.ID, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func sessionTransition(s *models.Session, op string) error {
	return &TransitionError{Entity: "session", ID: s.ID, From: string(s.Status), Op: op}
}

func batchTransition(b *models.Batch, op string) error {
	return &TransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), Op: op}
}
