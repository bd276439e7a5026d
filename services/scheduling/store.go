package scheduling

import (
	"context"
	"time"

	"classflow_go/models"
)

// SessionFilter narrows session lookups. Zero values mean "no restriction".
type SessionFilter struct {
	Statuses   []models.SessionStatus
	MinNumber  int
	ExcludeIDs []uint
}

// Matches applies the filter to an already loaded session.
func (f SessionFilter) Matches(s *models.Session) bool {
	if f.MinNumber > 0 && s.SessionNumber < f.MinNumber {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if s.ID == id {
			return false
		}
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// SessionReader is the read side the conflict checker needs.
type SessionReader interface {
	// FindTutorSessions returns the tutor's sessions with scheduled_at in [from, to].
	FindTutorSessions(ctx context.Context, tutorID uint, from, to time.Time, filter SessionFilter) ([]models.Session, error)
}

// Store is the persistence boundary of the scheduler. Lookups that miss return ErrNotFound.
type Store interface {
	SessionReader

	// Transaction runs fn against a store bound to a single transaction.
	// Returning an error from fn rolls back every write made through tx.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetCourse(ctx context.Context, id uint) (*models.Course, error)

	// NextBatchNumber returns max(batch_number)+1 for the course, serialised per course.
	NextBatchNumber(ctx context.Context, courseID uint) (int, error)
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id uint) (*models.Batch, error)
	FindBatches(ctx context.Context, statuses ...models.BatchStatus) ([]models.Batch, error)
	UpdateBatch(ctx context.Context, batch *models.Batch, fields ...string) error

	CreateSessions(ctx context.Context, sessions []models.Session) error
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	// FindBatchSessions returns the batch's sessions ordered by session_number.
	FindBatchSessions(ctx context.Context, batchID uint, filter SessionFilter) ([]models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session, fields ...string) error
}

// HolidayCalendar supplies dates on which no session should be generated.
type HolidayCalendar interface {
	Holidays(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// TutorLocker serialises conflict-check-then-write sequences for one tutor.
type TutorLocker interface {
	LockTutor(ctx context.Context, tutorID uint) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) LockTutor(context.Context, uint) (func(), error) { return func() {}, nil }
