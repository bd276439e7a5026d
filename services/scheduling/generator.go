package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classflow_go/models"

	"github.com/sirupsen/logrus"
)

// Warning codes attached to drafts.
const (
	WarningTutorConflict = "tutor_conflict"
	WarningOutsideHours  = "outside_business_hours"
)

// Warning is an advisory annotation; it never blocks generation.
type Warning struct {
	Code                  string `json:"code"`
	Message               string `json:"message"`
	ConflictingSessionIDs []uint `json:"conflicting_session_ids,omitempty"`
}

// SessionDraft is a session about to be (or just) persisted, with its warnings.
type SessionDraft struct {
	Session  models.Session `json:"session"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

func conflictWarning(conflicts []models.Session, at time.Time) Warning {
	ids := make([]uint, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	return Warning{
		Code:                  WarningTutorConflict,
		Message:               fmt.Sprintf("tutor already has %d session(s) near %s", len(conflicts), at.Format(time.RFC3339)),
		ConflictingSessionIDs: ids,
	}
}

// TargetSessions is the explicit batch override when set, otherwise the course default.
func TargetSessions(batch *models.Batch, course *models.Course) int {
	if batch != nil && batch.TargetSessions > 0 {
		return batch.TargetSessions
	}
	return course.TotalSessions
}

// TopicFor falls back to "Session {n}" when the curriculum has no entry.
func TopicFor(course *models.Course, n int) string {
	if topic, ok := course.TopicFor(n); ok && strings.TrimSpace(topic) != "" {
		return topic
	}
	return fmt.Sprintf("Session %d", n)
}

// GenerateSessions resolves the batch pattern into numbered session drafts for tutorID.
// When checker is non-nil, tutor conflicts are attached as warnings and the session is kept.
// On an unsatisfiable pattern the drafts placed so far are returned along with the error.
func GenerateSessions(ctx context.Context, batch *models.Batch, course *models.Course, tutorID *uint, pattern Pattern, checker *ConflictChecker, opts ...ResolveOption) ([]SessionDraft, error) {
	target := TargetSessions(batch, course)
	if target <= 0 {
		return nil, invalidInput("course %d has no session count and no override was given", course.ID)
	}
	duration := course.SessionDurationMinutes
	if duration <= 0 {
		duration = 60
	}

	start := batch.StartAt.In(batch.Location())
	slots, resolveErr := ResolveSessionDates(start, pattern, target, opts...)
	if resolveErr != nil && len(slots) == 0 {
		return nil, resolveErr
	}

	drafts := make([]SessionDraft, 0, len(slots))
	for _, slot := range slots {
		draft := SessionDraft{Session: models.Session{
			BatchID:         batch.ID,
			SessionNumber:   slot.SessionNumber,
			Topic:           TopicFor(course, slot.SessionNumber),
			ScheduledAt:     slot.At,
			DurationMinutes: duration,
			TutorID:         tutorID,
			Status:          models.SessionScheduled,
		}}
		if checker != nil && tutorOf(tutorID) != 0 {
			conflicts, err := checker.FindConflicts(ctx, tutorOf(tutorID), slot.At)
			if err != nil {
				return nil, err
			}
			if len(conflicts) > 0 {
				draft.Warnings = append(draft.Warnings, conflictWarning(conflicts, slot.At))
			}
		}
		drafts = append(drafts, draft)
	}
	return drafts, resolveErr
}

// CreateBatchInput describes a new batch and its weekly pattern.
type CreateBatchInput struct {
	CourseID       uint
	Label          string
	StartAt        time.Time
	Timezone       string
	TutorID        *uint
	MaxStudents    int
	TargetSessions int
	SkipHolidays   bool
	Pattern        Pattern
}

// BatchPlan is a generated batch with its session drafts.
type BatchPlan struct {
	Batch  *models.Batch  `json:"batch"`
	Drafts []SessionDraft `json:"sessions"`
}

// Warnings counts drafts carrying at least one warning.
func (p *BatchPlan) Warnings() int {
	n := 0
	for _, d := range p.Drafts {
		if len(d.Warnings) > 0 {
			n++
		}
	}
	return n
}

func (s *Scheduler) prepareBatch(in CreateBatchInput) (*models.Batch, error) {
	if in.CourseID == 0 {
		return nil, invalidInput("course_id is required")
	}
	if in.StartAt.IsZero() {
		return nil, invalidInput("start_at is required")
	}
	if in.TargetSessions < 0 {
		return nil, invalidInput("target_sessions cannot be negative")
	}
	if err := in.Pattern.Validate(); err != nil {
		return nil, err
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalidInput("unknown timezone %q", tz)
	}
	batch := &models.Batch{
		CourseID:       in.CourseID,
		Label:          strings.TrimSpace(in.Label),
		StartAt:        in.StartAt.In(loc),
		Timezone:       tz,
		TutorID:        in.TutorID,
		MaxStudents:    in.MaxStudents,
		TargetSessions: in.TargetSessions,
		SkipHolidays:   in.SkipHolidays,
		Status:         models.BatchActive,
		Slots:          in.Pattern.ToSlots(),
	}
	return batch, nil
}

func (s *Scheduler) plan(ctx context.Context, st Store, batch *models.Batch, pattern Pattern, holidays HolidaySet) (*BatchPlan, error) {
	course, err := st.GetCourse(ctx, batch.CourseID)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(course.SessionDurationMinutes) * time.Minute
	if err := s.hours.ValidatePattern(pattern, duration); err != nil {
		return nil, err
	}
	batch.Course = *course
	drafts, err := GenerateSessions(ctx, batch, course, batch.TutorID, pattern, s.checker(st), WithHolidays(holidays))
	plan := &BatchPlan{Batch: batch, Drafts: drafts}
	return plan, err
}

// PreviewBatch runs generation without persisting anything. An unsatisfiable
// pattern still returns the partial plan along with the error.
func (s *Scheduler) PreviewBatch(ctx context.Context, in CreateBatchInput) (*BatchPlan, error) {
	batch, err := s.prepareBatch(in)
	if err != nil {
		return nil, err
	}
	holidays, err := s.holidaySet(ctx, batch.StartAt, batch.SkipHolidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	return s.plan(ctx, s.store, batch, in.Pattern, holidays)
}

// CreateBatch persists the batch, its pattern and every generated session in one
// transaction. Nothing is written when generation fails.
func (s *Scheduler) CreateBatch(ctx context.Context, in CreateBatchInput) (*BatchPlan, error) {
	batch, err := s.prepareBatch(in)
	if err != nil {
		return nil, err
	}
	holidays, err := s.holidaySet(ctx, batch.StartAt, batch.SkipHolidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	unlock, err := s.lockTutors(ctx, tutorOf(batch.TutorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var plan *BatchPlan
	err = s.store.Transaction(ctx, func(tx Store) error {
		number, err := tx.NextBatchNumber(ctx, batch.CourseID)
		if err != nil {
			return err
		}
		batch.BatchNumber = number

		p, err := s.plan(ctx, tx, batch, in.Pattern, holidays)
		if err != nil {
			return err
		}

		sessions := make([]models.Session, len(p.Drafts))
		for i := range p.Drafts {
			sessions[i] = p.Drafts[i].Session
		}
		batch.Progress = ComputeProgress(sessions).Summary()

		course := batch.Course
		batch.Course = models.Course{}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}
		batch.Course = course

		for i := range sessions {
			sessions[i].BatchID = batch.ID
		}
		if err := tx.CreateSessions(ctx, sessions); err != nil {
			return err
		}
		for i := range p.Drafts {
			p.Drafts[i].Session = sessions[i]
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"batch_id":     batch.ID,
		"course_id":    batch.CourseID,
		"batch_number": batch.BatchNumber,
		"sessions":     len(plan.Drafts),
		"warnings":     plan.Warnings(),
	}).Info("batch created")
	return plan, nil
}
