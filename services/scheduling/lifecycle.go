package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"classflow_go/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

func appendNote(notes, label, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	entry := fmt.Sprintf("[%s] %s", label, reason)
	if strings.TrimSpace(notes) == "" {
		return entry
	}
	return notes + "\n" + entry
}

func requireScheduled(s *models.Session, op string) error {
	if s.Status != models.SessionScheduled {
		return sessionTransition(s, op)
	}
	return nil
}

func (s *Scheduler) checkHours(at time.Time, durationMinutes int) error {
	d := time.Duration(durationMinutes) * time.Minute
	if !s.hours.AllowsAt(at, d) {
		return invalidInput("%s with %s duration is outside business hours %s", at.Format("2006-01-02 15:04"), d, s.hours)
	}
	return nil
}

// sessionInBatchZone loads the session and its batch, expressing times in the batch timezone.
func sessionInBatchZone(ctx context.Context, st Store, sessionID uint) (*models.Session, *models.Batch, error) {
	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	batch, err := st.GetBatch(ctx, sess.BatchID)
	if err != nil {
		return nil, nil, err
	}
	sess.ScheduledAt = sess.ScheduledAt.In(batch.Location())
	return sess, batch, nil
}

// AttendanceResult is returned by MarkAttendance.
type AttendanceResult struct {
	Session models.Session `json:"session"`
	Rate    int            `json:"attendance_rate"`
}

// MarkAttendance completes a scheduled session with the given student-id to
// present/absent map and returns the rounded attendance percentage.
func (s *Scheduler) MarkAttendance(ctx context.Context, sessionID uint, marks map[string]string) (*AttendanceResult, error) {
	for student, mark := range marks {
		if strings.TrimSpace(student) == "" {
			return nil, invalidInput("attendance contains an empty student id")
		}
		if mark != models.AttendancePresent && mark != models.AttendanceAbsent {
			return nil, invalidInput("attendance for student %s must be %q or %q, got %q",
				student, models.AttendancePresent, models.AttendanceAbsent, mark)
		}
	}
	if marks == nil {
		marks = map[string]string{}
	}
	raw, err := json.Marshal(marks)
	if err != nil {
		return nil, err
	}

	var result *AttendanceResult
	err = s.store.Transaction(ctx, func(tx Store) error {
		sess, batch, err := sessionInBatchZone(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireScheduled(sess, "mark attendance on"); err != nil {
			return err
		}
		sess.Status = models.SessionCompleted
		sess.Attendance = datatypes.JSON(raw)
		if err := tx.UpdateSession(ctx, sess, "status", "attendance"); err != nil {
			return err
		}
		if err := refreshProgress(ctx, tx, batch); err != nil {
			return err
		}
		result = &AttendanceResult{Session: *sess, Rate: AttendanceRate(marks)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"rate":       result.Rate,
		"students":   len(marks),
	}).Info("attendance recorded")
	return result, nil
}

// Cancel moves a scheduled session to cancelled and appends the reason to its notes.
func (s *Scheduler) Cancel(ctx context.Context, sessionID uint, reason string) (*models.Session, error) {
	var out *models.Session
	err := s.store.Transaction(ctx, func(tx Store) error {
		sess, batch, err := sessionInBatchZone(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireScheduled(sess, "cancel"); err != nil {
			return err
		}
		sess.Status = models.SessionCancelled
		sess.Notes = appendNote(sess.Notes, "cancelled", reason)
		if err := tx.UpdateSession(ctx, sess, "status", "notes"); err != nil {
			return err
		}
		out = sess
		return refreshProgress(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"session_id": sessionID, "reason": reason}).Info("session cancelled")
	return out, nil
}

// RescheduleSingle moves one scheduled session in place. The session keeps its
// number and stays scheduled. tutorOverride, when set, reassigns the session and
// the conflict check runs against that tutor. A conflict rejects the move.
func (s *Scheduler) RescheduleSingle(ctx context.Context, sessionID uint, newAt time.Time, reason string, tutorOverride *uint) (*models.Session, error) {
	if newAt.IsZero() {
		return nil, invalidInput("new scheduled time is required")
	}
	pre, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tutorID := pre.TutorID
	if tutorOverride != nil {
		tutorID = tutorOverride
	}
	unlock, err := s.lockTutors(ctx, tutorOf(tutorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Session
	err = s.store.Transaction(ctx, func(tx Store) error {
		sess, batch, err := sessionInBatchZone(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireScheduled(sess, "reschedule"); err != nil {
			return err
		}
		at := newAt.In(batch.Location())
		if err := s.checkHours(at, sess.DurationMinutes); err != nil {
			return err
		}
		if err := s.checker(tx).Ensure(ctx, tutorOf(tutorID), at, sess.ID); err != nil {
			return err
		}
		sess.ScheduledAt = at
		sess.TutorID = tutorID
		sess.Notes = appendNote(sess.Notes, "rescheduled", reason)
		if err := tx.UpdateSession(ctx, sess, "scheduled_at", "tutor_id", "notes"); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"session_id": sessionID, "scheduled_at": out.ScheduledAt}).Info("session rescheduled")
	return out, nil
}

// CascadeResult reports the moved session and every later session shifted with it.
type CascadeResult struct {
	Moved   models.Session `json:"moved"`
	Delta   time.Duration  `json:"delta"`
	Shifted []SessionDraft `json:"shifted"`
}

// RescheduleCascade moves session N to newAt and shifts every scheduled session
// of the same batch with a larger number by the same delta. Only the moved
// session is conflict checked strictly; shifted sessions carry advisory warnings.
func (s *Scheduler) RescheduleCascade(ctx context.Context, sessionID uint, newAt time.Time, reason string) (*CascadeResult, error) {
	if newAt.IsZero() {
		return nil, invalidInput("new scheduled time is required")
	}
	pre, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockTutors(ctx, tutorOf(pre.TutorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *CascadeResult
	err = s.store.Transaction(ctx, func(tx Store) error {
		sess, batch, err := sessionInBatchZone(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireScheduled(sess, "reschedule"); err != nil {
			return err
		}
		at := newAt.In(batch.Location())
		if err := s.checkHours(at, sess.DurationMinutes); err != nil {
			return err
		}

		later, err := tx.FindBatchSessions(ctx, sess.BatchID, SessionFilter{
			Statuses:  []models.SessionStatus{models.SessionScheduled},
			MinNumber: sess.SessionNumber + 1,
		})
		if err != nil {
			return err
		}
		// Every session that moves is excluded; their relative spacing is preserved.
		moving := []uint{sess.ID}
		for _, l := range later {
			moving = append(moving, l.ID)
		}

		checker := s.checker(tx)
		if err := checker.Ensure(ctx, tutorOf(sess.TutorID), at, moving...); err != nil {
			return err
		}

		delta := at.Sub(sess.ScheduledAt)
		sess.ScheduledAt = at
		sess.Notes = appendNote(sess.Notes, "rescheduled", reason)
		if err := tx.UpdateSession(ctx, sess, "scheduled_at", "notes"); err != nil {
			return err
		}

		shifted := make([]SessionDraft, 0, len(later))
		for i := range later {
			l := &later[i]
			l.ScheduledAt = l.ScheduledAt.Add(delta).In(batch.Location())
			draft := SessionDraft{}
			conflicts, err := checker.FindConflicts(ctx, tutorOf(l.TutorID), l.ScheduledAt, moving...)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				draft.Warnings = append(draft.Warnings, conflictWarning(conflicts, l.ScheduledAt))
			}
			if !s.hours.AllowsAt(l.ScheduledAt, time.Duration(l.DurationMinutes)*time.Minute) {
				draft.Warnings = append(draft.Warnings, Warning{
					Code:    WarningOutsideHours,
					Message: fmt.Sprintf("shifted session starts at %s, outside business hours %s", l.ScheduledAt.Format("15:04"), s.hours),
				})
			}
			if err := tx.UpdateSession(ctx, l, "scheduled_at"); err != nil {
				return err
			}
			draft.Session = *l
			shifted = append(shifted, draft)
		}

		result = &CascadeResult{Moved: *sess, Delta: delta, Shifted: shifted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"delta":      result.Delta.String(),
		"shifted":    len(result.Shifted),
	}).Info("session rescheduled with cascade")
	return result, nil
}

// SupersedeResult holds the retired session and its appended replacement.
type SupersedeResult struct {
	Original    models.Session `json:"original"`
	Replacement models.Session `json:"replacement"`
}

// RescheduleSupersede retires a scheduled session (status rescheduled) and appends
// a new session numbered max+1 with the same topic, tutor and duration. With an
// explicit newAt the replacement is conflict checked strictly; with nil the next
// free pattern slot after the last non-superseded session is used.
func (s *Scheduler) RescheduleSupersede(ctx context.Context, sessionID uint, newAt *time.Time, reason string) (*SupersedeResult, error) {
	pre, preBatch, err := sessionInBatchZone(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	var (
		holidays   HolidaySet
		holidaysAt time.Time
	)
	if newAt == nil && preBatch.SkipHolidays {
		all, err := s.store.FindBatchSessions(ctx, preBatch.ID, SessionFilter{})
		if err != nil {
			return nil, err
		}
		_, holidaysAt = supersedeAnchor(all, pre)
		holidays, err = s.holidaySet(ctx, holidaysAt, true)
		if err != nil {
			return nil, fmt.Errorf("load holidays: %w", err)
		}
	}
	unlock, err := s.lockTutors(ctx, tutorOf(pre.TutorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *SupersedeResult
	err = s.store.Transaction(ctx, func(tx Store) error {
		sess, batch, err := sessionInBatchZone(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireScheduled(sess, "supersede"); err != nil {
			return err
		}
		all, err := tx.FindBatchSessions(ctx, batch.ID, SessionFilter{})
		if err != nil {
			return err
		}
		maxNumber, last := supersedeAnchor(all, sess)
		if holidays != nil && !last.Equal(holidaysAt) {
			return fmt.Errorf("%w: batch %d sessions changed while loading holidays, retry", ErrSchedulingConflict, batch.ID)
		}

		tutorID := tutorOf(sess.TutorID)
		checker := s.checker(tx)
		var at time.Time
		if newAt != nil {
			at = newAt.In(batch.Location())
			if err := s.checkHours(at, sess.DurationMinutes); err != nil {
				return err
			}
			if err := checker.Ensure(ctx, tutorID, at, sess.ID); err != nil {
				return err
			}
		} else {
			at, err = s.nextFreeSlot(ctx, checker, batch, tutorID, last.In(batch.Location()), sess.ID, holidays)
			if err != nil {
				return err
			}
		}

		sess.Status = models.SessionRescheduled
		sess.Notes = appendNote(sess.Notes, "superseded", reason)
		if err := tx.UpdateSession(ctx, sess, "status", "notes"); err != nil {
			return err
		}

		originalID := sess.ID
		replacement := []models.Session{{
			BatchID:             batch.ID,
			SessionNumber:       maxNumber + 1,
			Topic:               sess.Topic,
			ScheduledAt:         at,
			DurationMinutes:     sess.DurationMinutes,
			TutorID:             sess.TutorID,
			Status:              models.SessionScheduled,
			SupersedesSessionID: &originalID,
		}}
		if err := tx.CreateSessions(ctx, replacement); err != nil {
			return err
		}
		if err := refreshProgress(ctx, tx, batch); err != nil {
			return err
		}
		result = &SupersedeResult{Original: *sess, Replacement: replacement[0]}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"replacement_id": result.Replacement.ID,
		"session_number": result.Replacement.SessionNumber,
	}).Info("session superseded")
	return result, nil
}

// nextFreeSlot walks the batch pattern forward from after (exclusive), skipping
// candidates where the tutor is busy.
// supersedeAnchor returns the highest session number in the batch and the latest
// start among sessions still on the schedule, excluding sess itself.
func supersedeAnchor(all []models.Session, sess *models.Session) (int, time.Time) {
	maxNumber := 0
	var last time.Time
	for _, other := range all {
		if other.SessionNumber > maxNumber {
			maxNumber = other.SessionNumber
		}
		if other.ID == sess.ID || other.Status == models.SessionRescheduled {
			continue
		}
		if other.ScheduledAt.After(last) {
			last = other.ScheduledAt
		}
	}
	if last.IsZero() {
		last = sess.ScheduledAt
	}
	return maxNumber, last
}

func (s *Scheduler) nextFreeSlot(ctx context.Context, checker *ConflictChecker, batch *models.Batch, tutorID uint, after time.Time, exclude uint, holidays HolidaySet) (time.Time, error) {
	pattern, err := PatternFromSlots(batch.Slots)
	if err != nil {
		return time.Time{}, err
	}
	var (
		found   time.Time
		walkErr error
	)
	o := buildResolveOptions([]ResolveOption{StrictlyAfter(), WithHolidays(holidays)})
	walkPattern(after, pattern, o, func(at time.Time) bool {
		busy, err := checker.HasConflict(ctx, tutorID, at, exclude)
		if err != nil {
			walkErr = err
			return false
		}
		if busy {
			return true
		}
		found = at
		return false
	})
	if walkErr != nil {
		return time.Time{}, walkErr
	}
	if found.IsZero() {
		return time.Time{}, &UnsatisfiableError{Placed: 0, Target: 1, HorizonDays: o.horizon}
	}
	return found, nil
}

// ReactivateBatchFrom reopens a completed batch: sessions numbered resumeFrom or
// later go back to scheduled with attendance cleared, except superseded ones.
func (s *Scheduler) ReactivateBatchFrom(ctx context.Context, batchID uint, resumeFrom int) (*models.Batch, error) {
	if resumeFrom < 1 {
		return nil, invalidInput("resume session number must be at least 1")
	}
	var out *models.Batch
	err := s.store.Transaction(ctx, func(tx Store) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchCompleted {
			return batchTransition(batch, "reactivate")
		}
		sessions, err := tx.FindBatchSessions(ctx, batchID, SessionFilter{MinNumber: resumeFrom})
		if err != nil {
			return err
		}
		for i := range sessions {
			sess := &sessions[i]
			if sess.Status == models.SessionRescheduled {
				continue
			}
			sess.Status = models.SessionScheduled
			sess.Attendance = nil
			if err := tx.UpdateSession(ctx, sess, "status", "attendance"); err != nil {
				return err
			}
		}
		batch.Status = models.BatchActive
		if err := refreshProgress(ctx, tx, batch, "status"); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"batch_id": batchID, "resume_from": resumeFrom}).Info("batch reactivated")
	return out, nil
}

// CompleteBatch wraps a batch up: scheduled sessions still in the future are
// force-completed without attendance and the batch becomes completed.
func (s *Scheduler) CompleteBatch(ctx context.Context, batchID uint) (*models.Batch, error) {
	now := s.now()
	var out *models.Batch
	err := s.store.Transaction(ctx, func(tx Store) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchActive && batch.Status != models.BatchPaused {
			return batchTransition(batch, "complete")
		}
		pending, err := tx.FindBatchSessions(ctx, batchID, SessionFilter{
			Statuses: []models.SessionStatus{models.SessionScheduled},
		})
		if err != nil {
			return err
		}
		for i := range pending {
			sess := &pending[i]
			if !sess.ScheduledAt.After(now) {
				continue
			}
			sess.Status = models.SessionCompleted
			sess.Notes = appendNote(sess.Notes, "completed", "batch completed early")
			if err := tx.UpdateSession(ctx, sess, "status", "notes"); err != nil {
				return err
			}
		}
		batch.Status = models.BatchCompleted
		if err := refreshProgress(ctx, tx, batch, "status"); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("batch_id", batchID).Info("batch completed")
	return out, nil
}

var batchTransitions = map[models.BatchStatus][]models.BatchStatus{
	models.BatchActive: {models.BatchPaused, models.BatchCancelled, models.BatchCompleted},
	models.BatchPaused: {models.BatchActive, models.BatchCancelled, models.BatchCompleted},
}

// UpdateBatchStatus applies an administrative status change. Completing goes
// through CompleteBatch; reopening a completed batch goes through ReactivateBatchFrom.
func (s *Scheduler) UpdateBatchStatus(ctx context.Context, batchID uint, status models.BatchStatus) (*models.Batch, error) {
	if !status.Valid() {
		return nil, invalidInput("unknown batch status %q", status)
	}
	if status == models.BatchCompleted {
		return s.CompleteBatch(ctx, batchID)
	}

	var out *models.Batch
	err := s.store.Transaction(ctx, func(tx Store) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		allowed := false
		for _, next := range batchTransitions[batch.Status] {
			if next == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return batchTransition(batch, fmt.Sprintf("move to %s", status))
		}
		batch.Status = status
		if err := tx.UpdateBatch(ctx, batch, "status"); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"batch_id": batchID, "status": status}).Info("batch status updated")
	return out, nil
}
