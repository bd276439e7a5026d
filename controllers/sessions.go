package controllers

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/services/scheduling"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SessionController struct {
	DB        *gorm.DB
	Scheduler *scheduling.Scheduler
}

type AttendanceRequest struct {
	Attendance map[string]string `json:"attendance" validate:"required,dive,keys,required,endkeys,oneof=present absent"`
}

type CancelSessionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type RescheduleRequest struct {
	NewAt   string `json:"new_at" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=500"`
	TutorID *uint  `json:"tutor_id"`
}

type SupersedeRequest struct {
	NewAt  string `json:"new_at"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// sessionAndBatch loads the session and its batch for request-level checks.
func (sc *SessionController) sessionAndBatch(c *fiber.Ctx) (*models.Session, *models.Batch, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, nil, invalid("invalid session ID")
	}
	sess, err := sc.Scheduler.Store().GetSession(c.UserContext(), id)
	if err != nil {
		return nil, nil, err
	}
	batch, err := sc.Scheduler.Store().GetBatch(c.UserContext(), sess.BatchID)
	if err != nil {
		return nil, nil, err
	}
	return sess, batch, nil
}

// managedSession loads the session for a write; tutors must teach it.
func (sc *SessionController) managedSession(c *fiber.Ctx) (*models.Session, *models.Batch, error) {
	sess, batch, err := sc.sessionAndBatch(c)
	if err != nil {
		return nil, nil, err
	}
	viewer := viewerOf(c)
	if viewer.Role != models.RoleAdmin && !teachesSession(viewer, sess, batch) {
		return nil, nil, errNotAssigned
	}
	return sess, batch, nil
}

var errNotAssigned = fiber.NewError(fiber.StatusForbidden, "You are not assigned to this session")

// GetSession returns one session projected for the caller's role
func (sc *SessionController) GetSession(c *fiber.Ctx) error {
	sess, batch, err := sc.sessionAndBatch(c)
	if err != nil {
		return respondError(c, err)
	}
	viewer := viewerOf(c)
	ok, err := canViewBatch(sc.DB, viewer, batch.ID)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return forbidden(c, "You are not enrolled in this batch")
	}
	return c.JSON(fiber.Map{"session": utils.ToSessionDTO(*sess, viewer, batch.Location())})
}

// activeStudentIDs returns the ids of students actively enrolled in batchID, as attendance keys.
func activeStudentIDs(db *gorm.DB, batchID uint) (map[string]bool, error) {
	var ids []uint
	err := db.Model(&models.Enrollment{}).
		Where("batch_id = ? AND status = ?", batchID, models.EnrollmentActive).
		Pluck("student_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[strconv.FormatUint(uint64(id), 10)] = true
	}
	return out, nil
}

func checkEnrolled(db *gorm.DB, batchID uint, marks map[string]string) error {
	active, err := activeStudentIDs(db, batchID)
	if err != nil {
		return err
	}
	var unknown []string
	for student := range marks {
		if !active[student] {
			unknown = append(unknown, student)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return invalid(fmt.Sprintf("students not actively enrolled in batch %d: %v", batchID, unknown))
	}
	return nil
}

func (sc *SessionController) recordAttendance(c *fiber.Ctx, sess *models.Session, marks map[string]string, source string) error {
	if err := checkEnrolled(sc.DB, sess.BatchID, marks); err != nil {
		return respondError(c, err)
	}

	result, err := sc.Scheduler.MarkAttendance(c.UserContext(), sess.ID, marks)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "ATTENDANCE", "sessions", sess.ID, fiber.Map{
		"students": len(marks),
		"rate":     result.Rate,
		"source":   source,
	})
	return c.JSON(fiber.Map{
		"message":         "Attendance recorded",
		"session":         utils.ToSessionDTO(result.Session, viewerOf(c), nil),
		"attendance_rate": result.Rate,
	})
}

// MarkAttendance completes a session with a student-id to present/absent map (tutor+)
func (sc *SessionController) MarkAttendance(c *fiber.Ctx) error {
	sess, _, err := sc.managedSession(c)
	if err != nil {
		return respondError(c, err)
	}
	var req AttendanceRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	return sc.recordAttendance(c, sess, req.Attendance, "json")
}

// ImportAttendance reads marks from an uploaded .xlsx or .csv sheet (tutor+)
// Multipart form with file field: file
func (sc *SessionController) ImportAttendance(c *fiber.Ctx) error {
	sess, _, err := sc.managedSession(c)
	if err != nil {
		return respondError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return badRequest(c, "cannot open file")
	}
	defer file.Close()

	rows, err := readSheet(file, fileHeader.Filename)
	if err != nil {
		return badRequest(c, err.Error())
	}

	usernames, err := enrolledUsernames(sc.DB, sess.BatchID)
	if err != nil {
		return respondError(c, err)
	}
	marks, err := attendanceFromRows(rows, usernames)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return sc.recordAttendance(c, sess, marks, "import:"+fileHeader.Filename)
}

// CancelSession cancels a scheduled session (tutor+)
func (sc *SessionController) CancelSession(c *fiber.Ctx) error {
	target, _, err := sc.managedSession(c)
	if err != nil {
		return respondError(c, err)
	}
	id := target.ID
	var req CancelSessionRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	sess, err := sc.Scheduler.Cancel(c.UserContext(), id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CANCEL", "sessions", id, fiber.Map{"reason": req.Reason})
	return c.JSON(fiber.Map{
		"message": "Session cancelled",
		"session": utils.ToSessionDTO(*sess, viewerOf(c), nil),
	})
}

// rescheduleTarget parses new_at in the session's batch timezone.
func (sc *SessionController) rescheduleTarget(c *fiber.Ctx, raw string) (*models.Session, time.Time, error) {
	sess, batch, err := sc.sessionAndBatch(c)
	if err != nil {
		return nil, time.Time{}, err
	}
	at, err := parseInstant(raw, batch.Location())
	if err != nil {
		return nil, time.Time{}, err
	}
	return sess, at, nil
}

// RescheduleSession moves a single session without touching the others (admin only)
func (sc *SessionController) RescheduleSession(c *fiber.Ctx) error {
	var req RescheduleRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	sess, at, err := sc.rescheduleTarget(c, req.NewAt)
	if err != nil {
		return respondError(c, err)
	}

	moved, err := sc.Scheduler.RescheduleSingle(c.UserContext(), sess.ID, at, req.Reason, req.TutorID)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "RESCHEDULE", "sessions", sess.ID, fiber.Map{
		"from":   sess.ScheduledAt,
		"to":     moved.ScheduledAt,
		"reason": req.Reason,
	})
	return c.JSON(fiber.Map{
		"message": "Session rescheduled",
		"session": utils.ToSessionDTO(*moved, viewerOf(c), nil),
	})
}

// RescheduleCascade moves a session and shifts every later scheduled session by the same delta (admin only)
func (sc *SessionController) RescheduleCascade(c *fiber.Ctx) error {
	var req RescheduleRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	sess, at, err := sc.rescheduleTarget(c, req.NewAt)
	if err != nil {
		return respondError(c, err)
	}

	result, err := sc.Scheduler.RescheduleCascade(c.UserContext(), sess.ID, at, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "RESCHEDULE_CASCADE", "sessions", sess.ID, fiber.Map{
		"delta":   result.Delta.String(),
		"shifted": len(result.Shifted),
		"reason":  req.Reason,
	})
	return c.JSON(fiber.Map{
		"message":       "Session and following sessions rescheduled",
		"moved":         result.Moved,
		"delta_minutes": int(result.Delta / time.Minute),
		"shifted":       result.Shifted,
	})
}

// RescheduleSupersede marks a session rescheduled and appends a replacement at the end (admin only)
func (sc *SessionController) RescheduleSupersede(c *fiber.Ctx) error {
	var req SupersedeRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	var (
		sess  *models.Session
		newAt *time.Time
		err   error
	)
	if req.NewAt != "" {
		var at time.Time
		sess, at, err = sc.rescheduleTarget(c, req.NewAt)
		newAt = &at
	} else {
		sess, _, err = sc.sessionAndBatch(c)
	}
	if err != nil {
		return respondError(c, err)
	}

	result, err := sc.Scheduler.RescheduleSupersede(c.UserContext(), sess.ID, newAt, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "RESCHEDULE_SUPERSEDE", "sessions", sess.ID, fiber.Map{
		"replacement_id":     result.Replacement.ID,
		"replacement_number": result.Replacement.SessionNumber,
		"reason":             req.Reason,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Session superseded by a new session",
		"original":    result.Original,
		"replacement": result.Replacement,
	})
}
