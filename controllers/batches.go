package controllers

import (
	"strings"
	"time"

	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/services/scheduling"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BatchController struct {
	DB              *gorm.DB
	Scheduler       *scheduling.Scheduler
	DefaultTimezone string
}

type PatternSlotRequest struct {
	Weekday   int    `json:"weekday" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
}

type CreateBatchRequest struct {
	CourseID       uint                 `json:"course_id" validate:"required"`
	Label          string               `json:"label" validate:"max=200"`
	StartAt        string               `json:"start_at" validate:"required"`
	Timezone       string               `json:"timezone"`
	TutorID        *uint                `json:"tutor_id"`
	MaxStudents    int                  `json:"max_students" validate:"min=0"`
	TargetSessions int                  `json:"target_sessions" validate:"min=0"`
	SkipHolidays   bool                 `json:"skip_holidays"`
	Pattern        []PatternSlotRequest `json:"pattern" validate:"required,min=1,max=7,dive"`
}

type UpdateBatchStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused completed cancelled"`
}

type ReactivateBatchRequest struct {
	ResumeFrom int `json:"resume_from" validate:"required,min=1"`
}

func viewerOf(c *fiber.Ctx) utils.Viewer {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return utils.Viewer{}
	}
	return utils.Viewer{UserID: claims.UserID, Role: claims.Role}
}

// parseInstant accepts RFC3339 or a local "2006-01-02[ 15:04]" value interpreted in loc.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("invalid time " + value + ", expected RFC3339 or YYYY-MM-DD[ HH:MM]")
}

func (bc *BatchController) toInput(c *fiber.Ctx) (scheduling.CreateBatchInput, error) {
	var req CreateBatchRequest
	if err := parseBody(c, &req); err != nil {
		return scheduling.CreateBatchInput{}, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = bc.DefaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return scheduling.CreateBatchInput{}, invalid("unknown timezone " + tz)
	}
	start, err := parseInstant(req.StartAt, loc)
	if err != nil {
		return scheduling.CreateBatchInput{}, err
	}

	pattern := make(scheduling.Pattern, 0, len(req.Pattern))
	for _, p := range req.Pattern {
		slot, err := scheduling.ParsePatternSlot(p.Weekday, p.StartTime)
		if err != nil {
			return scheduling.CreateBatchInput{}, err
		}
		pattern = append(pattern, slot)
	}

	return scheduling.CreateBatchInput{
		CourseID:       req.CourseID,
		Label:          utils.SanitizeString(req.Label),
		StartAt:        start,
		Timezone:       tz,
		TutorID:        req.TutorID,
		MaxStudents:    req.MaxStudents,
		TargetSessions: req.TargetSessions,
		SkipHolidays:   req.SkipHolidays,
		Pattern:        pattern,
	}, nil
}

// CreateBatch creates a batch and generates its sessions (admin only)
func (bc *BatchController) CreateBatch(c *fiber.Ctx) error {
	in, err := bc.toInput(c)
	if err != nil {
		return respondError(c, err)
	}

	plan, err := bc.Scheduler.CreateBatch(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "batches", plan.Batch.ID, fiber.Map{
		"course_id":    plan.Batch.CourseID,
		"batch_number": plan.Batch.BatchNumber,
		"sessions":     len(plan.Drafts),
		"warnings":     plan.Warnings(),
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Batch created successfully",
		"batch":    plan.Batch,
		"sessions": plan.Drafts,
		"warnings": plan.Warnings(),
	})
}

// PreviewBatch resolves session dates and conflict warnings without saving anything
func (bc *BatchController) PreviewBatch(c *fiber.Ctx) error {
	in, err := bc.toInput(c)
	if err != nil {
		return respondError(c, err)
	}

	plan, err := bc.Scheduler.PreviewBatch(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"batch":    plan.Batch,
		"sessions": plan.Drafts,
		"warnings": plan.Warnings(),
	})
}

// GetBatch returns a batch with its course and weekly slots
func (bc *BatchController) GetBatch(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}

	var batch models.Batch
	err := bc.DB.
		Preload("Course").
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&batch, id).Error
	if err != nil {
		return notFoundResponse(c, "Batch not found")
	}
	return c.JSON(fiber.Map{"batch": batch})
}

// GetBatchSessions lists a batch's sessions, optionally filtered by ?status=a,b
func (bc *BatchController) GetBatchSessions(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	batch, err := bc.Scheduler.Store().GetBatch(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	viewer := viewerOf(c)
	allowed, err := canViewBatch(bc.DB, viewer, batch.ID)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return forbidden(c, "You are not enrolled in this batch")
	}

	var filter scheduling.SessionFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.SessionStatus(strings.TrimSpace(s))
			if !status.Valid() {
				return badRequest(c, "Unknown session status "+string(status))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	sessions, err := bc.Scheduler.Store().FindBatchSessions(c.UserContext(), id, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"batch_id": id,
		"sessions": utils.ToSessionDTOs(sessions, viewer, batch.Location()),
		"total":    len(sessions),
	})
}

// GetBatchProgress recomputes progress from the batch's sessions
func (bc *BatchController) GetBatchProgress(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	progress, err := bc.Scheduler.ComputeProgress(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"progress": progress})
}

// UpdateBatchStatus pauses, resumes, completes or cancels a batch (admin only)
func (bc *BatchController) UpdateBatchStatus(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	var req UpdateBatchStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	batch, err := bc.Scheduler.UpdateBatchStatus(c.UserContext(), id, models.BatchStatus(req.Status))
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "batches", id, fiber.Map{"status": req.Status})
	return c.JSON(fiber.Map{
		"message": "Batch status updated",
		"batch":   batch,
	})
}

// ReactivateBatch reopens a completed batch from a session number (admin only)
func (bc *BatchController) ReactivateBatch(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	var req ReactivateBatchRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	batch, err := bc.Scheduler.ReactivateBatchFrom(c.UserContext(), id, req.ResumeFrom)
	if err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "REACTIVATE", "batches", id, fiber.Map{"resume_from": req.ResumeFrom})
	return c.JSON(fiber.Map{
		"message": "Batch reactivated",
		"batch":   batch,
	})
}
