package controllers

import (
	"strings"
	"time"

	"classflow_go/models"
	"classflow_go/services/scheduling"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
)

type TutorController struct {
	Scheduler       *scheduling.Scheduler
	DefaultTimezone string
}

// GetTutorSessions lists a tutor's sessions between ?from and ?to (default: the next 7 days).
// Tutors may only read their own calendar.
func (tc *TutorController) GetTutorSessions(c *fiber.Ctx) error {
	tutorID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid tutor ID")
	}
	viewer := viewerOf(c)
	if viewer.Role != models.RoleAdmin && viewer.UserID != tutorID {
		return forbidden(c, "Insufficient permissions")
	}

	loc := time.UTC
	if tz := c.Query("timezone", tc.DefaultTimezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return badRequest(c, "unknown timezone "+tz)
		}
		loc = l
	}

	from := time.Now().In(loc)
	to := from.AddDate(0, 0, 7)
	if raw := c.Query("from"); raw != "" {
		t, err := parseInstant(raw, loc)
		if err != nil {
			return respondError(c, err)
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseInstant(raw, loc)
		if err != nil {
			return respondError(c, err)
		}
		to = t
	}
	if to.Before(from) {
		return badRequest(c, "to must not be before from")
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

	sessions, err := tc.Scheduler.Store().FindTutorSessions(c.UserContext(), tutorID, from, to, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"tutor_id": tutorID,
		"from":     from,
		"to":       to,
		"sessions": utils.ToSessionDTOs(sessions, viewer, loc),
		"total":    len(sessions),
	})
}
