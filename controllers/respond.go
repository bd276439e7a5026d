package controllers

import (
	"errors"
	"fmt"
	"strings"

	"classflow_go/repository"
	"classflow_go/services/scheduling"
	"classflow_go/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeUnsatisfiable     = "schedule_unsatisfiable"
	CodeConflict          = "scheduling_conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeInvalidInput      = "invalid_input"
	CodeInternal          = "internal_error"
	CodeTutorBusy         = "tutor_busy"
	CodeForbidden         = "forbidden"
)

var validate = validator.New()

// invalid wraps msg so respondError renders it as a 400.
func invalid(msg string) error {
	return fmt.Errorf("%w: %s", scheduling.ErrInvalidInput, msg)
}

// parseBody decodes the JSON body into req and runs struct validation.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return invalid("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return invalid(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  CodeInvalidInput,
	})
}

func notFoundResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": message,
		"code":  CodeNotFound,
	})
}

// paramID reads a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	return utils.ParseID(c.Params(name))
}

// respondError maps scheduling errors onto HTTP statuses. Each failure kind keeps its own code.
func respondError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status >= fiber.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).WithError(err).Error("request failed")
	}
	return c.Status(status).JSON(body)
}

func errorBody(err error) (int, fiber.Map) {
	var (
		unsat      *scheduling.UnsatisfiableError
		conflict   *scheduling.ConflictError
		transition *scheduling.TransitionError
	)
	switch {
	case errors.As(err, &unsat):
		return fiber.StatusUnprocessableEntity, fiber.Map{
			"error":        err.Error(),
			"code":         CodeUnsatisfiable,
			"placed":       unsat.Placed,
			"target":       unsat.Target,
			"horizon_days": unsat.HorizonDays,
		}
	case errors.As(err, &conflict):
		return fiber.StatusConflict, fiber.Map{
			"error":                   err.Error(),
			"code":                    CodeConflict,
			"tutor_id":                conflict.TutorID,
			"conflicting_session_ids": conflict.ConflictingIDs(),
		}
	case errors.As(err, &transition):
		return fiber.StatusConflict, fiber.Map{
			"error": err.Error(),
			"code":  CodeInvalidTransition,
			"from":  transition.From,
		}
	case errors.Is(err, scheduling.ErrScheduleUnsatisfiable):
		return fiber.StatusUnprocessableEntity, fiber.Map{"error": err.Error(), "code": CodeUnsatisfiable}
	case errors.Is(err, scheduling.ErrSchedulingConflict):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": CodeConflict}
	case errors.Is(err, scheduling.ErrInvalidTransition):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": CodeInvalidTransition}
	case errors.Is(err, repository.ErrTutorBusy):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": CodeTutorBusy}
	case errors.Is(err, scheduling.ErrNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": err.Error(), "code": CodeNotFound}
	case errors.Is(err, scheduling.ErrInvalidInput):
		return fiber.StatusBadRequest, fiber.Map{"error": err.Error(), "code": CodeInvalidInput}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		body := fiber.Map{"error": fe.Message}
		if fe.Code == fiber.StatusForbidden {
			body["code"] = CodeForbidden
		}
		return fe.Code, body
	}
	return fiber.StatusInternalServerError, fiber.Map{"error": "Internal Server Error", "code": CodeInternal}
}
