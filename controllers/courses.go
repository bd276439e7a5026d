package controllers

import (
	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CourseController struct {
	DB *gorm.DB
}

type CurriculumTopicRequest struct {
	SessionNumber int    `json:"session_number" validate:"required,min=1"`
	Topic         string `json:"topic" validate:"required,max=255"`
}

type CreateCourseRequest struct {
	Name                   string                   `json:"name" validate:"required,max=255"`
	Level                  string                   `json:"level" validate:"max=50"`
	TotalSessions          int                      `json:"total_sessions" validate:"required,min=1,max=500"`
	SessionDurationMinutes int                      `json:"session_duration_minutes" validate:"omitempty,min=15,max=480"`
	Curriculum             []CurriculumTopicRequest `json:"curriculum" validate:"dive"`
}

func preloadCurriculum(db *gorm.DB) *gorm.DB {
	return db.Order("session_number ASC")
}

// GetCourses returns all courses
func (cc *CourseController) GetCourses(c *fiber.Ctx) error {
	var courses []models.Course

	query := cc.DB.Model(&models.Course{})
	if level := c.Query("level"); level != "" {
		query = query.Where("level = ?", level)
	}
	if c.QueryBool("with_curriculum") {
		query = query.Preload("Curriculum", preloadCurriculum)
	}

	if err := query.Order("name ASC").Find(&courses).Error; err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"courses": courses,
		"total":   len(courses),
	})
}

// GetCourse returns a specific course with its curriculum
func (cc *CourseController) GetCourse(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid course ID")
	}

	var course models.Course
	if err := cc.DB.Preload("Curriculum", preloadCurriculum).First(&course, id).Error; err != nil {
		return notFoundResponse(c, "Course not found")
	}

	return c.JSON(fiber.Map{"course": course})
}

// CreateCourse creates a new course (admin only)
func (cc *CourseController) CreateCourse(c *fiber.Ctx) error {
	var req CreateCourseRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	seen := make(map[int]bool, len(req.Curriculum))
	course := models.Course{
		Name:                   utils.SanitizeString(req.Name),
		Level:                  req.Level,
		TotalSessions:          req.TotalSessions,
		SessionDurationMinutes: req.SessionDurationMinutes,
	}
	if course.SessionDurationMinutes == 0 {
		course.SessionDurationMinutes = 60
	}
	for _, t := range req.Curriculum {
		if seen[t.SessionNumber] {
			return badRequest(c, "Duplicate curriculum session number")
		}
		if t.SessionNumber > req.TotalSessions {
			return badRequest(c, "Curriculum session number exceeds total_sessions")
		}
		seen[t.SessionNumber] = true
		course.Curriculum = append(course.Curriculum, models.CurriculumTopic{
			SessionNumber: t.SessionNumber,
			Topic:         utils.SanitizeString(t.Topic),
		})
	}

	if err := cc.DB.Create(&course).Error; err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "courses", course.ID, fiber.Map{"name": course.Name})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Course created successfully",
		"course":  course,
	})
}
