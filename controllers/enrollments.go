package controllers

import (
	"errors"

	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/services/scheduling"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type EnrollmentController struct {
	DB *gorm.DB
}

type EnrollRequest struct {
	StudentIDs []uint `json:"student_ids" validate:"required,min=1,dive,required"`
}

var errBatchFull = errors.New("batch is full")

// AddEnrollments enrolls students into a batch up to its capacity (admin only)
func (ec *EnrollmentController) AddEnrollments(c *fiber.Ctx) error {
	batchID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	var req EnrollRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	var created []models.Enrollment
	err := ec.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		var batch models.Batch
		if err := tx.First(&batch, batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return scheduling.ErrNotFound
			}
			return err
		}
		if batch.Status == models.BatchCancelled || batch.Status == models.BatchCompleted {
			return invalid("batch is " + string(batch.Status))
		}

		var students []models.User
		if err := tx.Where("id IN ? AND role = ? AND status = ?", req.StudentIDs, models.RoleStudent, "active").
			Find(&students).Error; err != nil {
			return err
		}
		if len(students) != len(uniqueIDs(req.StudentIDs)) {
			return invalid("student_ids must reference active students")
		}

		var active int64
		if err := tx.Model(&models.Enrollment{}).
			Where("batch_id = ? AND status = ?", batchID, models.EnrollmentActive).
			Count(&active).Error; err != nil {
			return err
		}

		for _, s := range students {
			var existing models.Enrollment
			err := tx.Unscoped().Where("batch_id = ? AND student_id = ?", batchID, s.ID).First(&existing).Error
			switch {
			case err == nil && existing.Status == models.EnrollmentActive && !existing.DeletedAt.Valid:
				continue
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
			if batch.MaxStudents > 0 && int(active) >= batch.MaxStudents {
				return errBatchFull
			}

			if err == nil {
				// Re-activate a dropped or soft-deleted enrollment instead of violating the unique index.
				if err := tx.Unscoped().Model(&existing).Updates(map[string]interface{}{
					"status":     models.EnrollmentActive,
					"deleted_at": nil,
				}).Error; err != nil {
					return err
				}
				existing.Status = models.EnrollmentActive
				existing.Student = s
				created = append(created, existing)
			} else {
				e := models.Enrollment{BatchID: batchID, StudentID: s.ID, Status: models.EnrollmentActive}
				if err := tx.Create(&e).Error; err != nil {
					return err
				}
				e.Student = s
				created = append(created, e)
			}
			active++
		}
		return nil
	})
	if errors.Is(err, errBatchFull) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Batch has reached max_students",
			"code":  "batch_full",
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	viewer := viewerOf(c)
	out := make([]utils.EnrollmentDTO, 0, len(created))
	for _, e := range created {
		out = append(out, utils.ToEnrollmentDTO(e, viewer))
	}

	middleware.LogActivity(c, "ENROLL", "batches", batchID, fiber.Map{"students": req.StudentIDs, "added": len(created)})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Students enrolled",
		"enrollments": out,
	})
}

// GetEnrollments lists a batch's enrollments, active only unless ?all=true (tutor+)
func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	batchID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}

	query := ec.DB.WithContext(c.UserContext()).Preload("Student").Where("batch_id = ?", batchID)
	if !c.QueryBool("all") {
		query = query.Where("status = ?", models.EnrollmentActive)
	}
	var enrollments []models.Enrollment
	if err := query.Order("id ASC").Find(&enrollments).Error; err != nil {
		return respondError(c, err)
	}

	viewer := viewerOf(c)
	out := make([]utils.EnrollmentDTO, len(enrollments))
	for i, e := range enrollments {
		out[i] = utils.ToEnrollmentDTO(e, viewer)
	}
	return c.JSON(fiber.Map{
		"enrollments": out,
		"total":       len(out),
	})
}

func uniqueIDs(ids []uint) map[uint]bool {
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
