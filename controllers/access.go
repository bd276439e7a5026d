package controllers

import (
	"classflow_go/models"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error": message,
		"code":  CodeForbidden,
	})
}

// teachesSession reports whether viewer is the session's tutor or the tutor of its batch.
func teachesSession(viewer utils.Viewer, sess *models.Session, batch *models.Batch) bool {
	if sess.TutorID != nil && *sess.TutorID == viewer.UserID {
		return true
	}
	return batch.TutorID != nil && *batch.TutorID == viewer.UserID
}

// teachesBatch is true for the batch tutor and for any tutor holding one of its sessions.
func teachesBatch(db *gorm.DB, viewer utils.Viewer, batch *models.Batch) (bool, error) {
	if batch.TutorID != nil && *batch.TutorID == viewer.UserID {
		return true, nil
	}
	var n int64
	err := db.Model(&models.Session{}).
		Where("batch_id = ? AND tutor_id = ?", batch.ID, viewer.UserID).
		Count(&n).Error
	return n > 0, err
}

// enrolledIn is true when studentID has an enrollment in batchID, whatever its status.
func enrolledIn(db *gorm.DB, batchID, studentID uint) (bool, error) {
	var n int64
	err := db.Model(&models.Enrollment{}).
		Where("batch_id = ? AND student_id = ?", batchID, studentID).
		Count(&n).Error
	return n > 0, err
}

// canViewBatch limits students to batches they are enrolled in.
func canViewBatch(db *gorm.DB, viewer utils.Viewer, batchID uint) (bool, error) {
	if viewer.Role != models.RoleStudent {
		return true, nil
	}
	return enrolledIn(db, batchID, viewer.UserID)
}
