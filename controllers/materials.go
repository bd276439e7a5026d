package controllers

import (
	"fmt"
	"strings"

	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/storage"
	"classflow_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type MaterialController struct {
	DB                *gorm.DB
	Storage           *storage.StorageService
	MaxFileSize       int64
	AllowedExtensions []string
}

// UploadMaterial stores a file for a batch in S3 (tutor+)
// Multipart form: file, title
func (mc *MaterialController) UploadMaterial(c *fiber.Ctx) error {
	batchID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	var batch models.Batch
	if err := mc.DB.WithContext(c.UserContext()).First(&batch, batchID).Error; err != nil {
		return notFoundResponse(c, "Batch not found")
	}
	if viewer := viewerOf(c); viewer.Role != models.RoleAdmin {
		teaches, err := teachesBatch(mc.DB.WithContext(c.UserContext()), viewer, &batch)
		if err != nil {
			return respondError(c, err)
		}
		if !teaches {
			return forbidden(c, "You are not assigned to this batch")
		}
	}
	if mc.Storage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "File storage is not configured",
			"code":  CodeInternal,
		})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if mc.MaxFileSize > 0 && fileHeader.Size > mc.MaxFileSize {
		return badRequest(c, fmt.Sprintf("file exceeds %d bytes", mc.MaxFileSize))
	}
	if len(mc.AllowedExtensions) > 0 && !utils.IsValidFileExtension(fileHeader.Filename, mc.AllowedExtensions) {
		return badRequest(c, "file type not allowed, expected one of "+strings.Join(mc.AllowedExtensions, ", "))
	}

	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}

	obj, err := mc.Storage.UploadFile(c.UserContext(), fileHeader, "materials", batchID)
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batchID).Error("Material upload failed")
		return respondError(c, err)
	}

	title := utils.SanitizeString(c.FormValue("title"))
	if title == "" {
		title = fileHeader.Filename
	}
	material := models.BatchMaterial{
		BatchID:      batchID,
		Title:        title,
		URL:          obj.URL,
		S3Key:        obj.Key,
		ContentType:  obj.ContentType,
		SizeBytes:    obj.Size,
		UploadedByID: user.ID,
	}
	if err := mc.DB.WithContext(c.UserContext()).Create(&material).Error; err != nil {
		if delErr := mc.Storage.DeleteFile(c.UserContext(), obj.URL); delErr != nil {
			logrus.WithError(delErr).WithField("key", obj.Key).Warn("Failed to remove orphaned material")
		}
		return respondError(c, err)
	}

	middleware.LogActivity(c, "UPLOAD", "batches", batchID, fiber.Map{"material_id": material.ID, "title": title})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Material uploaded",
		"material": material,
	})
}

// GetMaterials lists a batch's materials
func (mc *MaterialController) GetMaterials(c *fiber.Ctx) error {
	batchID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	allowed, err := canViewBatch(mc.DB.WithContext(c.UserContext()), viewerOf(c), batchID)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return forbidden(c, "You are not enrolled in this batch")
	}
	var materials []models.BatchMaterial
	if err := mc.DB.WithContext(c.UserContext()).Where("batch_id = ?", batchID).Order("created_at DESC").Find(&materials).Error; err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"materials": materials,
		"total":     len(materials),
	})
}

// DeleteMaterial removes a material and its stored object (admin only)
func (mc *MaterialController) DeleteMaterial(c *fiber.Ctx) error {
	batchID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid batch ID")
	}
	materialID, ok := paramID(c, "materialId")
	if !ok {
		return badRequest(c, "Invalid material ID")
	}

	var material models.BatchMaterial
	if err := mc.DB.WithContext(c.UserContext()).Where("batch_id = ?", batchID).First(&material, materialID).Error; err != nil {
		return notFoundResponse(c, "Material not found")
	}
	if mc.Storage != nil {
		if err := mc.Storage.DeleteFile(c.UserContext(), material.URL); err != nil {
			logrus.WithError(err).WithField("key", material.S3Key).Warn("Failed to delete material object")
		}
	}
	if err := mc.DB.WithContext(c.UserContext()).Delete(&material).Error; err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "batches", batchID, fiber.Map{"material_id": material.ID})
	return c.JSON(fiber.Map{"message": "Material deleted"})
}
