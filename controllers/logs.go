package controllers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"classflow_go/models"
	"classflow_go/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type LogController struct {
	DB      *gorm.DB
	Archive *services.LogArchiveService
}

// LogResponse represents a log entry response
type LogResponse struct {
	ID         uint                   `json:"id"`
	UserID     uint                   `json:"user_id"`
	Username   string                 `json:"username,omitempty"`
	UserRole   string                 `json:"user_role,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID uint                   `json:"resource_id"`
	Details    map[string]interface{} `json:"details"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  string                 `json:"user_agent"`
	CreatedAt  time.Time              `json:"created_at"`
}

type LogsStatsResponse struct {
	Total             int64            `json:"total"`
	TotalToday        int64            `json:"total_today"`
	TotalThisWeek     int64            `json:"total_this_week"`
	ActionBreakdown   map[string]int64 `json:"action_breakdown"`
	ResourceBreakdown map[string]int64 `json:"resource_breakdown"`
}

type logRow struct {
	models.ActivityLog
	Username string
	UserRole string
}

func (r logRow) response() LogResponse {
	out := LogResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		Username:   r.Username,
		UserRole:   r.UserRole,
		Action:     r.Action,
		Resource:   r.Resource,
		ResourceID: r.ResourceID,
		IPAddress:  r.IPAddress,
		UserAgent:  r.UserAgent,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Details) > 0 {
		var details map[string]interface{}
		if err := json.Unmarshal(r.Details, &details); err == nil {
			out.Details = details
		}
	}
	return out
}

func (lc *LogController) baseQuery(c *fiber.Ctx) *gorm.DB {
	query := lc.DB.WithContext(c.UserContext()).
		Table("activity_logs").
		Select("activity_logs.*, users.username AS username, users.role AS user_role").
		Joins("LEFT JOIN users ON users.id = activity_logs.user_id").
		Where("activity_logs.deleted_at IS NULL")

	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("activity_logs.user_id = ?", userID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("activity_logs.action = ?", action)
	}
	if resource := c.Query("resource"); resource != "" {
		query = query.Where("activity_logs.resource = ?", resource)
	}
	if startDate := c.Query("start_date"); startDate != "" {
		if parsedDate, err := time.Parse("2006-01-02", startDate); err == nil {
			query = query.Where("activity_logs.created_at >= ?", parsedDate)
		}
	}
	if endDate := c.Query("end_date"); endDate != "" {
		if parsedDate, err := time.Parse("2006-01-02", endDate); err == nil {
			query = query.Where("activity_logs.created_at < ?", parsedDate.Add(24*time.Hour))
		}
	}
	return query
}

// GetLogs retrieves paginated activity logs with filters (admin only)
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	var total int64
	if err := lc.baseQuery(c).Count(&total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count logs")
		return respondError(c, err)
	}

	var rows []logRow
	if err := lc.baseQuery(c).
		Order("activity_logs.created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Scan(&rows).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve logs")
		return respondError(c, err)
	}

	logs := make([]LogResponse, len(rows))
	for i, r := range rows {
		logs[i] = r.response()
	}

	return c.JSON(fiber.Map{
		"logs":        logs,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

// GetLog retrieves a single log entry by ID
func (lc *LogController) GetLog(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid log ID")
	}

	var rows []logRow
	if err := lc.baseQuery(c).Where("activity_logs.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return respondError(c, err)
	}
	if len(rows) == 0 {
		return notFoundResponse(c, "Log not found")
	}
	return c.JSON(rows[0].response())
}

// GetLogStats summarises activity volume (admin only)
func (lc *LogController) GetLogStats(c *fiber.Ctx) error {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	thisWeek := today.AddDate(0, 0, -int(today.Weekday()))

	stats := LogsStatsResponse{
		ActionBreakdown:   make(map[string]int64),
		ResourceBreakdown: make(map[string]int64),
	}
	db := lc.DB.WithContext(c.UserContext()).Model(&models.ActivityLog{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return respondError(c, err)
	}
	db.Session(&gorm.Session{}).Where("created_at >= ?", today).Count(&stats.TotalToday)
	db.Session(&gorm.Session{}).Where("created_at >= ?", thisWeek).Count(&stats.TotalThisWeek)

	var breakdown []struct {
		Label string
		Count int64
	}
	db.Session(&gorm.Session{}).Select("action AS label, COUNT(*) AS count").Group("action").Scan(&breakdown)
	for _, b := range breakdown {
		stats.ActionBreakdown[b.Label] = b.Count
	}
	breakdown = nil
	db.Session(&gorm.Session{}).Select("resource AS label, COUNT(*) AS count").Group("resource").Scan(&breakdown)
	for _, b := range breakdown {
		stats.ResourceBreakdown[b.Label] = b.Count
	}

	return c.JSON(stats)
}

// ExportLogs exports logs to CSV format (admin only)
func (lc *LogController) ExportLogs(c *fiber.Ctx) error {
	var rows []logRow
	if err := lc.baseQuery(c).Order("activity_logs.created_at DESC").Scan(&rows).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve logs for export")
		return respondError(c, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"ID", "User ID", "Username", "Role", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.FormatUint(uint64(r.ID), 10),
			strconv.FormatUint(uint64(r.UserID), 10),
			r.Username,
			r.UserRole,
			r.Action,
			r.Resource,
			strconv.FormatUint(uint64(r.ResourceID), 10),
			r.IPAddress,
			r.UserAgent,
			r.CreatedAt.UTC().Format(time.RFC3339),
			string(r.Details),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, "attachment; filename=activity_logs.csv")
	return c.Send(buf.Bytes())
}

// FlushCachedLogs manually flushes queued logs from Redis to the database (admin only)
func (lc *LogController) FlushCachedLogs(c *fiber.Ctx) error {
	processed, err := lc.Archive.FlushCachedLogsToDatabase(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":         "Cached logs flushing completed",
		"processed_count": processed,
	})
}

// ArchiveLogs archives logs older than ?days (default 30) to object storage (admin only)
func (lc *LogController) ArchiveLogs(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < services.MinArchiveAgeDays {
		return badRequest(c, "days must be at least "+strconv.Itoa(services.MinArchiveAgeDays))
	}

	archive, err := lc.Archive.ArchiveOldLogs(c.UserContext(), days)
	if err != nil {
		logrus.WithError(err).Error("Failed to archive logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to archive logs",
			"code":    CodeInternal,
			"archive": archive,
		})
	}
	if archive == nil {
		return c.JSON(fiber.Map{"message": "No logs to archive"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Logs archived",
		"archive": archive,
	})
}

// GetArchives lists archived log files (admin only)
func (lc *LogController) GetArchives(c *fiber.Ctx) error {
	archives, err := lc.Archive.GetArchivedLogs(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"archives": archives,
		"total":    len(archives),
	})
}

// DownloadArchive streams an archived ZIP file (admin only)
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid archive ID")
	}

	reader, fileName, err := lc.Archive.DownloadArchivedLogs(c.UserContext(), id)
	if errors.Is(err, services.ErrArchiveNotFound) {
		return notFoundResponse(c, "Archive not found")
	}
	if err != nil {
		return respondError(c, err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+fileName)
	return c.Send(body)
}
