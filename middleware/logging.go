package middleware

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"classflow_go/database"
	"classflow_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogsQueueKey is the sorted set holding cache keys of activity logs waiting to be flushed.
const LogsQueueKey = "logs:queue"

// activityLoggedKey marks a request whose handler already wrote its own audit entry.
const activityLoggedKey = "activity_logged"

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logrus.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// LogActivity records a user action. Entries go to Redis first and are flushed to
// the database by the log maintenance job; without Redis they are written directly.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	user, err := GetCurrentUser(c)
	if err != nil {
		user = &models.User{}
	}

	activityLog := models.ActivityLog{
		UserID:     user.ID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}
	activityLog.CreatedAt = time.Now().UTC()

	requestID := c.Get(fiber.HeaderXRequestID)
	if requestID == "" {
		requestID = c.GetRespHeader(fiber.HeaderXRequestID, uuid.NewString())
	}

	meta := map[string]interface{}{
		"details":        details,
		"integrity_hash": IntegrityHash(activityLog),
		"request_id":     requestID,
		"method":         c.Method(),
		"path":           c.Path(),
		"query":          string(c.Request().URI().QueryString()),
		"status_code":    c.Response().StatusCode(),
	}
	if raw, err := json.Marshal(meta); err == nil {
		activityLog.Details = raw
	}
	c.Locals(activityLoggedKey, true)

	go func(al models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()
		saveActivity(al)
	}(activityLog)
}

// saveActivity queues al in Redis, or writes it to the database when Redis is unavailable.
var saveActivity = func(al models.ActivityLog) {
	if err := cacheActivityLog(database.GetRedisClient(), al); err != nil {
		logrus.WithError(err).Debug("activity log not cached, saving directly to database")
		if database.DB == nil {
			logrus.Error("database.DB is nil; cannot save activity log")
			return
		}
		if dbErr := database.DB.Create(&al).Error; dbErr != nil {
			logrus.WithError(dbErr).Error("Failed to save activity log to database")
		}
	}
}

// IntegrityHash fingerprints the immutable fields of a log entry for tamper detection.
func IntegrityHash(log models.ActivityLog) string {
	data := fmt.Sprintf("%d:%s:%s:%d:%s:%s:%s",
		log.UserID,
		log.Action,
		log.Resource,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		log.CreatedAt.UTC().Format(time.RFC3339),
	)
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}

// cacheActivityLog stores activity log in Redis with 24-hour TTL
func cacheActivityLog(client *redis.Client, log models.ActivityLog) error {
	if client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	logData, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}

	cacheKey := fmt.Sprintf("log:%d:%s:%s", log.UserID, log.Action, uuid.NewString())
	if err := client.Set(ctx, cacheKey, logData, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to cache log: %w", err)
	}

	if err := client.ZAdd(ctx, LogsQueueKey, &redis.Z{
		Score:  float64(log.CreatedAt.Unix()),
		Member: cacheKey,
	}).Err(); err != nil {
		logrus.WithError(err).Error("Failed to add log to processing queue")
	}

	return nil
}

// LogActivityMiddleware logs mutating requests whose handlers did not call LogActivity
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}

		err := c.Next()
		if logged, _ := c.Locals(activityLoggedKey).(bool); logged {
			return err
		}

		action := activityAction(c.Method(), c.Path())
		if action == "" {
			return err
		}
		resource, _ := resourceFromPath(c.Path())

		var resourceID uint
		if id, parseErr := strconv.ParseUint(c.Params("id"), 10, 64); parseErr == nil {
			resourceID = uint(id)
		}

		if c.Response().StatusCode() < 400 {
			LogActivity(c, action, resource, resourceID, nil)
		}

		return err
	}
}

// activityAction maps a request onto an audit verb. Scheduling sub-actions such as
// /sessions/:id/cancel keep their own name.
func activityAction(method, path string) string {
	switch method {
	case fiber.MethodPost:
		if _, sub := resourceFromPath(path); sub != "" {
			return strings.ToUpper(strings.ReplaceAll(sub, "/", "_"))
		}
		return "CREATE"
	case fiber.MethodPut, fiber.MethodPatch:
		return "UPDATE"
	case fiber.MethodDelete:
		return "DELETE"
	}
	return ""
}

// resourceFromPath splits /api/<resource>/<id>/<sub...> into resource and sub-path.
func resourceFromPath(path string) (resource, sub string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		resource = parts[1]
	}
	if len(parts) >= 4 {
		sub = strings.Join(parts[3:], "/")
	}
	return resource, sub
}
