package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"classflow_go/middleware"
	"classflow_go/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MinArchiveAgeDays guards against archiving recent activity.
const MinArchiveAgeDays = 7

// ErrArchiveNotFound is returned when an archive id does not exist.
var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveStore persists finished archives. S3ArchiveStore is the production implementation.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3ArchiveStore writes archives with the aws-sdk-go-v2 S3 client.
type S3ArchiveStore struct {
	client *s3.Client
	bucket string
}

// NewS3ArchiveStore loads the default AWS config for region. It returns nil when
// no usable configuration is found.
func NewS3ArchiveStore(ctx context.Context, region, bucket string) *S3ArchiveStore {
	if region == "" || bucket == "" {
		return nil
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load AWS config; log archiving disabled")
		return nil
	}
	return &S3ArchiveStore{client: s3.NewFromConfig(cfg), bucket: bucket}
}

func (s *S3ArchiveStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zip"),
	})
	return err
}

func (s *S3ArchiveStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// LogArchiveService handles flushing cached logs and archiving old logs
type LogArchiveService struct {
	db          *gorm.DB
	redisClient *redis.Client
	store       ArchiveStore
	now         func() time.Time
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	Username   string         `json:"username,omitempty"`
	UserRole   string         `json:"user_role,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewLogArchiveService creates a new service instance. redisClient and store may be nil.
func NewLogArchiveService(db *gorm.DB, redisClient *redis.Client, store ArchiveStore) *LogArchiveService {
	return &LogArchiveService{db: db, redisClient: redisClient, store: store, now: time.Now}
}

// FlushCachedLogsToDatabase moves queued logs from Redis into the database.
func (las *LogArchiveService) FlushCachedLogsToDatabase(ctx context.Context) (int, error) {
	if las.redisClient == nil {
		return 0, nil
	}

	keys, err := las.redisClient.ZRangeByScore(ctx, middleware.LogsQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(las.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read log queue: %w", err)
	}

	var processed, failed int
	for _, key := range keys {
		raw, err := las.redisClient.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				las.redisClient.ZRem(ctx, middleware.LogsQueueKey, key)
			} else {
				failed++
			}
			continue
		}

		var entry models.ActivityLog
		if err := json.Unmarshal(raw, &entry); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to unmarshal cached log")
			failed++
			continue
		}
		entry.ID = 0
		if err := las.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to save cached log")
			failed++
			continue
		}

		pipe := las.redisClient.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, middleware.LogsQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to remove log from cache")
		}
		processed++
	}

	logrus.WithFields(logrus.Fields{"flushed": processed, "errors": failed}).Info("Flushed cached activity logs")
	return processed, nil
}

// ArchiveOldLogs zips logs older than daysOld, uploads them and deletes the rows.
func (las *LogArchiveService) ArchiveOldLogs(ctx context.Context, daysOld int) (*models.LogArchive, error) {
	if daysOld < MinArchiveAgeDays {
		return nil, fmt.Errorf("minimum archive age is %d days", MinArchiveAgeDays)
	}
	if las.store == nil {
		return nil, fmt.Errorf("archive storage not configured")
	}

	cutoff := las.now().UTC().AddDate(0, 0, -daysOld)
	logs, err := las.collect(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		logrus.Info("No logs to archive")
		return nil, nil
	}

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := createZipArchive(logs, fileName, las.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create ZIP archive: %w", err)
	}

	key := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	archive := models.LogArchive{
		FileName:    fileName,
		S3Key:       key,
		StartDate:   logs[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(logs),
		FileSize:    int64(buf.Len()),
		Status:      "pending",
	}

	if err := las.store.Put(ctx, key, buf.Bytes()); err != nil {
		archive.Status = "failed"
		archive.Error = err.Error()
		if dbErr := las.db.WithContext(ctx).Create(&archive).Error; dbErr != nil {
			logrus.WithError(dbErr).Error("Failed to save archive metadata")
		}
		return &archive, fmt.Errorf("failed to upload archive: %w", err)
	}

	err = las.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("created_at < ?", cutoff).Delete(&models.ActivityLog{}).Error; err != nil {
			return err
		}
		archive.Status = "completed"
		return tx.Create(&archive).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalise archive: %w", err)
	}

	logrus.WithFields(logrus.Fields{"key": key, "records": len(logs)}).Info("Archived activity logs")
	return &archive, nil
}

func (las *LogArchiveService) collect(ctx context.Context, cutoff time.Time) ([]ArchivedLog, error) {
	const batchSize = 1000
	var out []ArchivedLog
	users := map[uint]models.User{}

	for offset := 0; ; offset += batchSize {
		var rows []models.ActivityLog
		err := las.db.WithContext(ctx).
			Where("created_at < ?", cutoff).
			Order("created_at ASC, id ASC").
			Limit(batchSize).
			Offset(offset).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch logs for archiving: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		var missing []uint
		for _, r := range rows {
			if _, ok := users[r.UserID]; !ok && r.UserID != 0 {
				missing = append(missing, r.UserID)
				users[r.UserID] = models.User{}
			}
		}
		if len(missing) > 0 {
			var found []models.User
			if err := las.db.WithContext(ctx).Unscoped().Where("id IN ?", missing).Find(&found).Error; err != nil {
				return nil, err
			}
			for _, u := range found {
				users[u.ID] = u
			}
		}

		for _, r := range rows {
			entry := ArchivedLog{
				ID:         r.ID,
				UserID:     r.UserID,
				Action:     r.Action,
				Resource:   r.Resource,
				ResourceID: r.ResourceID,
				IPAddress:  r.IPAddress,
				UserAgent:  r.UserAgent,
				CreatedAt:  r.CreatedAt,
			}
			if len(r.Details) > 0 {
				var details map[string]any
				if json.Unmarshal(r.Details, &details) == nil {
					entry.Details = details
				}
			}
			if u := users[r.UserID]; u.ID > 0 {
				entry.Username = u.Username
				entry.UserRole = u.Role
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// createZipArchive bundles logs as JSON and CSV plus a metadata file.
func createZipArchive(logs []ArchivedLog, fileName string, exportedAt time.Time) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	logsFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(logsFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    exportedAt,
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode logs to JSON: %w", err)
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metaFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   exportedAt,
		"record_count": len(logs),
		"date_range": map[string]any{
			"start": logs[0].CreatedAt,
			"end":   logs[len(logs)-1].CreatedAt,
		},
		"schema_version": "1.0",
		"description":    "ClassFlow activity logs archive",
	}); err != nil {
		return nil, fmt.Errorf("failed to encode metadata to JSON: %w", err)
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(csvFile)
	_ = w.Write([]string{"ID", "User ID", "Username", "Role", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, l := range logs {
		details := ""
		if l.Details != nil {
			if b, err := json.Marshal(l.Details); err == nil {
				details = string(b)
			}
		}
		_ = w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.UserID), 10),
			l.Username,
			l.UserRole,
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ZIP writer: %w", err)
	}
	return buf, nil
}

// GetArchivedLogs retrieves list of archived log files
func (las *LogArchiveService) GetArchivedLogs(ctx context.Context) ([]models.LogArchive, error) {
	var archives []models.LogArchive
	if err := las.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve archived logs: %w", err)
	}
	return archives, nil
}

// DownloadArchivedLogs opens a stored archive.
func (las *LogArchiveService) DownloadArchivedLogs(ctx context.Context, archiveID uint) (io.ReadCloser, string, error) {
	var archive models.LogArchive
	if err := las.db.WithContext(ctx).First(&archive, archiveID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrArchiveNotFound
		}
		return nil, "", fmt.Errorf("failed to retrieve archive: %w", err)
	}
	if las.store == nil {
		return nil, "", fmt.Errorf("archive storage not configured")
	}
	reader, err := las.store.Get(ctx, archive.S3Key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive: %w", err)
	}
	return reader, archive.FileName, nil
}
