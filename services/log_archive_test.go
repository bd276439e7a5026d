package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memArchiveStore struct {
	objects map[string][]byte
	failPut bool
}

func (m *memArchiveStore) Put(_ context.Context, key string, body []byte) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memArchiveStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func openLogDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ActivityLog{}, &models.LogArchive{}))
	return db
}

func TestArchiveOldLogs(t *testing.T) {
	db := openLogDB(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	admin := models.User{Username: "admin", Password: "x", Email: "a@example.com", Role: models.RoleAdmin}
	require.NoError(t, db.Create(&admin).Error)

	old := models.ActivityLog{UserID: admin.ID, Action: "CANCEL", Resource: "sessions", ResourceID: 3, Details: datatypes.JSON(`{"reason":"flood"}`)}
	old.CreatedAt = now.AddDate(0, 0, -40)
	recent := models.ActivityLog{UserID: admin.ID, Action: "CREATE", Resource: "batches"}
	recent.CreatedAt = now.AddDate(0, 0, -2)
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)

	store := &memArchiveStore{objects: map[string][]byte{}}
	svc := NewLogArchiveService(db, nil, store)
	svc.now = func() time.Time { return now }

	_, err := svc.ArchiveOldLogs(context.Background(), 3)
	require.Error(t, err)

	archive, err := svc.ArchiveOldLogs(context.Background(), 30)
	require.NoError(t, err)
	require.NotNil(t, archive)
	assert.Equal(t, "completed", archive.Status)
	assert.Equal(t, 1, archive.RecordCount)
	assert.Equal(t, "logs/archived/2024/05/activity_logs_2024-05-02.zip", archive.S3Key)

	var remaining int64
	require.NoError(t, db.Model(&models.ActivityLog{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	body := store.objects[archive.S3Key]
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	names := []string{}
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"activity_logs.json", "metadata.json", "activity_logs.csv"}, names)

	reader, name, err := svc.DownloadArchivedLogs(context.Background(), archive.ID)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, archive.FileName, name)

	_, _, err = svc.DownloadArchivedLogs(context.Background(), 999)
	assert.ErrorIs(t, err, ErrArchiveNotFound)

	again, err := svc.ArchiveOldLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestArchiveOldLogsKeepsRowsWhenUploadFails(t *testing.T) {
	db := openLogDB(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := models.ActivityLog{Action: "UPDATE", Resource: "batches"}
	entry.CreatedAt = now.AddDate(0, -3, 0)
	require.NoError(t, db.Create(&entry).Error)

	svc := NewLogArchiveService(db, nil, &memArchiveStore{objects: map[string][]byte{}, failPut: true})
	svc.now = func() time.Time { return now }

	archive, err := svc.ArchiveOldLogs(context.Background(), 30)
	require.Error(t, err)
	require.NotNil(t, archive)
	assert.Equal(t, "failed", archive.Status)

	var count int64
	require.NoError(t, db.Model(&models.ActivityLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFlushWithoutRedisIsNoop(t *testing.T) {
	svc := NewLogArchiveService(openLogDB(t), nil, nil)
	n, err := svc.FlushCachedLogsToDatabase(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
