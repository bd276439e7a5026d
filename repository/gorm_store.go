package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classflow_go/models"
	"classflow_go/services/scheduling"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements scheduling.Store on top of gorm.
type GormStore struct {
	db      *gorm.DB
	inTx    bool
	locking bool
}

// NewGormStore wraps db. Row locks are skipped on sqlite, which has no SELECT ... FOR UPDATE.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, locking: db.Dialector.Name() != "sqlite"}
}

var _ scheduling.Store = (*GormStore)(nil)

func notFound(err error, kind string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", kind, id, scheduling.ErrNotFound)
	}
	return err
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// forUpdate adds a row lock when running inside a transaction on a driver that supports it.
func (s *GormStore) forUpdate(q *gorm.DB) *gorm.DB {
	if s.inTx && s.locking {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func applyFilter(q *gorm.DB, f scheduling.SessionFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.MinNumber > 0 {
		q = q.Where("session_number >= ?", f.MinNumber)
	}
	if len(f.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", f.ExcludeIDs)
	}
	return q
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx scheduling.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true, locking: s.locking})
	})
}

func (s *GormStore) GetCourse(ctx context.Context, id uint) (*models.Course, error) {
	var course models.Course
	err := s.conn(ctx).
		Preload("Curriculum", func(db *gorm.DB) *gorm.DB { return db.Order("session_number ASC") }).
		First(&course, id).Error
	if err != nil {
		return nil, notFound(err, "course", id)
	}
	return &course, nil
}

// NextBatchNumber locks the course row so concurrent batch creation for the same
// course is serialised, then returns max+1. Soft-deleted batches keep their number.
func (s *GormStore) NextBatchNumber(ctx context.Context, courseID uint) (int, error) {
	var course models.Course
	if err := s.forUpdate(s.conn(ctx).Select("id")).First(&course, courseID).Error; err != nil {
		return 0, notFound(err, "course", courseID)
	}
	var highest int
	err := s.conn(ctx).Unscoped().Model(&models.Batch{}).
		Where("course_id = ?", courseID).
		Select("COALESCE(MAX(batch_number), 0)").
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func (s *GormStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	batch.StartAt = batch.StartAt.UTC()
	return s.conn(ctx).Omit("Course", "Materials").Create(batch).Error
}

func (s *GormStore) GetBatch(ctx context.Context, id uint) (*models.Batch, error) {
	var batch models.Batch
	err := s.forUpdate(s.conn(ctx)).
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&batch, id).Error
	if err != nil {
		return nil, notFound(err, "batch", id)
	}
	return &batch, nil
}

func (s *GormStore) FindBatches(ctx context.Context, statuses ...models.BatchStatus) ([]models.Batch, error) {
	var batches []models.Batch
	q := s.conn(ctx).Order("id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Find(&batches).Error
	return batches, err
}

func (s *GormStore) UpdateBatch(ctx context.Context, batch *models.Batch, fields ...string) error {
	q := s.conn(ctx).Model(batch).Omit(clause.Associations)
	if len(fields) > 0 {
		q = q.Select(fields)
	}
	return q.Updates(batch).Error
}

func (s *GormStore) CreateSessions(ctx context.Context, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	for i := range sessions {
		sessions[i].ScheduledAt = sessions[i].ScheduledAt.UTC()
	}
	return s.conn(ctx).Create(&sessions).Error
}

func (s *GormStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	if err := s.forUpdate(s.conn(ctx)).First(&session, id).Error; err != nil {
		return nil, notFound(err, "session", id)
	}
	return &session, nil
}

func (s *GormStore) FindBatchSessions(ctx context.Context, batchID uint, filter scheduling.SessionFilter) ([]models.Session, error) {
	var sessions []models.Session
	q := applyFilter(s.conn(ctx).Where("batch_id = ?", batchID), filter)
	err := q.Order("session_number ASC").Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) FindTutorSessions(ctx context.Context, tutorID uint, from, to time.Time, filter scheduling.SessionFilter) ([]models.Session, error) {
	var sessions []models.Session
	q := s.conn(ctx).Where("tutor_id = ? AND scheduled_at BETWEEN ? AND ?", tutorID, from.UTC(), to.UTC())
	err := applyFilter(q, filter).Order("scheduled_at ASC").Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) UpdateSession(ctx context.Context, session *models.Session, fields ...string) error {
	session.ScheduledAt = session.ScheduledAt.UTC()
	q := s.conn(ctx).Model(session)
	if len(fields) > 0 {
		q = q.Select(fields)
	}
	return q.Updates(session).Error
}
