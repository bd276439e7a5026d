package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory Store. Transactions snapshot the maps and restore them on error.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID   uint
	courses  map[uint]models.Course
	batches  map[uint]models.Batch
	sessions map[uint]models.Session

	failCreateSessions bool
}

func newMemStore() *memStore {
	return &memStore{
		courses:  map[uint]models.Course{},
		batches:  map[uint]models.Batch{},
		sessions: map[uint]models.Session{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) snapshot() (map[uint]models.Course, map[uint]models.Batch, map[uint]models.Session, uint) {
	c := make(map[uint]models.Course, len(m.courses))
	for k, v := range m.courses {
		c[k] = v
	}
	b := make(map[uint]models.Batch, len(m.batches))
	for k, v := range m.batches {
		v.Slots = append([]models.BatchSlot(nil), v.Slots...)
		b[k] = v
	}
	s := make(map[uint]models.Session, len(m.sessions))
	for k, v := range m.sessions {
		s[k] = v
	}
	return c, b, s, m.nextID
}

func (m *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	c, b, s, next := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.courses, m.batches, m.sessions, m.nextID = c, b, s, next
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetCourse(_ context.Context, id uint) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *memStore) NextBatchNumber(_ context.Context, courseID uint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[courseID]; !ok {
		return 0, fmt.Errorf("course %d: %w", courseID, ErrNotFound)
	}
	highest := 0
	for _, b := range m.batches {
		if b.CourseID == courseID && b.BatchNumber > highest {
			highest = b.BatchNumber
		}
	}
	return highest + 1, nil
}

func (m *memStore) CreateBatch(_ context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch.ID = m.id()
	for i := range batch.Slots {
		batch.Slots[i].ID = m.id()
		batch.Slots[i].BatchID = batch.ID
	}
	stored := *batch
	stored.Course = models.Course{}
	stored.Slots = append([]models.BatchSlot(nil), batch.Slots...)
	m.batches[batch.ID] = stored
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id uint) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	b.Slots = append([]models.BatchSlot(nil), b.Slots...)
	return &b, nil
}

func (m *memStore) FindBatches(_ context.Context, statuses ...models.BatchStatus) ([]models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Batch
	for _, b := range m.batches {
		for _, st := range statuses {
			if b.Status == st {
				out = append(out, b)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateBatch(_ context.Context, batch *models.Batch, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.batches[batch.ID]
	if !ok {
		return fmt.Errorf("batch %d: %w", batch.ID, ErrNotFound)
	}
	for _, f := range fields {
		switch f {
		case "status":
			stored.Status = batch.Status
		case "progress_current_session":
			stored.Progress.CurrentSession = batch.Progress.CurrentSession
		case "progress_completed_sessions":
			stored.Progress.CompletedSessions = batch.Progress.CompletedSessions
		case "progress_total_sessions":
			stored.Progress.TotalSessions = batch.Progress.TotalSessions
		default:
			return fmt.Errorf("memStore: unknown batch column %q", f)
		}
	}
	m.batches[batch.ID] = stored
	return nil
}

func (m *memStore) CreateSessions(_ context.Context, sessions []models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateSessions {
		return errInjected
	}
	for i := range sessions {
		for _, existing := range m.sessions {
			if existing.BatchID == sessions[i].BatchID && existing.SessionNumber == sessions[i].SessionNumber {
				return fmt.Errorf("duplicate session number %d in batch %d", sessions[i].SessionNumber, sessions[i].BatchID)
			}
		}
		sessions[i].ID = m.id()
		m.sessions[sessions[i].ID] = sessions[i]
	}
	return nil
}

func (m *memStore) GetSession(_ context.Context, id uint) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return &s, nil
}

func (m *memStore) FindBatchSessions(_ context.Context, batchID uint, filter SessionFilter) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		s := s
		if s.BatchID == batchID && filter.Matches(&s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionNumber < out[j].SessionNumber })
	return out, nil
}

func (m *memStore) FindTutorSessions(_ context.Context, tutorID uint, from, to time.Time, filter SessionFilter) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		s := s
		if s.TutorID == nil || *s.TutorID != tutorID {
			continue
		}
		if s.ScheduledAt.Before(from) || s.ScheduledAt.After(to) {
			continue
		}
		if filter.Matches(&s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memStore) UpdateSession(_ context.Context, session *models.Session, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session %d: %w", session.ID, ErrNotFound)
	}
	for _, f := range fields {
		switch f {
		case "status":
			stored.Status = session.Status
		case "attendance":
			stored.Attendance = session.Attendance
		case "notes":
			stored.Notes = session.Notes
		case "scheduled_at":
			stored.ScheduledAt = session.ScheduledAt
		case "tutor_id":
			stored.TutorID = session.TutorID
		default:
			return fmt.Errorf("memStore: unknown session column %q", f)
		}
	}
	m.sessions[session.ID] = stored
	return nil
}

// test helpers

func (m *memStore) addCourse(c models.Course) models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.courses[c.ID] = c
	return c
}

func (m *memStore) addSession(s models.Session) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.sessions[s.ID] = s
	return s
}

func (m *memStore) session(t *testing.T, id uint) models.Session {
	t.Helper()
	s, err := m.GetSession(context.Background(), id)
	require.NoError(t, err)
	return *s
}

func (m *memStore) batch(t *testing.T, id uint) models.Batch {
	t.Helper()
	b, err := m.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return *b
}

func (m *memStore) batchSessions(t *testing.T, batchID uint) []models.Session {
	t.Helper()
	out, err := m.FindBatchSessions(context.Background(), batchID, SessionFilter{})
	require.NoError(t, err)
	return out
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches), len(m.sessions)
}

func uintPtr(v uint) *uint { return &v }

// fixed reference week: Monday 2024-01-01
var monday = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

func tueFri(hour int) Pattern {
	return Pattern{
		{Weekday: time.Tuesday, Hour: hour},
		{Weekday: time.Friday, Hour: hour},
	}
}

func newTestScheduler(store *memStore, opts ...Option) *Scheduler {
	base := []Option{WithClock(func() time.Time { return monday })}
	return NewScheduler(store, append(base, opts...)...)
}

// seedBatch creates a course of n sessions and a Tue/Fri 18:00 batch for tutor.
func seedBatch(t *testing.T, store *memStore, sched *Scheduler, n int, tutor uint) *BatchPlan {
	t.Helper()
	course := store.addCourse(models.Course{Name: "English A1", TotalSessions: n, SessionDurationMinutes: 60})
	var tutorID *uint
	if tutor != 0 {
		tutorID = uintPtr(tutor)
	}
	plan, err := sched.CreateBatch(context.Background(), CreateBatchInput{
		CourseID: course.ID,
		Label:    "Evening",
		StartAt:  monday,
		Timezone: "UTC",
		TutorID:  tutorID,
		Pattern:  tueFri(18),
	})
	require.NoError(t, err)
	require.Len(t, plan.Drafts, n)
	return plan
}
