package scheduling

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler generates batch sessions and applies lifecycle transitions through a Store.
type Scheduler struct {
	store    Store
	window   ConflictWindow
	hours    BusinessHours
	holidays HolidayCalendar
	locker   TutorLocker
	now      func() time.Time
	log      *logrus.Entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithConflictWindow(w ConflictWindow) Option {
	return func(s *Scheduler) { s.window = w }
}

func WithBusinessHours(h BusinessHours) Option {
	return func(s *Scheduler) { s.hours = h }
}

// WithHolidayCalendar enables holiday skipping for batches that ask for it.
func WithHolidayCalendar(c HolidayCalendar) Option {
	return func(s *Scheduler) { s.holidays = c }
}

func WithTutorLocker(l TutorLocker) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithClock overrides time.Now, used when completing a batch.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Scheduler) { s.log = l }
}

func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		window: DefaultConflictWindow(),
		hours:  DefaultBusinessHours(),
		locker: noopLocker{},
		now:    time.Now,
		log:    logrus.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying persistence, mainly for read-only listings.
func (s *Scheduler) Store() Store { return s.store }

func (s *Scheduler) BusinessHours() BusinessHours { return s.hours }

func (s *Scheduler) checker(r SessionReader) *ConflictChecker {
	return NewConflictChecker(r, s.window)
}

// lockTutors acquires the tutor locks in order and returns a single release func.
func (s *Scheduler) lockTutors(ctx context.Context, tutorIDs ...uint) (func(), error) {
	var releases []func()
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	seen := make(map[uint]bool, len(tutorIDs))
	for _, id := range tutorIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		unlock, err := s.locker.LockTutor(ctx, id)
		if err != nil {
			release()
			return nil, err
		}
		releases = append(releases, unlock)
	}
	return release, nil
}

// holidaySet loads holidays covering the search horizon after start.
func (s *Scheduler) holidaySet(ctx context.Context, start time.Time, enabled bool) (HolidaySet, error) {
	if !enabled || s.holidays == nil {
		return nil, nil
	}
	dates, err := s.holidays.Holidays(ctx, start, start.AddDate(0, 0, SearchHorizonDays+1))
	if err != nil {
		return nil, err
	}
	return NewHolidaySet(dates), nil
}
