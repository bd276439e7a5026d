package scheduling

import (
	"fmt"
	"sort"
	"time"

	"classflow_go/models"
)

// SearchHorizonDays bounds the day walk of the resolver.
const SearchHorizonDays = 365

const dateKeyLayout = "2006-01-02"

// PatternSlot is one (weekday, local time-of-day) entry of a weekly pattern.
type PatternSlot struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (p PatternSlot) String() string {
	return fmt.Sprintf("%s %02d:%02d", p.Weekday, p.Hour, p.Minute)
}

// Clock returns the slot time as "HH:MM".
func (p PatternSlot) Clock() string {
	return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute)
}

// Pattern is an ordered weekly recurrence. When two entries share a weekday the first one wins.
type Pattern []PatternSlot

// ParsePatternSlot builds a slot from a 0-6 weekday index (Sunday=0) and an "HH:MM" clock.
func ParsePatternSlot(weekday int, clock string) (PatternSlot, error) {
	if weekday < 0 || weekday > 6 {
		return PatternSlot{}, invalidInput("weekday %d out of range 0-6", weekday)
	}
	h, m, err := ParseHourMinute(clock)
	if err != nil {
		return PatternSlot{}, invalidInput("slot time: %v", err)
	}
	return PatternSlot{Weekday: time.Weekday(weekday), Hour: h, Minute: m}, nil
}

// Validate rejects empty patterns and out-of-range entries.
func (p Pattern) Validate() error {
	if len(p) == 0 {
		return invalidInput("pattern must contain at least one slot")
	}
	for i, s := range p {
		if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
			return invalidInput("pattern slot %d: weekday %d out of range", i, s.Weekday)
		}
		if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
			return invalidInput("pattern slot %d: invalid time %02d:%02d", i, s.Hour, s.Minute)
		}
	}
	return nil
}

func (p Pattern) slotFor(day time.Weekday) (PatternSlot, bool) {
	for _, s := range p {
		if s.Weekday == day {
			return s, true
		}
	}
	return PatternSlot{}, false
}

// PatternFromSlots rebuilds a pattern from persisted batch slots, ordered by position.
func PatternFromSlots(slots []models.BatchSlot) (Pattern, error) {
	ordered := make([]models.BatchSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	pattern := make(Pattern, 0, len(ordered))
	for _, s := range ordered {
		slot, err := ParsePatternSlot(s.Weekday, s.StartTime)
		if err != nil {
			return nil, err
		}
		pattern = append(pattern, slot)
	}
	return pattern, pattern.Validate()
}

// ToSlots converts the pattern into batch slot rows.
func (p Pattern) ToSlots() []models.BatchSlot {
	slots := make([]models.BatchSlot, 0, len(p))
	for i, s := range p {
		slots = append(slots, models.BatchSlot{
			Position:  i + 1,
			Weekday:   int(s.Weekday),
			StartTime: s.Clock(),
		})
	}
	return slots
}

// HolidaySet holds calendar dates (no time component) to skip.
type HolidaySet map[string]struct{}

// NewHolidaySet keys each date by its own calendar day.
func NewHolidaySet(dates []time.Time) HolidaySet {
	set := make(HolidaySet, len(dates))
	for _, d := range dates {
		set[d.Format(dateKeyLayout)] = struct{}{}
	}
	return set
}

// Contains reports whether t's calendar day, in t's location, is a holiday.
func (h HolidaySet) Contains(t time.Time) bool {
	if len(h) == 0 {
		return false
	}
	_, ok := h[t.Format(dateKeyLayout)]
	return ok
}

// ResolvedSlot is one concrete, numbered occurrence of the pattern.
type ResolvedSlot struct {
	SessionNumber int
	At            time.Time
}

type resolveOptions struct {
	holidays  HolidaySet
	exclusive bool
	horizon   int
}

// ResolveOption tweaks ResolveSessionDates.
type ResolveOption func(*resolveOptions)

// WithHolidays skips every date contained in set.
func WithHolidays(set HolidaySet) ResolveOption {
	return func(o *resolveOptions) { o.holidays = set }
}

// StrictlyAfter makes the start instant itself ineligible.
func StrictlyAfter() ResolveOption {
	return func(o *resolveOptions) { o.exclusive = true }
}

func buildResolveOptions(opts []ResolveOption) resolveOptions {
	o := resolveOptions{horizon: SearchHorizonDays}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// walkPattern visits candidate instants in chronological order, at most one per day,
// from start's calendar day through start+horizon days. It stops when visit returns false.
func walkPattern(start time.Time, pattern Pattern, o resolveOptions, visit func(at time.Time) bool) {
	loc := start.Location()
	y, m, d := start.Date()
	for offset := 0; offset <= o.horizon; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		slot, ok := pattern.slotFor(day.Weekday())
		if !ok {
			continue
		}
		at := time.Date(y, m, d+offset, slot.Hour, slot.Minute, 0, 0, loc)
		if at.Before(start) || (o.exclusive && at.Equal(start)) {
			continue
		}
		if o.holidays.Contains(at) {
			continue
		}
		if !visit(at) {
			return
		}
	}
}

// ResolveSessionDates walks forward day by day from start and returns target
// numbered instants matching the pattern. Times are built in start's location.
// When the horizon is exhausted first, the slots placed so far are returned
// together with an *UnsatisfiableError.
func ResolveSessionDates(start time.Time, pattern Pattern, target int, opts ...ResolveOption) ([]ResolvedSlot, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if target <= 0 {
		return nil, invalidInput("target session count must be positive, got %d", target)
	}

	o := buildResolveOptions(opts)
	slots := make([]ResolvedSlot, 0, target)
	walkPattern(start, pattern, o, func(at time.Time) bool {
		slots = append(slots, ResolvedSlot{SessionNumber: len(slots) + 1, At: at})
		return len(slots) < target
	})

	if len(slots) < target {
		return slots, &UnsatisfiableError{Placed: len(slots), Target: target, HorizonDays: o.horizon}
	}
	return slots, nil
}
