package scheduling

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var clockPattern = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)

// ParseHourMinute extracts hour and minute from "HH:MM", "HH:MM:SS" or a full datetime.
func ParseHourMinute(value string) (int, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, fmt.Errorf("time value cannot be empty")
	}

	layout := "15:04"
	if strings.Count(value, ":") >= 2 {
		layout = "15:04:05"
	}

	t, err := time.Parse(layout, value)
	if err == nil {
		return t.Hour(), t.Minute(), nil
	}

	fallbackLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
	}
	for _, l := range fallbackLayouts {
		if parsed, altErr := time.Parse(l, value); altErr == nil {
			return parsed.Hour(), parsed.Minute(), nil
		}
	}

	if match := clockPattern.FindString(value); match != "" && match != value {
		return ParseHourMinute(match)
	}

	return 0, 0, fmt.Errorf("invalid time format %q: %w", value, err)
}

// BusinessHours bounds when a session may run, in minutes after local midnight.
type BusinessHours struct {
	OpenMinutes  int
	CloseMinutes int
}

// DefaultBusinessHours is 09:00-21:00.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{OpenMinutes: 9 * 60, CloseMinutes: 21 * 60}
}

// ParseBusinessHours parses open/close clocks; empty values keep the defaults.
func ParseBusinessHours(open, closeAt string) (BusinessHours, error) {
	h := DefaultBusinessHours()
	if strings.TrimSpace(open) != "" {
		hour, minute, err := ParseHourMinute(open)
		if err != nil {
			return h, fmt.Errorf("invalid open time: %w", err)
		}
		h.OpenMinutes = hour*60 + minute
	}
	if strings.TrimSpace(closeAt) != "" {
		hour, minute, err := ParseHourMinute(closeAt)
		if err != nil {
			return h, fmt.Errorf("invalid close time: %w", err)
		}
		h.CloseMinutes = hour*60 + minute
	}
	if h.CloseMinutes <= h.OpenMinutes {
		return h, fmt.Errorf("closing time must be after opening time")
	}
	return h, nil
}

// Allows reports whether a session starting at hour:minute and lasting duration fits inside the hours.
func (h BusinessHours) Allows(hour, minute int, duration time.Duration) bool {
	start := hour*60 + minute
	end := start + int(duration/time.Minute)
	return start >= h.OpenMinutes && end <= h.CloseMinutes
}

// AllowsAt checks an instant using its own location's wall clock.
func (h BusinessHours) AllowsAt(at time.Time, duration time.Duration) bool {
	return h.Allows(at.Hour(), at.Minute(), duration)
}

func (h BusinessHours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.OpenMinutes/60, h.OpenMinutes%60, h.CloseMinutes/60, h.CloseMinutes%60)
}

// ValidatePattern rejects slots whose session would start before opening or end after closing.
func (h BusinessHours) ValidatePattern(p Pattern, duration time.Duration) error {
	for _, s := range p {
		if !h.Allows(s.Hour, s.Minute, duration) {
			return invalidInput("slot %s with %s duration is outside business hours %s", s, duration, h)
		}
	}
	return nil
}
