package scheduling

import (
	"errors"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSessionDatesTuesdayFridayFromMonday(t *testing.T) {
	slots, err := ResolveSessionDates(monday, tueFri(18), 8)
	require.NoError(t, err)
	require.Len(t, slots, 8)

	assert.Equal(t, time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC), slots[0].At)
	for i, s := range slots {
		assert.Equal(t, i+1, s.SessionNumber)
		want := time.Tuesday
		if i%2 == 1 {
			want = time.Friday
		}
		assert.Equal(t, want, s.At.Weekday(), "session %d", s.SessionNumber)
		assert.Equal(t, 18, s.At.Hour())
	}
	assert.Equal(t, time.Date(2024, time.January, 26, 18, 0, 0, 0, time.UTC), slots[7].At)
}

func TestResolveSessionDatesProperties(t *testing.T) {
	bangkok, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	tests := []struct {
		name    string
		start   time.Time
		pattern Pattern
		target  int
	}{
		{name: "single weekday", start: monday, pattern: Pattern{{Weekday: time.Wednesday, Hour: 10}}, target: 20},
		{name: "three days", start: monday, pattern: Pattern{{Weekday: time.Monday, Hour: 9, Minute: 30}, {Weekday: time.Wednesday, Hour: 13}, {Weekday: time.Saturday, Hour: 10}}, target: 30},
		{name: "unordered entries", start: monday, pattern: Pattern{{Weekday: time.Saturday, Hour: 10}, {Weekday: time.Sunday, Hour: 11}}, target: 12},
		{name: "every day", start: monday, pattern: Pattern{{Weekday: 0, Hour: 9}, {Weekday: 1, Hour: 9}, {Weekday: 2, Hour: 9}, {Weekday: 3, Hour: 9}, {Weekday: 4, Hour: 9}, {Weekday: 5, Hour: 9}, {Weekday: 6, Hour: 9}}, target: 365},
		{name: "local timezone", start: time.Date(2024, time.March, 4, 8, 0, 0, 0, bangkok), pattern: tueFri(19), target: 10},
		{name: "single session", start: monday, pattern: tueFri(18), target: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			slots, err := ResolveSessionDates(tc.start, tc.pattern, tc.target)
			require.NoError(t, err)
			require.Len(t, slots, tc.target)

			for i, s := range slots {
				assert.Equal(t, i+1, s.SessionNumber)
				assert.False(t, s.At.Before(tc.start))
				assert.Equal(t, tc.start.Location(), s.At.Location())
				if i > 0 {
					assert.True(t, s.At.After(slots[i-1].At), "slot %d not after slot %d", i+1, i)
				}
				slot, ok := tc.pattern.slotFor(s.At.Weekday())
				require.True(t, ok, "slot on unexpected weekday %s", s.At.Weekday())
				assert.Equal(t, slot.Hour, s.At.Hour())
				assert.Equal(t, slot.Minute, s.At.Minute())
			}

			again, err := ResolveSessionDates(tc.start, tc.pattern, tc.target)
			require.NoError(t, err)
			assert.Equal(t, slots, again)
		})
	}
}

func TestResolveSessionDatesStartDayEligibility(t *testing.T) {
	tuesday := func(hour int) time.Time { return time.Date(2024, time.January, 2, hour, 0, 0, 0, time.UTC) }

	t.Run("start before slot time", func(t *testing.T) {
		slots, err := ResolveSessionDates(tuesday(17), tueFri(18), 1)
		require.NoError(t, err)
		assert.Equal(t, tuesday(18), slots[0].At)
	})

	t.Run("start exactly at slot time", func(t *testing.T) {
		slots, err := ResolveSessionDates(tuesday(18), tueFri(18), 1)
		require.NoError(t, err)
		assert.Equal(t, tuesday(18), slots[0].At)
	})

	t.Run("start after slot time", func(t *testing.T) {
		slots, err := ResolveSessionDates(tuesday(19), tueFri(18), 1)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, time.January, 5, 18, 0, 0, 0, time.UTC), slots[0].At)
	})

	t.Run("strictly after skips the start instant", func(t *testing.T) {
		slots, err := ResolveSessionDates(tuesday(18), tueFri(18), 1, StrictlyAfter())
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, time.January, 5, 18, 0, 0, 0, time.UTC), slots[0].At)
	})
}

func TestResolveSessionDatesOneSessionPerDay(t *testing.T) {
	pattern := Pattern{
		{Weekday: time.Tuesday, Hour: 10},
		{Weekday: time.Tuesday, Hour: 18},
	}
	slots, err := ResolveSessionDates(monday, pattern, 3)
	require.NoError(t, err)
	for i, s := range slots {
		assert.Equal(t, time.Tuesday, s.At.Weekday())
		assert.Equal(t, 10, s.At.Hour())
		assert.Equal(t, 2+7*i, s.At.Day())
	}
}

func TestResolveSessionDatesSkipsHolidays(t *testing.T) {
	holidays := NewHolidaySet([]time.Time{
		time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
	})
	slots, err := ResolveSessionDates(monday, tueFri(18), 3, WithHolidays(holidays))
	require.NoError(t, err)

	assert.Equal(t, 2, slots[0].At.Day())
	assert.Equal(t, 9, slots[1].At.Day())
	assert.Equal(t, 12, slots[2].At.Day())
	assert.Equal(t, 2, slots[1].SessionNumber)
}

func TestResolveSessionDatesUnsatisfiable(t *testing.T) {
	slots, err := ResolveSessionDates(monday, Pattern{{Weekday: time.Tuesday, Hour: 18}}, 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScheduleUnsatisfiable))

	var unsat *UnsatisfiableError
	require.ErrorAs(t, err, &unsat)
	assert.Equal(t, 60, unsat.Target)
	assert.Equal(t, len(slots), unsat.Placed)
	assert.Equal(t, SearchHorizonDays, unsat.HorizonDays)
	// 2024-01-02 through 2024-12-31 holds 53 Tuesdays
	assert.Equal(t, 53, unsat.Placed)
}

func TestResolveSessionDatesInvalidInput(t *testing.T) {
	_, err := ResolveSessionDates(monday, nil, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ResolveSessionDates(monday, tueFri(18), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ResolveSessionDates(monday, Pattern{{Weekday: 7, Hour: 9}}, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ResolveSessionDates(monday, Pattern{{Weekday: time.Monday, Hour: 24}}, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPatternFromSlotsOrdersByPosition(t *testing.T) {
	pattern, err := PatternFromSlots([]models.BatchSlot{
		{Position: 2, Weekday: 5, StartTime: "18:30"},
		{Position: 1, Weekday: 2, StartTime: "18:00:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, Pattern{
		{Weekday: time.Tuesday, Hour: 18},
		{Weekday: time.Friday, Hour: 18, Minute: 30},
	}, pattern)

	slots := pattern.ToSlots()
	require.Len(t, slots, 2)
	assert.Equal(t, "18:00", slots[0].StartTime)
	assert.Equal(t, 1, slots[0].Position)
	assert.Equal(t, 5, slots[1].Weekday)

	_, err = PatternFromSlots(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PatternFromSlots([]models.BatchSlot{{Position: 1, Weekday: 2, StartTime: "late"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
