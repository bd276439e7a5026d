package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// HolidayResponse represents the Thai holiday API response
type HolidayResponse struct {
	VCALENDAR []struct {
		VEVENT []struct {
			DTStart string `json:"DTSTART"`
			Summary string `json:"SUMMARY"`
		} `json:"VEVENT"`
	} `json:"VCALENDAR"`
}

// HolidayService fetches public holidays per year from the myhora calendar feed
// and caches each year in Redis. It satisfies scheduling.HolidayCalendar.
type HolidayService struct {
	urlFormat string
	client    *http.Client
	redis     *redis.Client
	ttl       time.Duration
}

// NewHolidayService builds the provider. urlFormat receives the Buddhist-era year via %d.
// A nil redis client disables caching.
func NewHolidayService(urlFormat string, redisClient *redis.Client, ttl time.Duration) *HolidayService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &HolidayService{
		urlFormat: urlFormat,
		client:    &http.Client{Timeout: 10 * time.Second},
		redis:     redisClient,
		ttl:       ttl,
	}
}

func holidayCacheKey(year int) string {
	return fmt.Sprintf("holidays:%d", year)
}

// Holidays returns every holiday date between from and to, inclusive by calendar day.
func (s *HolidayService) Holidays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, nil
	}
	first := dateOnly(from)
	last := dateOnly(to)

	var out []time.Time
	for year := from.Year(); year <= to.Year(); year++ {
		days, err := s.yearHolidays(ctx, year)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			if !d.Before(first) && !d.After(last) {
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *HolidayService) yearHolidays(ctx context.Context, year int) ([]time.Time, error) {
	if cached, ok := s.cached(ctx, year); ok {
		return cached, nil
	}

	days, err := s.fetchYear(ctx, year)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		keys := make([]string, len(days))
		for i, d := range days {
			keys[i] = d.Format("2006-01-02")
		}
		raw, _ := json.Marshal(keys)
		if err := s.redis.Set(ctx, holidayCacheKey(year), raw, s.ttl).Err(); err != nil {
			logrus.WithError(err).WithField("year", year).Warn("failed to cache holidays")
		}
	}
	return days, nil
}

func (s *HolidayService) cached(ctx context.Context, year int) ([]time.Time, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, holidayCacheKey(year)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).WithField("year", year).Warn("holiday cache read failed")
		}
		return nil, false
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, false
	}
	days := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		if d, err := time.Parse("2006-01-02", k); err == nil {
			days = append(days, d)
		}
	}
	return days, true
}

// fetchYear downloads one Gregorian year. The feed is keyed by Buddhist-era year.
func (s *HolidayService) fetchYear(ctx context.Context, year int) ([]time.Time, error) {
	url := fmt.Sprintf(s.urlFormat, year+543)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holidays for year %d: %w", year, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch holidays for year %d: status %d", year, resp.StatusCode)
	}

	var holidayResp HolidayResponse
	if err := json.NewDecoder(resp.Body).Decode(&holidayResp); err != nil {
		return nil, fmt.Errorf("failed to decode holiday response for year %d: %w", year, err)
	}

	var days []time.Time
	for _, calendar := range holidayResp.VCALENDAR {
		for _, event := range calendar.VEVENT {
			if len(event.DTStart) < 8 {
				continue
			}
			if date, err := time.Parse("20060102", event.DTStart[:8]); err == nil {
				days = append(days, date)
			}
		}
	}
	logrus.WithFields(logrus.Fields{"year": year, "count": len(days)}).Debug("holidays fetched")
	return days, nil
}
