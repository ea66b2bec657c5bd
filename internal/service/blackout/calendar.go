package blackout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DayTimings carries the observance start times for one locality and one
// calendar day, plus whether the day falls in the annual fasting period.
type DayTimings struct {
	Prayers map[string]time.Time
	Fasting bool
}

// CalendarSource resolves daily observance timings for a locality.
type CalendarSource interface {
	Fetch(ctx context.Context, locality string, day time.Time) (*DayTimings, error)
}

var prayerNames = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

// httpCalendarSource fetches timings from an aladhan-compatible API.
type httpCalendarSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCalendarSource(baseURL string, timeout time.Duration) CalendarSource {
	return &httpCalendarSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type calendarResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
		Date    struct {
			Hijri struct {
				Month struct {
					Number int `json:"number"`
				} `json:"month"`
			} `json:"hijri"`
		} `json:"date"`
	} `json:"data"`
}

func (s *httpCalendarSource) Fetch(ctx context.Context, locality string, day time.Time) (*DayTimings, error) {
	endpoint := fmt.Sprintf("%s/%s?city=%s&country=&method=4",
		s.baseURL, day.Format("02-01-2006"), url.QueryEscape(locality))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar request returned status %d", resp.StatusCode)
	}

	var body calendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}

	timings := &DayTimings{
		Prayers: make(map[string]time.Time, len(prayerNames)),
		// Hijri month 9 is the fasting month.
		Fasting: body.Data.Date.Hijri.Month.Number == 9,
	}
	for _, name := range prayerNames {
		raw, ok := body.Data.Timings[name]
		if !ok {
			return nil, fmt.Errorf("calendar response missing timing for %s", name)
		}
		t, err := parseClock(raw, day)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s timing %q: %w", name, raw, err)
		}
		timings.Prayers[name] = t
	}
	return timings, nil
}

// parseClock combines an "HH:MM" clock value with the requested day, in the
// day's location.
func parseClock(raw string, day time.Time) (time.Time, error) {
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}
