package blackout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/pkg/logger"
)

type fakeSource struct {
	timings map[string]*DayTimings
	err     error
	calls   int
}

func (f *fakeSource) Fetch(ctx context.Context, locality string, day time.Time) (*DayTimings, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	key := day.Format("2006-01-02")
	timings, ok := f.timings[key]
	if !ok {
		return nil, errors.New("no timings for day")
	}
	return timings, nil
}

func newTestProvider(source CalendarSource, failOpen bool) *Provider {
	return NewProvider(config.BlackoutConfig{
		BufferMinutes: 10,
		CacheTTL:      time.Hour,
		FailOpen:      failOpen,
	}, source, logger.NewLogger(nil))
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return d
}

func TestBuildTableBuffersObservances(t *testing.T) {
	d := day(t, "2026-03-02")
	noon := d.Add(12 * time.Hour)

	table := buildTable("riyadh", d, &DayTimings{
		Prayers: map[string]time.Time{"Dhuhr": noon},
	}, 10*time.Minute)

	require.Len(t, table.Intervals, 1)
	assert.Equal(t, noon.Add(-10*time.Minute), table.Intervals[0].Start)
	assert.Equal(t, noon.Add(observanceDuration).Add(10*time.Minute), table.Intervals[0].End)
}

func TestBuildTableFastingAdjustments(t *testing.T) {
	d := day(t, "2026-03-02")
	fajr := d.Add(5 * time.Hour)
	maghrib := d.Add(18 * time.Hour)

	table := buildTable("riyadh", d, &DayTimings{
		Prayers: map[string]time.Time{"Fajr": fajr, "Maghrib": maghrib},
		Fasting: true,
	}, 10*time.Minute)

	require.Len(t, table.Intervals, 2)
	// Pre-dawn window starts earlier on fasting days.
	assert.Equal(t, fajr.Add(-25*time.Minute), table.Intervals[0].Start)
	// Evening window extends well past the observance.
	assert.Equal(t, maghrib.Add(observanceDuration).Add(fastingEveningBuffer), table.Intervals[1].End)
}

func TestMergeIntervalsCollapsesOverlap(t *testing.T) {
	base := day(t, "2026-03-02")
	merged := mergeIntervals([]model.Interval{
		{Start: base.Add(1 * time.Hour), End: base.Add(2 * time.Hour)},
		{Start: base.Add(90 * time.Minute), End: base.Add(3 * time.Hour)},
		{Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
		{Start: base.Add(6 * time.Hour), End: base.Add(7 * time.Hour)},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, base.Add(1*time.Hour), merged[0].Start)
	assert.Equal(t, base.Add(4*time.Hour), merged[0].End)
	assert.Equal(t, base.Add(6*time.Hour), merged[1].Start)
}

func TestIsBlackoutInsideWindow(t *testing.T) {
	d := day(t, "2026-03-02")
	noon := d.Add(12 * time.Hour)
	source := &fakeSource{timings: map[string]*DayTimings{
		"2026-03-02": {Prayers: map[string]time.Time{"Dhuhr": noon}},
	}}
	p := newTestProvider(source, false)

	blocked, next := p.IsBlackout(context.Background(), "riyadh", noon.Add(5*time.Minute))
	assert.True(t, blocked)
	assert.Equal(t, noon.Add(observanceDuration).Add(10*time.Minute), next)

	blocked, _ = p.IsBlackout(context.Background(), "riyadh", noon.Add(2*time.Hour))
	assert.False(t, blocked)
}

func TestIsBlackoutCachesDailyTable(t *testing.T) {
	d := day(t, "2026-03-02")
	source := &fakeSource{timings: map[string]*DayTimings{
		"2026-03-02": {Prayers: map[string]time.Time{"Dhuhr": d.Add(12 * time.Hour)}},
	}}
	p := newTestProvider(source, false)

	p.IsBlackout(context.Background(), "riyadh", d.Add(9*time.Hour))
	p.IsBlackout(context.Background(), "riyadh", d.Add(15*time.Hour))
	assert.Equal(t, 1, source.calls)
}

func TestIsBlackoutFailClosed(t *testing.T) {
	source := &fakeSource{err: errors.New("calendar down")}
	p := newTestProvider(source, false)

	instant := day(t, "2026-03-02").Add(10 * time.Hour)
	blocked, next := p.IsBlackout(context.Background(), "riyadh", instant)
	assert.True(t, blocked)
	assert.Equal(t, instant.Add(unavailableHold), next)
}

func TestIsBlackoutFailOpen(t *testing.T) {
	source := &fakeSource{err: errors.New("calendar down")}
	p := newTestProvider(source, true)

	blocked, next := p.IsBlackout(context.Background(), "riyadh", day(t, "2026-03-02").Add(10*time.Hour))
	assert.False(t, blocked)
	assert.True(t, next.IsZero())
}

func TestIsBlackoutResolvesDayInLocalityZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)

	// 22:30 UTC on March 2nd is already 01:30 on March 3rd in Riyadh, so the
	// lookup must use the March 3rd calendar.
	fajr := time.Date(2026, 3, 3, 1, 35, 0, 0, loc)
	source := &fakeSource{timings: map[string]*DayTimings{
		"2026-03-03": {Prayers: map[string]time.Time{"Fajr": fajr}},
	}}
	p := NewProvider(config.BlackoutConfig{
		Timezone:      "Asia/Riyadh",
		BufferMinutes: 10,
		CacheTTL:      time.Hour,
	}, source, logger.NewLogger(nil))

	instant := time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC)
	blocked, next := p.IsBlackout(context.Background(), "riyadh", instant)
	assert.True(t, blocked)
	assert.True(t, next.Equal(fajr.Add(observanceDuration).Add(10*time.Minute)))
}

func TestIsBlackoutFallsBackToStaleTable(t *testing.T) {
	d := day(t, "2026-03-02")
	noon := d.Add(12 * time.Hour)
	source := &fakeSource{timings: map[string]*DayTimings{
		"2026-03-02": {Prayers: map[string]time.Time{"Dhuhr": noon}},
	}}
	p := newTestProvider(source, false)

	// Prime the table, then break the source for the next day.
	blocked, _ := p.IsBlackout(context.Background(), "riyadh", noon)
	require.True(t, blocked)
	source.err = errors.New("calendar down")

	nextNoon := noon.Add(24 * time.Hour)
	blocked, next := p.IsBlackout(context.Background(), "riyadh", nextNoon.Add(5*time.Minute))
	assert.True(t, blocked)
	assert.Equal(t, nextNoon.Add(observanceDuration).Add(10*time.Minute), next)
}
