package blackout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/pkg/circuitbreaker"
	"github.com/crm-res/outreach-api/pkg/logger"
)

const (
	// Each observance blocks sends for its nominal duration plus the
	// configured pre/post buffer on both sides.
	observanceDuration = 20 * time.Minute

	// During the annual fasting period the evening observance keeps customers
	// occupied far longer, and the pre-dawn one starts earlier in practice.
	fastingEveningBuffer = 30 * time.Minute
	fastingPreDawnExtra  = 15 * time.Minute

	// How far to push a send when the calendar is unavailable and the
	// provider is running fail-closed.
	unavailableHold = time.Hour
)

// Provider answers blackout queries from per-locality per-day window tables.
// Tables are computed once per day per locality and cached; the previous
// successful table is retained as a fallback when a refresh fails.
type Provider struct {
	source  CalendarSource
	cache   *gocache.Cache
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger

	buffer   time.Duration
	failOpen bool
	loc      *time.Location

	mu       sync.RWMutex
	lastGood map[string]*model.BlackoutTable
}

func NewProvider(cfg config.BlackoutConfig, source CalendarSource, log *logger.Logger) *Provider {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn("unknown blackout timezone, using UTC",
			map[string]interface{}{"timezone": cfg.Timezone})
		loc = time.UTC
	}
	return &Provider{
		source: source,
		cache:  gocache.New(cfg.CacheTTL, cfg.CacheTTL/2),
		breaker: circuitbreaker.New(circuitbreaker.Settings{
			Name:             "blackout-calendar",
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
		logger:   log,
		buffer:   time.Duration(cfg.BufferMinutes) * time.Minute,
		failOpen: cfg.FailOpen,
		loc:      loc,
		lastGood: make(map[string]*model.BlackoutTable),
	}
}

// IsBlackout reports whether instant falls inside a prohibited send window for
// the locality and, if so, the next permissible instant. It never returns an
// error; when the window table cannot be resolved the configured failure mode
// decides the answer.
func (p *Provider) IsBlackout(ctx context.Context, locality string, instant time.Time) (bool, time.Time) {
	table, err := p.tableFor(ctx, locality, instant)
	if err != nil {
		if p.failOpen {
			p.logger.Warn("blackout table unavailable, failing open",
				map[string]interface{}{"locality": locality, "error": err.Error()})
			return false, time.Time{}
		}
		p.logger.Warn("blackout table unavailable, treating as blackout",
			map[string]interface{}{"locality": locality, "error": err.Error()})
		return true, instant.Add(unavailableHold)
	}

	for _, iv := range table.Intervals {
		if iv.Contains(instant) {
			return true, iv.End
		}
	}
	return false, time.Time{}
}

// Refresh recomputes the window table for the locality's current day. Used by
// the daily background sweep.
func (p *Provider) Refresh(ctx context.Context, locality string, day time.Time) error {
	_, err := p.fetchTable(ctx, locality, p.localDay(day))
	return err
}

// localDay resolves the calendar day an instant falls on in the provider's
// timezone. An instant late in the UTC evening can belong to the next local
// day.
func (p *Provider) localDay(instant time.Time) time.Time {
	local := instant.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
}

func (p *Provider) tableFor(ctx context.Context, locality string, instant time.Time) (*model.BlackoutTable, error) {
	day := p.localDay(instant)
	key := cacheKey(locality, day)

	if cached, ok := p.cache.Get(key); ok {
		return cached.(*model.BlackoutTable), nil
	}

	table, err := p.fetchTable(ctx, locality, day)
	if err == nil {
		return table, nil
	}

	// Fall back to the most recent good table, shifted onto the requested
	// day. Observance times drift only minutes per day.
	p.mu.RLock()
	prev, ok := p.lastGood[locality]
	p.mu.RUnlock()
	if ok {
		shifted := shiftTable(prev, day)
		p.logger.Warn("using stale blackout table",
			map[string]interface{}{"locality": locality, "fetched_at": prev.FetchedAt})
		return shifted, nil
	}

	return nil, err
}

func (p *Provider) fetchTable(ctx context.Context, locality string, day time.Time) (*model.BlackoutTable, error) {
	var timings *DayTimings
	err := p.breaker.Execute(func() error {
		var fetchErr error
		timings, fetchErr = p.source.Fetch(ctx, locality, day)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar for %s: %w", locality, err)
	}

	table := buildTable(locality, day, timings, p.buffer)
	p.cache.Set(cacheKey(locality, day), table, gocache.DefaultExpiration)

	p.mu.Lock()
	p.lastGood[locality] = table
	p.mu.Unlock()

	return table, nil
}

// buildTable converts observance start times into merged, buffered blackout
// intervals. Fasting-day adjustments are expressed as wider buffers on the
// affected observances, not as a separate code path.
func buildTable(locality string, day time.Time, timings *DayTimings, buffer time.Duration) *model.BlackoutTable {
	intervals := make([]model.Interval, 0, len(timings.Prayers))
	for name, start := range timings.Prayers {
		pre, post := buffer, buffer
		if timings.Fasting {
			switch name {
			case "Maghrib":
				post = fastingEveningBuffer
			case "Fajr":
				pre += fastingPreDawnExtra
			}
		}
		intervals = append(intervals, model.Interval{
			Start: start.Add(-pre),
			End:   start.Add(observanceDuration).Add(post),
		})
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})

	return &model.BlackoutTable{
		Locality:  locality,
		Day:       day,
		Intervals: mergeIntervals(intervals),
		FetchedAt: time.Now(),
	}
}

// mergeIntervals collapses overlapping or touching intervals in a sorted
// slice, so the end of any interval is always a permissible instant.
func mergeIntervals(sorted []model.Interval) []model.Interval {
	if len(sorted) == 0 {
		return sorted
	}
	merged := []model.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

func shiftTable(prev *model.BlackoutTable, day time.Time) *model.BlackoutTable {
	delta := day.Sub(prev.Day)
	shifted := &model.BlackoutTable{
		Locality:  prev.Locality,
		Day:       day,
		Intervals: make([]model.Interval, len(prev.Intervals)),
		FetchedAt: prev.FetchedAt,
	}
	for i, iv := range prev.Intervals {
		shifted.Intervals[i] = model.Interval{
			Start: iv.Start.Add(delta),
			End:   iv.End.Add(delta),
		}
	}
	return shifted
}

func cacheKey(locality string, day time.Time) string {
	return locality + "|" + day.Format("2006-01-02")
}
