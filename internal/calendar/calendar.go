// Package calendar provides trading-calendar predicates for the market's
// local timezone. The vendor-provided list of trading days is loaded once
// per process-local day and cached; all predicates derive from that list.
package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DateFormat is the canonical trade-date layout used throughout the store.
const DateFormat = "2006-01-02"

// Source fetches the vendor trading-day list. Implementations swap between
// real HTTP calls and test fixtures with no call-site change.
type Source interface {
	TradingDays(ctx context.Context) ([]string, error)
}

// Calendar answers trading-day and trading-hours questions.
// Predicates never return an error: on calendar-load failure they fall back
// to a weekday approximation and log at warn level.
type Calendar struct {
	source Source
	loc    *time.Location
	log    zerolog.Logger

	mu       sync.RWMutex
	days     map[string]bool
	sorted   []string // ascending
	loadedOn string   // local date the cache was loaded on
}

// New creates a calendar backed by the given source. The market timezone is
// Asia/Shanghai; when unavailable a fixed +08:00 offset is used.
func New(source Source, log zerolog.Logger) *Calendar {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Calendar{
		source: source,
		loc:    loc,
		log:    log.With().Str("component", "calendar").Logger(),
	}
}

// Now returns the current time in the market's local timezone.
func (c *Calendar) Now() time.Time {
	return time.Now().In(c.loc)
}

// Refresh forces a reload of the vendor calendar.
func (c *Calendar) Refresh(ctx context.Context) error {
	days, err := c.source.TradingDays(ctx)
	if err != nil {
		return err
	}

	set := make(map[string]bool, len(days))
	sorted := make([]string, 0, len(days))
	for _, d := range days {
		if !set[d] {
			set[d] = true
			sorted = append(sorted, d)
		}
	}
	sort.Strings(sorted)

	c.mu.Lock()
	c.days = set
	c.sorted = sorted
	c.loadedOn = time.Now().In(c.loc).Format(DateFormat)
	c.mu.Unlock()

	c.log.Info().Int("days", len(sorted)).Msg("Trading calendar loaded")
	return nil
}

// ensureLoaded reloads the calendar when it has not been loaded today.
// Returns true when a usable calendar is cached.
func (c *Calendar) ensureLoaded() bool {
	today := time.Now().In(c.loc).Format(DateFormat)

	c.mu.RLock()
	fresh := c.loadedOn == today && len(c.days) > 0
	have := len(c.days) > 0
	c.mu.RUnlock()

	if fresh {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Calendar load failed, using weekday fallback")
		// A stale calendar is still better than the weekday approximation.
		return have
	}
	return true
}

// IsTradingDay reports whether d is a trading day. Falls back to
// "not Saturday/Sunday" when the calendar is unavailable.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.loc)
	if c.ensureLoaded() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.days[d.Format(DateFormat)]
	}
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// LastTradingDay returns the most recent trading day on or before d.
func (c *Calendar) LastTradingDay(d time.Time) time.Time {
	d = d.In(c.loc)
	if c.ensureLoaded() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		target := d.Format(DateFormat)
		// Largest cached day <= target.
		idx := sort.SearchStrings(c.sorted, target)
		if idx < len(c.sorted) && c.sorted[idx] == target {
			return mustParseIn(c.sorted[idx], c.loc)
		}
		if idx > 0 {
			return mustParseIn(c.sorted[idx-1], c.loc)
		}
		return d
	}

	// Fallback: search back up to 7 days skipping weekends.
	for i := 0; i < 7; i++ {
		cand := d.AddDate(0, 0, -i)
		wd := cand.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			return cand
		}
	}
	return d
}

// NextTradingDay returns the first trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	d = d.In(c.loc)
	if c.ensureLoaded() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		target := d.Format(DateFormat)
		idx := sort.SearchStrings(c.sorted, target)
		if idx < len(c.sorted) && c.sorted[idx] == target {
			idx++
		}
		if idx < len(c.sorted) {
			return mustParseIn(c.sorted[idx], c.loc)
		}
		// Past the end of the cached list, approximate.
	}

	cand := d
	for i := 0; i < 7; i++ {
		cand = cand.AddDate(0, 0, 1)
		wd := cand.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			return cand
		}
	}
	return cand
}

// TradingDaysIn returns all trading days in [a, b], ascending.
func (c *Calendar) TradingDaysIn(a, b time.Time) []string {
	a, b = a.In(c.loc), b.In(c.loc)
	if c.ensureLoaded() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		from := a.Format(DateFormat)
		to := b.Format(DateFormat)
		lo := sort.SearchStrings(c.sorted, from)
		var out []string
		for i := lo; i < len(c.sorted) && c.sorted[i] <= to; i++ {
			out = append(out, c.sorted[i])
		}
		return out
	}

	var out []string
	for d := a; !d.After(b); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			out = append(out, d.Format(DateFormat))
		}
	}
	return out
}

// IsTradingHours reports whether t falls inside a continuous-auction session:
// the day must be a trading day and t lie in [09:30, 11:30] or [13:00, 15:00].
func (c *Calendar) IsTradingHours(t time.Time) bool {
	t = t.In(c.loc)
	if !c.IsTradingDay(t) {
		return false
	}

	mins := t.Hour()*60 + t.Minute()
	morning := mins >= 9*60+30 && mins <= 11*60+30
	afternoon := mins >= 13*60 && mins <= 15*60
	return morning || afternoon
}

func mustParseIn(s string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateFormat, s, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}
