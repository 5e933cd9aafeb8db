package ticker

import (
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	togglr "github.com/togglr-project/togglr-sub001"
)

// wallMargin widens wall-clock searches so triggers moved across a DST
// transition are still found. Larger than any real-world offset change.
const wallMargin = 3 * time.Hour

// offsetReach is how far from a wall time we look to read the offsets in
// effect before and after any transition near it.
const offsetReach = 26 * time.Hour

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSchedule expands a standard 5-field cron expression into trigger
// instants. Fields are matched against wall-clock time in the configured
// timezone; it holds no mutable state and is safe for concurrent use.
type CronSchedule struct {
	expression string
	config     TickerConfig
	spec       *cron.SpecSchedule
	location   *time.Location
}

// NewCronSchedule parses expression and binds it to config's timezone and bounds
func NewCronSchedule(expression string, config TickerConfig) (*CronSchedule, error) {
	loc, err := LoadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	spec, err := ParseCron(expression)
	if err != nil {
		return nil, err
	}

	return &CronSchedule{
		expression: strings.TrimSpace(expression),
		config:     config,
		spec:       spec,
		location:   loc,
	}, nil
}

// ParseCron validates a 5-field expression. Descriptors (@daily) and
// TZ= prefixes are rejected: the timezone belongs to the schedule.
func ParseCron(expression string) (*cron.SpecSchedule, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, togglr.ErrInvalidCronExpression.WithArgs("empty expression")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, togglr.ErrInvalidCronExpression.WithArgs("%q: timezone prefixes are not supported", expr)
	}

	parsed, err := standardParser.Parse(expr)
	if err != nil {
		return nil, togglr.ErrInvalidCronExpression.Wrap(err, "%q", expr)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, togglr.ErrInvalidCronExpression.WithArgs("%q is not a field based expression", expr)
	}

	// Matching runs on a floating wall clock; see wallInstants.
	floatingSpec := *spec
	floatingSpec.Location = time.UTC
	return &floatingSpec, nil
}

// Expression returns the normalized cron expression
func (c *CronSchedule) Expression() string {
	return c.expression
}

// Location returns the zone the expression is evaluated in
func (c *CronSchedule) Location() *time.Location {
	return c.location
}

// OccurrencesBetween returns every trigger in [start, end], ordered and
// without duplicates. Triggers outside the schedule's own StartTime/EndTime
// are dropped.
func (c *CronSchedule) OccurrencesBetween(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, nil
	}

	wallStart := floating(start.In(c.location)).Add(-wallMargin)
	wallEnd := floating(end.In(c.location)).Add(wallMargin)

	var occurrences []time.Time
	iterations := 0

	for wall := c.spec.Next(wallStart.Add(-time.Second)); !wall.IsZero() && !wall.After(wallEnd); wall = c.spec.Next(wall) {
		iterations++
		if iterations > MaxOccurrenceIterations {
			return nil, togglr.ErrWindowTooLarge.WithArgs("more than %d triggers of %q between %s and %s",
				MaxOccurrenceIterations, c.expression, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}

		for _, instant := range c.instants(wall) {
			if instant.Before(start) || instant.After(end) {
				continue
			}
			if !c.config.isWithinWindow(instant) {
				continue
			}
			occurrences = append(occurrences, instant)
		}
	}

	return dedupeSorted(occurrences), nil
}

// Next returns the first trigger strictly after the given instant
func (c *CronSchedule) Next(after time.Time) (time.Time, bool) {
	if c.config.StartTime != nil && after.Before(*c.config.StartTime) {
		after = c.config.StartTime.Add(-time.Nanosecond)
	}

	var best time.Time
	var bestWall time.Time
	wall := floating(after.In(c.location)).Add(-wallMargin)

	for i := 0; i < MaxOccurrenceIterations; i++ {
		wall = c.spec.Next(wall)
		if wall.IsZero() {
			break
		}
		// Once a candidate exists, only walls within the margin can still
		// resolve to an earlier instant.
		if !best.IsZero() && wall.After(bestWall.Add(wallMargin)) {
			break
		}

		for _, instant := range c.instants(wall) {
			if !instant.After(after) {
				continue
			}
			if best.IsZero() || instant.Before(best) {
				best = instant
				if bestWall.IsZero() {
					bestWall = wall
				}
			}
		}
	}

	if best.IsZero() {
		return time.Time{}, false
	}
	if c.config.EndTime != nil && best.After(*c.config.EndTime) {
		return time.Time{}, false
	}
	return best, true
}

// MinInterval returns the smallest gap between consecutive triggers among
// the first samples triggers after reference. ok is false when fewer than
// two triggers exist.
func (c *CronSchedule) MinInterval(reference time.Time, samples int) (time.Duration, bool) {
	prev, ok := c.Next(reference)
	if !ok {
		return 0, false
	}

	var minimum time.Duration
	for i := 1; i < samples; i++ {
		next, ok := c.Next(prev)
		if !ok {
			break
		}
		if gap := next.Sub(prev); minimum == 0 || gap < minimum {
			minimum = gap
		}
		prev = next
	}
	return minimum, minimum > 0
}

// instants returns the trigger instants of a matched wall time. A wall time
// repeated by a backward transition fires on its first pass. It fires on the
// second pass too when the expression also matches the wall hour before it,
// so "0 * * * *" keeps firing hourly while "30 1 * * *" still fires once.
func (c *CronSchedule) instants(wall time.Time) []time.Time {
	first, second, repeated := wallInstants(wall, c.location)
	if !repeated {
		return []time.Time{first}
	}
	previousHour := uint(wall.Add(-time.Hour).Hour())
	if c.spec.Hour&(1<<previousHour) == 0 {
		return []time.Time{first}
	}
	return []time.Time{first, second}
}

// floating reinterprets t's wall clock as a UTC time. Cron matching runs on
// these values so every wall time is visited exactly once, DST or not.
func floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// wallInstants maps a floating wall time to instants in loc. A wall time
// repeated by a backward transition names two instants, first before
// second, and repeated is set. A wall time skipped by a forward transition
// is shifted forward by the length of the gap. Instants are in UTC.
func wallInstants(wall time.Time, loc *time.Location) (first, second time.Time, repeated bool) {
	_, offsetBefore := wall.Add(-offsetReach).In(loc).Zone()
	_, offsetAfter := wall.Add(offsetReach).In(loc).Zone()

	early := wall.Add(-time.Duration(offsetBefore) * time.Second).In(loc)
	late := wall.Add(-time.Duration(offsetAfter) * time.Second).In(loc)

	earlyOK := sameWallClock(early, wall)
	lateOK := sameWallClock(late, wall)

	switch {
	case earlyOK && lateOK:
		if late.Before(early) {
			early, late = late, early
		}
		return early.UTC(), late.UTC(), !early.Equal(late)
	case earlyOK:
		return early.UTC(), early.UTC(), false
	case lateOK:
		return late.UTC(), late.UTC(), false
	}
	// Inside a gap: the pre-transition offset lands past the gap.
	return early.UTC(), early.UTC(), false
}

func sameWallClock(t, wall time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		t.Hour() == wall.Hour() && t.Minute() == wall.Minute() && t.Second() == wall.Second()
}

func dedupeSorted(times []time.Time) []time.Time {
	if len(times) < 2 {
		return times
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	out := times[:1]
	for _, t := range times[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
