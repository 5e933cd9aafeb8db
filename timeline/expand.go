package timeline

import (
	"strings"
	"time"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/duration"
	"github.com/togglr-project/togglr-sub001/ticker"
)

// ExpandRecurring turns every trigger of a recurring schedule into a
// [trigger, trigger+duration) window and keeps those intersecting
// [from, to). Triggers are searched from from-duration so a window already
// open at from is included.
//
// A missing or invalid duration fails with ErrInvalidDuration; it is never
// defaulted.
func ExpandRecurring(s *togglr.Schedule, from, to time.Time) ([]togglr.Window, error) {
	if !s.IsRecurring() {
		return nil, togglr.ErrConflictingScheduleTypes.WithArgs("schedule %s is %s, not recurring", s.ID, s.Kind)
	}

	d, err := RecurringDuration(s)
	if err != nil {
		return nil, err
	}

	cs, err := CronFor(s)
	if err != nil {
		return nil, err
	}

	triggers, err := cs.OccurrencesBetween(from.Add(-d), to)
	if err != nil {
		return nil, err
	}

	windows := make([]togglr.Window, 0, len(triggers))
	for _, t := range triggers {
		end := t.Add(d)
		if !t.Before(to) || !end.After(from) {
			continue
		}
		windows = append(windows, togglr.Window{
			Start:      t,
			End:        end,
			Action:     s.Action,
			CreatedAt:  s.CreatedAt,
			ScheduleID: s.ID,
		})
	}
	return windows, nil
}

// RecurringDuration parses the window length of a recurring schedule
func RecurringDuration(s *togglr.Schedule) (time.Duration, error) {
	if s.CronDuration == "" {
		return 0, togglr.ErrInvalidDuration.WithArgs("recurring schedule %s has no duration", s.ID)
	}
	d, err := duration.Parse(s.CronDuration)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, togglr.ErrInvalidDuration.WithArgs("recurring schedule %s has zero duration", s.ID)
	}
	return d, nil
}

// CronFor builds the occurrence generator for a recurring schedule,
// bounded by its StartsAt and EndsAt. The schedule must name its zone.
func CronFor(s *togglr.Schedule) (*ticker.CronSchedule, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return nil, togglr.ErrInvalidTimezone.WithArgs("recurring schedule %s has no timezone", s.ID)
	}
	return ticker.NewCronSchedule(s.CronExpr, ticker.TickerConfig{
		StartTime: s.StartsAt,
		EndTime:   s.EndsAt,
		Timezone:  s.Timezone,
	})
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
