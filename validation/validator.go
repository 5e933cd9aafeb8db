// Package validation checks a candidate schedule against the feature it is
// attached to. The API service, the preview path and the CLI all call it so
// the rules exist once.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/duration"
	"github.com/togglr-project/togglr-sub001/ticker"
)

// IntervalSamples is how many upcoming triggers are inspected to find the
// shortest interval of a cron expression. A year of daily triggers covers
// both DST transitions.
const IntervalSamples = 512

// Violation is one broken rule
type Violation struct {
	Field   string           `json:"field"`
	Kind    togglr.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Violations collects every broken rule of a candidate
type Violations []Violation

// Has reports whether any violation is of the given kind
func (vs Violations) Has(kind togglr.ErrorKind) bool {
	for _, v := range vs {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

func (vs Violations) String() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Err combines the violations into a single ErrValidation error. Each
// violation stays reachable through errors.Is with its own kind. It returns
// nil when there are none.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	var combined error
	for _, v := range vs {
		combined = multierr.Append(combined, v.Kind.WithArgs("%s: %s", v.Field, v.Message))
	}
	return togglr.ErrValidation.Wrap(combined, "%d violation(s)", len(vs))
}

// Validator applies the schedule rules. The clock supplies the reference
// instant for interval checks.
type Validator struct {
	clock clock.Clock
}

// NewValidator creates a validator. A nil clock uses the real one.
func NewValidator(clk clock.Clock) *Validator {
	if clk == nil {
		clk = clock.New()
	}
	return &Validator{clock: clk}
}

// Validate returns every rule candidate breaks when attached to f. An
// existing schedule with the candidate's ID is treated as the one being
// replaced and ignored.
func (v *Validator) Validate(f *togglr.Feature, candidate *togglr.Schedule) Violations {
	var existing []*togglr.Schedule
	if f != nil {
		existing = f.SchedulesSnapshot()
	}
	return v.validate(existing, candidate)
}

// ValidateSet checks a whole schedule set, each schedule against the ones
// before it. Used for previews of unsaved sets.
func (v *Validator) ValidateSet(schedules []*togglr.Schedule) Violations {
	var all Violations
	for i, s := range schedules {
		for _, violation := range v.validate(schedules[:i], s) {
			if len(schedules) > 1 {
				violation.Field = fmt.Sprintf("schedules[%d].%s", i, violation.Field)
			}
			all = append(all, violation)
		}
	}
	return all
}

func (v *Validator) validate(existing []*togglr.Schedule, candidate *togglr.Schedule) Violations {
	var vs Violations
	add := func(field string, kind togglr.ErrorKind, format string, args ...any) {
		vs = append(vs, Violation{Field: field, Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	if candidate == nil {
		add("schedule", togglr.ErrValidation, "schedule is required")
		return vs
	}

	if !candidate.Action.Valid() {
		add("action", togglr.ErrValidation, "action must be %q or %q", togglr.ActionEnable, togglr.ActionDisable)
	}

	tzOK := true
	if candidate.Timezone == "" {
		add("timezone", togglr.ErrInvalidTimezone, "timezone is required")
		tzOK = false
	} else if _, err := ticker.LoadLocation(candidate.Timezone); err != nil {
		add("timezone", togglr.ErrInvalidTimezone, "%q is not a recognized IANA zone", candidate.Timezone)
		tzOK = false
	}

	others := make([]*togglr.Schedule, 0, len(existing))
	for _, s := range existing {
		if s.ID != "" && s.ID == candidate.ID {
			continue
		}
		others = append(others, s)
	}

	switch candidate.Kind {
	case togglr.ScheduleKindRecurring:
		v.validateRecurring(candidate, others, tzOK, add)
	case togglr.ScheduleKindOneShot:
		validateOneShot(candidate, others, add)
	default:
		add("kind", togglr.ErrValidation, "kind must be %q or %q", togglr.ScheduleKindRecurring, togglr.ScheduleKindOneShot)
	}

	return vs
}

type addFunc func(field string, kind togglr.ErrorKind, format string, args ...any)

func (v *Validator) validateRecurring(s *togglr.Schedule, others []*togglr.Schedule, tzOK bool, add addFunc) {
	cronOK := true
	if _, err := ticker.ParseCron(s.CronExpr); err != nil {
		add("cron", togglr.ErrInvalidCronExpression, "%v", err)
		cronOK = false
	}

	var d time.Duration
	durationOK := false
	if s.CronDuration == "" {
		add("duration", togglr.ErrInvalidDuration, "duration is required")
	} else if parsed, err := duration.Parse(s.CronDuration); err != nil {
		add("duration", togglr.ErrInvalidDuration, "%q is not a duration like 30m, 2h or 1d", s.CronDuration)
	} else if parsed <= 0 {
		add("duration", togglr.ErrInvalidDuration, "duration must be positive")
	} else {
		d = parsed
		durationOK = true
	}

	if s.StartsAt != nil && s.EndsAt != nil && !s.StartsAt.Before(*s.EndsAt) {
		add("ends_at", togglr.ErrValidation, "ends_at must be after starts_at")
	}

	if cronOK && durationOK && tzOK {
		cs, err := ticker.NewCronSchedule(s.CronExpr, ticker.TickerConfig{
			StartTime: s.StartsAt,
			EndTime:   s.EndsAt,
			Timezone:  s.Timezone,
		})
		if err == nil {
			reference := v.clock.Now()
			if s.StartsAt != nil && s.StartsAt.After(reference) {
				reference = s.StartsAt.Add(-time.Nanosecond)
			}
			if interval, ok := cs.MinInterval(reference, IntervalSamples); ok && d >= interval {
				add("duration", togglr.ErrInvalidDuration, "duration %s must be shorter than the %s between triggers",
					duration.Format(d), interval)
			}
		}
	}

	for _, o := range others {
		switch o.Kind {
		case togglr.ScheduleKindRecurring:
			add("kind", togglr.ErrConflictingScheduleTypes, "feature already has recurring schedule %s", o.ID)
		case togglr.ScheduleKindOneShot:
			add("kind", togglr.ErrConflictingScheduleTypes, "feature has one-shot schedules; remove them first")
			return
		}
	}
}

func validateOneShot(s *togglr.Schedule, others []*togglr.Schedule, add addFunc) {
	if s.CronExpr != "" || s.CronDuration != "" {
		add("cron", togglr.ErrValidation, "one-shot schedules take no cron or duration")
	}

	if s.StartsAt == nil {
		add("starts_at", togglr.ErrValidation, "starts_at is required")
	}
	if s.EndsAt == nil {
		add("ends_at", togglr.ErrValidation, "ends_at is required")
	}
	bounded := s.StartsAt != nil && s.EndsAt != nil
	if bounded && !s.StartsAt.Before(*s.EndsAt) {
		add("ends_at", togglr.ErrValidation, "ends_at must be after starts_at")
		bounded = false
	}

	window := togglr.Window{}
	if bounded {
		window.Start, window.End = *s.StartsAt, *s.EndsAt
	}

	for _, o := range others {
		switch o.Kind {
		case togglr.ScheduleKindRecurring:
			add("kind", togglr.ErrConflictingScheduleTypes, "feature has recurring schedule %s; remove it first", o.ID)
		case togglr.ScheduleKindOneShot:
			if !bounded || o.StartsAt == nil || o.EndsAt == nil {
				continue
			}
			if window.Overlaps(togglr.Window{Start: *o.StartsAt, End: *o.EndsAt}) {
				add("starts_at", togglr.ErrOverlappingSchedules, "[%s, %s) overlaps schedule %s [%s, %s)",
					stamp(window.Start), stamp(window.End), o.ID, stamp(*o.StartsAt), stamp(*o.EndsAt))
			}
		}
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
