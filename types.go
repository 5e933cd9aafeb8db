package togglr

import (
	"time"
)

// Action is what a schedule does to a feature while one of its windows is open
type Action string

const (
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

// Enabled reports the feature state the action produces
func (a Action) Enabled() bool {
	return a == ActionEnable
}

// Opposite returns the other action
func (a Action) Opposite() Action {
	if a == ActionEnable {
		return ActionDisable
	}
	return ActionEnable
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	return a == ActionEnable || a == ActionDisable
}

// ScheduleKind distinguishes cron-driven schedules from fixed intervals
type ScheduleKind string

const (
	ScheduleKindRecurring ScheduleKind = "recurring"
	ScheduleKindOneShot   ScheduleKind = "one_shot"
)

// Schedule is a single enablement rule owned by a feature.
//
// Recurring schedules carry CronExpr and CronDuration; StartsAt and EndsAt
// optionally bound their triggers. One-shot schedules carry a mandatory
// StartsAt/EndsAt interval.
type Schedule struct {
	ID           string       `json:"id" yaml:"id,omitempty"`
	FeatureID    string       `json:"feature_id" yaml:"-"`
	Kind         ScheduleKind `json:"kind" yaml:"kind"`
	CronExpr     string       `json:"cron_expr,omitempty" yaml:"cron,omitempty"`
	CronDuration string       `json:"cron_duration,omitempty" yaml:"duration,omitempty"`
	Action       Action       `json:"action" yaml:"action"`
	Timezone     string       `json:"timezone" yaml:"timezone"`
	StartsAt     *time.Time   `json:"starts_at,omitempty" yaml:"starts_at,omitempty"`
	EndsAt       *time.Time   `json:"ends_at,omitempty" yaml:"ends_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"-"`
}

// IsRecurring reports whether the schedule is cron driven
func (s *Schedule) IsRecurring() bool {
	return s.Kind == ScheduleKindRecurring
}

// IsOneShot reports whether the schedule is a fixed interval
func (s *Schedule) IsOneShot() bool {
	return s.Kind == ScheduleKindOneShot
}

// Clone returns a deep copy of the schedule
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.StartsAt != nil {
		t := *s.StartsAt
		c.StartsAt = &t
	}
	if s.EndsAt != nil {
		t := *s.EndsAt
		c.EndsAt = &t
	}
	return &c
}

// Window is a concrete [Start, End) interval during which Action is in effect.
// Windows are derived from schedules and never stored.
type Window struct {
	Start      time.Time
	End        time.Time
	Action     Action
	CreatedAt  time.Time
	ScheduleID string
}

// Overlaps applies the half-open interval test
func (w Window) Overlaps(other Window) bool {
	return !(!w.End.After(other.Start) || !w.Start.Before(other.End))
}

// TimelineEvent is one state transition within an evaluated window
type TimelineEvent struct {
	Instant time.Time `json:"timestamp"`
	Enabled bool      `json:"enabled"`
}

// EvaluatorConfig bounds timeline evaluation
type EvaluatorConfig struct {
	MaxWindow     time.Duration `json:"max_window"`
	DefaultWindow time.Duration `json:"default_window"`
}

// SchedulerConfig holds runtime scheduler configuration
type SchedulerConfig struct {
	MaxConcurrent  int           `json:"max_concurrent"`
	ResyncInterval time.Duration `json:"resync_interval"`
	Lookahead      time.Duration `json:"lookahead"`
	NodeID         string        `json:"node_id"`
	RetryPolicy    RetryPolicy   `json:"retry_policy"`
}

// RetryPolicy defines retry behavior when persisting a transition
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	BackoffFactor float64       `json:"backoff_factor"`
}

const (
	// DefaultMaxWindow mirrors the seven day limit the console enforces
	DefaultMaxWindow     = 7 * 24 * time.Hour
	DefaultQueryWindow   = 24 * time.Hour
	DefaultResync        = 5 * time.Minute
	DefaultLookahead     = 24 * time.Hour
	DefaultMaxConcurrent = 10
)

// DefaultEvaluatorConfig returns the evaluator limits used when none are configured
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		MaxWindow:     DefaultMaxWindow,
		DefaultWindow: DefaultQueryWindow,
	}
}

// DefaultRetryPolicy returns the policy used by the transition applier
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		RetryInterval: 200 * time.Millisecond,
		BackoffFactor: 2,
	}
}
