package ticker

import (
	"time"

	togglr "github.com/togglr-project/togglr-sub001"
)

// MaxOccurrenceIterations is the safety limit for occurrence calculations.
// A week of per-minute triggers fits with room to spare.
const MaxOccurrenceIterations = 20000

// DefaultTimezone is used when a config leaves Timezone empty
const DefaultTimezone = "UTC"

// ExecutionContext is emitted when a transition becomes due
type ExecutionContext struct {
	ScheduledTime time.Time
	ActualTime    time.Time
	Enabled       bool
}

// Ticker defines the live wake-up mechanism the runtime scheduler uses
type Ticker interface {
	// Channel returns a read-only channel that emits due transitions
	Channel() <-chan ExecutionContext

	// Control methods
	Start() error
	Stop() error
	Pause() error
	Resume() error

	IsPaused() bool
	NextRun() (*time.Time, error)
}

// TickerConfig bounds a schedule's triggers and names its timezone
type TickerConfig struct {
	StartTime *time.Time
	EndTime   *time.Time
	Timezone  string
}

// isWithinWindow checks if the given time is within the configured bounds
func (c TickerConfig) isWithinWindow(checkTime time.Time) bool {
	if c.StartTime != nil && checkTime.Before(*c.StartTime) {
		return false
	}
	if c.EndTime != nil && checkTime.After(*c.EndTime) {
		return false
	}
	return true
}

// LoadLocation resolves an IANA zone name, defaulting to UTC when empty
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	// "Local" would tie evaluation to the server's zone
	if timezone == "Local" {
		return nil, togglr.ErrInvalidTimezone.WithArgs("%s is not an IANA zone", timezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, togglr.ErrInvalidTimezone.Wrap(err, "%s", timezone)
	}
	return loc, nil
}
