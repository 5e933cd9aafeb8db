// Package duration parses the compact duration strings used by recurring
// schedules ("30m", "2h", "1d").
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	togglr "github.com/togglr-project/togglr-sub001"
)

const Day = 24 * time.Hour

// unitMultipliers maps unit suffixes to their duration values.
var unitMultipliers = map[string]time.Duration{
	"m": time.Minute,
	"h": time.Hour,
	"d": Day,
}

var durationPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// Parse converts a single-unit duration string into a time.Duration.
// Units are m (minutes), h (hours) and d (days), case-insensitive.
//
//	Parse("30m") // 30 minutes
//	Parse("2H")  // 2 hours
//	Parse("1d")  // 24 hours
func Parse(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, togglr.ErrInvalidDuration.WithArgs("empty duration string")
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, togglr.ErrInvalidDuration.WithArgs("%q does not match <number><m|h|d>", s)
	}

	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, togglr.ErrInvalidDuration.Wrap(err, "value %q", m[1])
	}

	multiplier := unitMultipliers[m[2]]
	if value > int64(1<<62)/int64(multiplier) {
		return 0, togglr.ErrInvalidDuration.WithArgs("%q overflows", s)
	}

	return time.Duration(value) * multiplier, nil
}

// Format renders d with the largest unit that divides it evenly, so that
// Parse(Format(d)) == d for every whole number of minutes. Sub-minute
// remainders are truncated.
func Format(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d >= Day && d%Day == 0:
		return fmt.Sprintf("%dd", d/Day)
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}
