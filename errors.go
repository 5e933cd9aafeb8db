package togglr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the API boundary can translate them into
// user facing messages without string matching.
type ErrorKind string

const (
	ErrInvalidDuration          ErrorKind = "invalid duration"
	ErrInvalidCronExpression    ErrorKind = "invalid cron expression"
	ErrOverlappingSchedules     ErrorKind = "overlapping schedules"
	ErrConflictingScheduleTypes ErrorKind = "conflicting schedule types"
	ErrInvalidTimezone          ErrorKind = "invalid timezone"
	ErrWindowTooLarge           ErrorKind = "window too large"
	ErrInvalidWindow            ErrorKind = "invalid window"
	ErrValidation               ErrorKind = "validation failed"
	ErrFeatureNotFound          ErrorKind = "feature not found"
	ErrScheduleNotFound         ErrorKind = "schedule not found"

	// ErrNoScheduleBaseline is not a failure: it tells the caller that no
	// schedule applies and the manual state must be left untouched.
	ErrNoScheduleBaseline ErrorKind = "no schedule baseline"
)

func (k ErrorKind) Error() string {
	return string(k)
}

// WithArgs returns a new error of kind k with a formatted detail.
func (k ErrorKind) WithArgs(format string, args ...any) error {
	return &KindError{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns a new error of kind k that also unwraps to err.
func (k ErrorKind) Wrap(err error, format string, args ...any) error {
	return &KindError{Kind: k, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindError carries an ErrorKind plus context. errors.Is(err, kind) matches it.
type KindError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *KindError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KindError) Unwrap() error {
	return e.Err
}

func (e *KindError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the first KindError (or bare ErrorKind) in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k, true
	}
	return "", false
}
