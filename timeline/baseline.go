// Package timeline turns a feature's master switch and schedules into the
// ordered list of state changes over a query window.
package timeline

import (
	togglr "github.com/togglr-project/togglr-sub001"
)

// ResolveBaseline returns the state a feature sits in outside every window.
//
// With no schedules it returns togglr.ErrNoScheduleBaseline: the manual
// state applies and must be left untouched. A recurring schedule yields the
// opposite of its action. A one-shot set yields Disable when every one-shot
// enables and Enable as soon as one of them disables.
func ResolveBaseline(schedules []*togglr.Schedule) (togglr.Action, error) {
	kind, err := togglr.KindOfSchedules(schedules)
	if err != nil {
		return "", err
	}

	for _, s := range schedules {
		if !s.Action.Valid() {
			return "", togglr.ErrValidation.WithArgs("schedule %s has unknown action %q", s.ID, s.Action)
		}
	}

	switch kind {
	case togglr.ScheduleKindRecurring:
		return schedules[0].Action.Opposite(), nil
	case togglr.ScheduleKindOneShot:
		for _, s := range schedules {
			if s.Action == togglr.ActionDisable {
				return togglr.ActionEnable, nil
			}
		}
		return togglr.ActionDisable, nil
	}
	return "", togglr.ErrNoScheduleBaseline
}
