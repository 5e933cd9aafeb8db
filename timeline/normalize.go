package timeline

import (
	"sort"

	togglr "github.com/togglr-project/togglr-sub001"
)

// NormalizeOneShots converts one-shot schedules into windows ordered by
// start. Overlapping input is rejected with ErrOverlappingSchedules instead
// of picking a winner.
func NormalizeOneShots(schedules []*togglr.Schedule) ([]togglr.Window, error) {
	windows, err := oneShotWindows(schedules)
	if err != nil {
		return nil, err
	}

	// reach is the window ending furthest so far; a later start before its
	// end overlaps it.
	reach := 0
	for i := 1; i < len(windows); i++ {
		if windows[i].Overlaps(windows[reach]) {
			return nil, togglr.ErrOverlappingSchedules.WithArgs("schedule %s [%s, %s) overlaps schedule %s [%s, %s)",
				windows[i].ScheduleID, stamp(windows[i].Start), stamp(windows[i].End),
				windows[reach].ScheduleID, stamp(windows[reach].Start), stamp(windows[reach].End))
		}
		if windows[i].End.After(windows[reach].End) {
			reach = i
		}
	}
	return windows, nil
}

// oneShotWindows converts and sorts without rejecting overlaps. The
// evaluator resolves overlaps from stale data by the conflict rule.
func oneShotWindows(schedules []*togglr.Schedule) ([]togglr.Window, error) {
	windows := make([]togglr.Window, 0, len(schedules))
	for i, s := range schedules {
		if s == nil {
			return nil, togglr.ErrValidation.WithArgs("schedule %d is missing", i)
		}
		if !s.IsOneShot() {
			return nil, togglr.ErrConflictingScheduleTypes.WithArgs("schedule %s is %s, not one-shot", s.ID, s.Kind)
		}
		if s.StartsAt == nil || s.EndsAt == nil {
			return nil, togglr.ErrValidation.WithArgs("one-shot schedule %s needs starts_at and ends_at", s.ID)
		}
		if !s.StartsAt.Before(*s.EndsAt) {
			return nil, togglr.ErrValidation.WithArgs("one-shot schedule %s ends before it starts", s.ID)
		}
		windows = append(windows, togglr.Window{
			Start:      *s.StartsAt,
			End:        *s.EndsAt,
			Action:     s.Action,
			CreatedAt:  s.CreatedAt,
			ScheduleID: s.ID,
		})
	}

	sort.SliceStable(windows, func(i, j int) bool {
		if !windows[i].Start.Equal(windows[j].Start) {
			return windows[i].Start.Before(windows[j].Start)
		}
		return windows[i].CreatedAt.Before(windows[j].CreatedAt)
	})
	return windows, nil
}
