package togglr

import (
	"sort"
	"sync"
	"time"
)

// Feature is a flag in one environment together with the schedules it owns
type Feature struct {
	ID             string      `json:"id" yaml:"id,omitempty"`
	Key            string      `json:"key" yaml:"key"`
	EnvironmentKey string      `json:"environment_key" yaml:"environment"`
	MasterEnabled  bool        `json:"master_enabled" yaml:"master_enabled"`
	Enabled        bool        `json:"enabled" yaml:"enabled"`
	Schedules      []*Schedule `json:"schedules" yaml:"schedules"`
	CreatedAt      time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time   `json:"updated_at" yaml:"-"`

	mu sync.RWMutex
}

// NewFeature creates a feature with no schedules
func NewFeature(id, environmentKey, key string, masterEnabled bool) *Feature {
	now := time.Now()
	return &Feature{
		ID:             id,
		Key:            key,
		EnvironmentKey: environmentKey,
		MasterEnabled:  masterEnabled,
		Schedules:      make([]*Schedule, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// HasSchedules reports whether any schedule is attached
func (f *Feature) HasSchedules() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.Schedules) > 0
}

// ScheduleKind returns the kind shared by every schedule of the feature.
// It returns "" when there are no schedules and fails when recurring and
// one-shot schedules are mixed or more than one recurring schedule exists.
func (f *Feature) ScheduleKind() (ScheduleKind, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return kindOf(f.Schedules)
}

// Recurring returns the recurring schedule, or nil
func (f *Feature) Recurring() *Schedule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.Schedules {
		if s.IsRecurring() {
			return s
		}
	}
	return nil
}

// OneShots returns the one-shot schedules ordered by start
func (f *Feature) OneShots() []*Schedule {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]*Schedule, 0, len(f.Schedules))
	for _, s := range f.Schedules {
		if s.IsOneShot() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return startOf(out[i]).Before(startOf(out[j]))
	})
	return out
}

// AddSchedule attaches a schedule to the feature. Callers validate first.
func (f *Feature) AddSchedule(s *Schedule) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s.FeatureID = f.ID
	f.Schedules = append(f.Schedules, s)
	f.UpdatedAt = time.Now()
}

// ReplaceSchedule swaps the schedule with the same ID, keeping its CreatedAt.
// It returns false if no such schedule exists.
func (f *Feature) ReplaceSchedule(s *Schedule) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, existing := range f.Schedules {
		if existing.ID == s.ID {
			s.FeatureID = f.ID
			s.CreatedAt = existing.CreatedAt
			f.Schedules[i] = s
			f.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// RemoveSchedule detaches a schedule. It returns false if it was not attached.
func (f *Feature) RemoveSchedule(scheduleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, existing := range f.Schedules {
		if existing.ID == scheduleID {
			f.Schedules = append(f.Schedules[:i], f.Schedules[i+1:]...)
			f.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// WithSchedules returns a copy of the feature carrying the given schedules
// instead of its own. Used to preview unsaved schedule sets.
func (f *Feature) WithSchedules(schedules []*Schedule) *Feature {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &Feature{
		ID:             f.ID,
		Key:            f.Key,
		EnvironmentKey: f.EnvironmentKey,
		MasterEnabled:  f.MasterEnabled,
		Enabled:        f.Enabled,
		Schedules:      schedules,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// SchedulesSnapshot returns a copy of the schedule slice
func (f *Feature) SchedulesSnapshot() []*Schedule {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]*Schedule, len(f.Schedules))
	copy(out, f.Schedules)
	return out
}

func kindOf(schedules []*Schedule) (ScheduleKind, error) {
	var recurring, oneShot int
	for i, s := range schedules {
		if s == nil {
			return "", ErrValidation.WithArgs("schedule %d is missing", i)
		}
		switch s.Kind {
		case ScheduleKindRecurring:
			recurring++
		case ScheduleKindOneShot:
			oneShot++
		default:
			return "", ErrConflictingScheduleTypes.WithArgs("schedule %s has unknown kind %q", s.ID, s.Kind)
		}
	}

	switch {
	case recurring > 0 && oneShot > 0:
		return "", ErrConflictingScheduleTypes.WithArgs("%d recurring and %d one-shot schedules", recurring, oneShot)
	case recurring > 1:
		return "", ErrConflictingScheduleTypes.WithArgs("%d recurring schedules, at most one allowed", recurring)
	case recurring == 1:
		return ScheduleKindRecurring, nil
	case oneShot > 0:
		return ScheduleKindOneShot, nil
	}
	return "", nil
}

// KindOfSchedules applies the feature invariant to a bare schedule list
func KindOfSchedules(schedules []*Schedule) (ScheduleKind, error) {
	return kindOf(schedules)
}

func startOf(s *Schedule) time.Time {
	if s.StartsAt == nil {
		return time.Time{}
	}
	return *s.StartsAt
}
