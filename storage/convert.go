package storage

import (
	"context"
	"fmt"
	"sort"

	togglr "github.com/togglr-project/togglr-sub001"
)

// FeatureRecord converts a domain feature to its storage form. Schedules
// are stored separately.
func FeatureRecord(f *togglr.Feature) *Feature {
	return &Feature{
		ID:             f.ID,
		Key:            f.Key,
		EnvironmentKey: f.EnvironmentKey,
		MasterEnabled:  f.MasterEnabled,
		Enabled:        f.Enabled,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// ScheduleRecord converts a domain schedule to its storage form
func ScheduleRecord(s *togglr.Schedule) *Schedule {
	c := s.Clone()
	return &Schedule{
		ID:           c.ID,
		FeatureID:    c.FeatureID,
		Kind:         string(c.Kind),
		CronExpr:     c.CronExpr,
		CronDuration: c.CronDuration,
		Action:       string(c.Action),
		Timezone:     c.Timezone,
		StartsAt:     c.StartsAt,
		EndsAt:       c.EndsAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// ToDomain converts a stored schedule back to the domain type
func (s *Schedule) ToDomain() *togglr.Schedule {
	out := &togglr.Schedule{
		ID:           s.ID,
		FeatureID:    s.FeatureID,
		Kind:         togglr.ScheduleKind(s.Kind),
		CronExpr:     s.CronExpr,
		CronDuration: s.CronDuration,
		Action:       togglr.Action(s.Action),
		Timezone:     s.Timezone,
		StartsAt:     s.StartsAt,
		EndsAt:       s.EndsAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	return out.Clone()
}

// ToDomain assembles a domain feature from its record and schedules
func (f *Feature) ToDomain(schedules []*Schedule) *togglr.Feature {
	out := &togglr.Feature{
		ID:             f.ID,
		Key:            f.Key,
		EnvironmentKey: f.EnvironmentKey,
		MasterEnabled:  f.MasterEnabled,
		Enabled:        f.Enabled,
		Schedules:      make([]*togglr.Schedule, 0, len(schedules)),
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
	for _, s := range schedules {
		out.Schedules = append(out.Schedules, s.ToDomain())
	}
	sort.SliceStable(out.Schedules, func(i, j int) bool {
		return out.Schedules[i].CreatedAt.Before(out.Schedules[j].CreatedAt)
	})
	return out
}

// LoadFeature reads a feature and its schedules as one domain value
func LoadFeature(ctx context.Context, s Storage, featureID string) (*togglr.Feature, error) {
	record, err := s.GetFeature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	return loadSchedules(ctx, s, record)
}

// LoadFeatureByKey is LoadFeature addressed by environment and flag key
func LoadFeatureByKey(ctx context.Context, s Storage, environmentKey, key string) (*togglr.Feature, error) {
	record, err := s.GetFeatureByKey(ctx, environmentKey, key)
	if err != nil {
		return nil, err
	}
	return loadSchedules(ctx, s, record)
}

func loadSchedules(ctx context.Context, s Storage, record *Feature) (*togglr.Feature, error) {
	schedules, err := s.ListSchedulesByFeatureID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules of feature %s: %w", record.ID, err)
	}
	return record.ToDomain(schedules), nil
}
