// Package storagetest holds the behaviour every storage backend must share.
// Backend tests call Run with a factory for a fresh, empty store.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/storage"
)

// Factory opens an empty store. Run closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the shared suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"FeatureCRUD", testFeatureCRUD},
		{"FeatureUniqueness", testFeatureUniqueness},
		{"ScheduleCRUD", testScheduleCRUD},
		{"ScheduleNeedsFeature", testScheduleNeedsFeature},
		{"TransitionsAreRecordedOnce", testTransitions},
		{"DeleteFeatureCascades", testDeleteCascade},
		{"LoadFeature", testLoadFeature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func feature(id, env, key string) *storage.Feature {
	return &storage.Feature{
		ID:             id,
		Key:            key,
		EnvironmentKey: env,
		MasterEnabled:  true,
		CreatedAt:      base,
	}
}

func oneShot(id, featureID string, offset time.Duration) *storage.Schedule {
	start := base.Add(offset)
	end := start.Add(time.Hour)
	return &storage.Schedule{
		ID:        id,
		FeatureID: featureID,
		Kind:      string(togglr.ScheduleKindOneShot),
		Action:    string(togglr.ActionEnable),
		Timezone:  "UTC",
		StartsAt:  &start,
		EndsAt:    &end,
		CreatedAt: base.Add(offset),
	}
}

func testFeatureCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.GetFeature(ctx, "feat_missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	f := feature("feat_1", "production", "checkout")
	require.NoError(t, s.CreateFeature(ctx, f))

	got, err := s.GetFeature(ctx, "feat_1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Key)
	assert.Equal(t, "production", got.EnvironmentKey)
	assert.True(t, got.MasterEnabled)
	assert.False(t, got.Enabled)
	assert.True(t, base.Equal(got.CreatedAt))

	byKey, err := s.GetFeatureByKey(ctx, "production", "checkout")
	require.NoError(t, err)
	assert.Equal(t, "feat_1", byKey.ID)

	_, err = s.GetFeatureByKey(ctx, "staging", "checkout")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	applied := base.Add(time.Hour)
	got.Enabled = true
	got.MasterEnabled = false
	got.LastTransitionID = "trn_1"
	got.LastTransitionAt = &applied
	got.Key = "renamed"
	require.NoError(t, s.UpdateFeature(ctx, got))

	updated, err := s.GetFeature(ctx, "feat_1")
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.False(t, updated.MasterEnabled)
	assert.Equal(t, "checkout", updated.Key, "key is immutable")
	assert.Equal(t, "trn_1", updated.LastTransitionID)
	require.NotNil(t, updated.LastTransitionAt)
	assert.True(t, applied.Equal(*updated.LastTransitionAt))
	assert.Equal(t, got.Version, updated.Version)
	assert.True(t, updated.Version > 0)

	err = s.UpdateFeature(ctx, feature("feat_missing", "production", "x"))
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.CreateFeature(ctx, feature("feat_2", "staging", "checkout")))
	all, err := s.ListFeatures(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testFeatureUniqueness(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.CreateFeature(ctx, feature("feat_1", "production", "checkout")))

	err := s.CreateFeature(ctx, feature("feat_1", "production", "other"))
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "same id: %v", err)

	err = s.CreateFeature(ctx, feature("feat_2", "production", "checkout"))
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "same key: %v", err)

	assert.NoError(t, s.CreateFeature(ctx, feature("feat_3", "staging", "checkout")))
}

func testScheduleCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateFeature(ctx, feature("feat_1", "production", "checkout")))

	later := oneShot("sch_b", "feat_1", 2*time.Hour)
	earlier := oneShot("sch_a", "feat_1", 0)
	require.NoError(t, s.CreateSchedule(ctx, later))
	require.NoError(t, s.CreateSchedule(ctx, earlier))

	err := s.CreateSchedule(ctx, oneShot("sch_a", "feat_1", 0))
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)

	got, err := s.GetSchedule(ctx, "sch_b")
	require.NoError(t, err)
	assert.Equal(t, "feat_1", got.FeatureID)
	assert.Equal(t, string(togglr.ScheduleKindOneShot), got.Kind)
	require.NotNil(t, got.StartsAt)
	assert.True(t, later.StartsAt.Equal(*got.StartsAt))

	list, err := s.ListSchedulesByFeatureID(ctx, "feat_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sch_a", list[0].ID, "ordered by created_at")
	assert.Equal(t, "sch_b", list[1].ID)

	replacement := &storage.Schedule{
		ID:           "sch_b",
		Kind:         string(togglr.ScheduleKindRecurring),
		CronExpr:     "0 9 * * *",
		CronDuration: "1h",
		Action:       string(togglr.ActionDisable),
		Timezone:     "Europe/Berlin",
		CreatedAt:    base.Add(48 * time.Hour),
	}
	require.NoError(t, s.UpdateSchedule(ctx, replacement))

	got, err = s.GetSchedule(ctx, "sch_b")
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", got.CronExpr)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.Nil(t, got.StartsAt)
	assert.Equal(t, "feat_1", got.FeatureID)
	assert.True(t, later.CreatedAt.Equal(got.CreatedAt), "created_at is immutable")

	err = s.UpdateSchedule(ctx, oneShot("sch_missing", "feat_1", 0))
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.DeleteSchedule(ctx, "sch_a"))
	_, err = s.GetSchedule(ctx, "sch_a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	err = s.DeleteSchedule(ctx, "sch_a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	list, err = s.ListSchedulesByFeatureID(ctx, "feat_1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testScheduleNeedsFeature(t *testing.T, s storage.Storage) {
	err := s.CreateSchedule(context.Background(), oneShot("sch_a", "feat_missing", 0))
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testTransitions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateFeature(ctx, feature("feat_1", "production", "checkout")))

	second := &storage.Transition{ID: "trn_2", FeatureID: "feat_1", ScheduledAt: base.Add(time.Hour), AppliedAt: base.Add(time.Hour)}
	first := &storage.Transition{ID: "trn_1", FeatureID: "feat_1", ScheduledAt: base, Enabled: true, AppliedAt: base, NodeID: "node-a", Recovery: true}
	require.NoError(t, s.CreateTransition(ctx, second))
	require.NoError(t, s.CreateTransition(ctx, first))

	err := s.CreateTransition(ctx, &storage.Transition{ID: "trn_1", FeatureID: "feat_1", ScheduledAt: base})
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)

	err = s.CreateTransition(ctx, &storage.Transition{ID: "trn_3", FeatureID: "feat_missing", ScheduledAt: base})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	list, err := s.ListTransitionsByFeatureID(ctx, "feat_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "trn_1", list[0].ID)
	assert.True(t, list[0].Enabled)
	assert.True(t, list[0].Recovery)
	assert.Equal(t, "node-a", list[0].NodeID)
	assert.Equal(t, "trn_2", list[1].ID)
}

func testDeleteCascade(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateFeature(ctx, feature("feat_1", "production", "checkout")))
	require.NoError(t, s.CreateFeature(ctx, feature("feat_2", "production", "search")))
	require.NoError(t, s.CreateSchedule(ctx, oneShot("sch_a", "feat_1", 0)))
	require.NoError(t, s.CreateSchedule(ctx, oneShot("sch_b", "feat_2", 0)))
	require.NoError(t, s.CreateTransition(ctx, &storage.Transition{ID: "trn_1", FeatureID: "feat_1", ScheduledAt: base}))

	require.NoError(t, s.DeleteFeature(ctx, "feat_1"))

	_, err := s.GetFeature(ctx, "feat_1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.GetSchedule(ctx, "sch_a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.GetFeatureByKey(ctx, "production", "checkout")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	schedules, err := s.ListSchedulesByFeatureID(ctx, "feat_1")
	require.NoError(t, err)
	assert.Empty(t, schedules)
	transitions, err := s.ListTransitionsByFeatureID(ctx, "feat_1")
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// Other features are untouched and the key can be reused
	_, err = s.GetSchedule(ctx, "sch_b")
	assert.NoError(t, err)
	assert.NoError(t, s.CreateFeature(ctx, feature("feat_3", "production", "checkout")))

	err = s.DeleteFeature(ctx, "feat_1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testLoadFeature(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateFeature(ctx, feature("feat_1", "production", "checkout")))
	require.NoError(t, s.CreateSchedule(ctx, oneShot("sch_b", "feat_1", time.Hour)))
	require.NoError(t, s.CreateSchedule(ctx, oneShot("sch_a", "feat_1", 0)))

	f, err := storage.LoadFeature(ctx, s, "feat_1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", f.Key)
	require.Len(t, f.Schedules, 2)
	assert.Equal(t, "sch_a", f.Schedules[0].ID)
	assert.Equal(t, togglr.ActionEnable, f.Schedules[0].Action)
	assert.Equal(t, "feat_1", f.Schedules[0].FeatureID)

	kind, err := f.ScheduleKind()
	require.NoError(t, err)
	assert.Equal(t, togglr.ScheduleKindOneShot, kind)

	byKey, err := storage.LoadFeatureByKey(ctx, s, "production", "checkout")
	require.NoError(t, err)
	assert.Len(t, byKey.Schedules, 2)

	_, err = storage.LoadFeature(ctx, s, "feat_missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
