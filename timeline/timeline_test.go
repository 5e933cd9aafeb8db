package timeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	togglr "github.com/togglr-project/togglr-sub001"
)

var created = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func recurring(cron, dur string, action togglr.Action, tz string) *togglr.Schedule {
	return &togglr.Schedule{
		ID:           "sch_rec",
		Kind:         togglr.ScheduleKindRecurring,
		CronExpr:     cron,
		CronDuration: dur,
		Action:       action,
		Timezone:     tz,
		CreatedAt:    created,
	}
}

func oneShot(id, start, end string, action togglr.Action, createdAt time.Time) *togglr.Schedule {
	s, e := at(start), at(end)
	return &togglr.Schedule{
		ID:        id,
		Kind:      togglr.ScheduleKindOneShot,
		Action:    action,
		Timezone:  "UTC",
		StartsAt:  &s,
		EndsAt:    &e,
		CreatedAt: createdAt,
	}
}

func featureWith(master bool, schedules ...*togglr.Schedule) *togglr.Feature {
	f := togglr.NewFeature("feat_z", "production", "z", master)
	for _, s := range schedules {
		f.AddSchedule(s)
	}
	return f
}

func ev(instant string, enabled bool) togglr.TimelineEvent {
	return togglr.TimelineEvent{Instant: at(instant), Enabled: enabled}
}

func TestResolveBaseline(t *testing.T) {
	e, d := togglr.ActionEnable, togglr.ActionDisable
	shot := func(a togglr.Action) *togglr.Schedule {
		return oneShot("s", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", a, created)
	}

	tests := []struct {
		name      string
		schedules []*togglr.Schedule
		want      togglr.Action
		wantErr   togglr.ErrorKind
	}{
		{name: "no schedules", wantErr: togglr.ErrNoScheduleBaseline},
		{name: "recurring enable", schedules: []*togglr.Schedule{recurring("0 * * * *", "30m", e, "UTC")}, want: d},
		{name: "recurring disable", schedules: []*togglr.Schedule{recurring("0 * * * *", "30m", d, "UTC")}, want: e},
		{name: "one enable", schedules: []*togglr.Schedule{shot(e)}, want: d},
		{name: "one disable", schedules: []*togglr.Schedule{shot(d)}, want: e},
		{name: "all enable", schedules: []*togglr.Schedule{shot(e), shot(e), shot(e)}, want: d},
		{name: "all disable", schedules: []*togglr.Schedule{shot(d), shot(d)}, want: e},
		{name: "disable first", schedules: []*togglr.Schedule{shot(d), shot(e)}, want: e},
		{name: "disable last", schedules: []*togglr.Schedule{shot(e), shot(e), shot(d)}, want: e},
		{
			name:      "mixed kinds",
			schedules: []*togglr.Schedule{recurring("0 * * * *", "30m", e, "UTC"), shot(e)},
			wantErr:   togglr.ErrConflictingScheduleTypes,
		},
		{
			name: "two recurring",
			schedules: []*togglr.Schedule{
				recurring("0 * * * *", "30m", e, "UTC"),
				recurring("0 9 * * *", "1h", d, "UTC"),
			},
			wantErr: togglr.ErrConflictingScheduleTypes,
		},
		{name: "unknown action", schedules: []*togglr.Schedule{shot("toggle")}, wantErr: togglr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBaseline(tt.schedules)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Every combination of up to four one-shot actions: the baseline is Disable
// exactly when all of them enable.
func TestResolveBaselineExhaustiveOneShots(t *testing.T) {
	for n := 1; n <= 4; n++ {
		for mask := 0; mask < 1<<n; mask++ {
			schedules := make([]*togglr.Schedule, n)
			allEnable := true
			for i := 0; i < n; i++ {
				action := togglr.ActionEnable
				if mask&(1<<i) != 0 {
					action = togglr.ActionDisable
					allEnable = false
				}
				start := time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC)
				end := start.Add(30 * time.Minute)
				schedules[i] = &togglr.Schedule{
					ID:       fmt.Sprintf("s%d", i),
					Kind:     togglr.ScheduleKindOneShot,
					Action:   action,
					StartsAt: &start,
					EndsAt:   &end,
				}
			}

			got, err := ResolveBaseline(schedules)
			require.NoError(t, err)
			if allEnable {
				assert.Equal(t, togglr.ActionDisable, got, "n=%d mask=%b", n, mask)
			} else {
				assert.Equal(t, togglr.ActionEnable, got, "n=%d mask=%b", n, mask)
			}
		}
	}
}

func TestNormalizeOneShots(t *testing.T) {
	windows, err := NormalizeOneShots([]*togglr.Schedule{
		oneShot("b", "2024-01-01T13:00:00Z", "2024-01-01T14:00:00Z", togglr.ActionEnable, created),
		oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionDisable, created),
		oneShot("c", "2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z", togglr.ActionEnable, created),
	})
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, "a", windows[0].ScheduleID)
	assert.Equal(t, "c", windows[1].ScheduleID)
	assert.Equal(t, "b", windows[2].ScheduleID)
	assert.Equal(t, togglr.ActionDisable, windows[0].Action)
	assert.Equal(t, at("2024-01-01T11:00:00Z"), windows[1].Start)
}

func TestNormalizeOneShotsRejectsOverlap(t *testing.T) {
	tests := []struct {
		name      string
		schedules []*togglr.Schedule
	}{
		{
			name: "partial overlap",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-01T10:30:00Z", "2024-01-01T11:30:00Z", togglr.ActionEnable, created),
			},
		},
		{
			name: "contained after a short window",
			schedules: []*togglr.Schedule{
				oneShot("long", "2024-01-01T08:00:00Z", "2024-01-01T18:00:00Z", togglr.ActionEnable, created),
				oneShot("short", "2024-01-01T09:00:00Z", "2024-01-01T09:30:00Z", togglr.ActionEnable, created),
				oneShot("late", "2024-01-01T12:00:00Z", "2024-01-01T13:00:00Z", togglr.ActionEnable, created),
			},
		},
		{
			name: "identical",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionDisable, created),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeOneShots(tt.schedules)
			require.Error(t, err)
			assert.True(t, errors.Is(err, togglr.ErrOverlappingSchedules), "got %v", err)
		})
	}
}

func TestNormalizeOneShotsInvalidInput(t *testing.T) {
	_, err := NormalizeOneShots([]*togglr.Schedule{recurring("0 * * * *", "30m", togglr.ActionEnable, "UTC")})
	assert.True(t, errors.Is(err, togglr.ErrConflictingScheduleTypes))

	backwards := oneShot("a", "2024-01-01T11:00:00Z", "2024-01-01T10:00:00Z", togglr.ActionEnable, created)
	_, err = NormalizeOneShots([]*togglr.Schedule{backwards})
	assert.True(t, errors.Is(err, togglr.ErrValidation))

	open := oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created)
	open.EndsAt = nil
	_, err = NormalizeOneShots([]*togglr.Schedule{open})
	assert.True(t, errors.Is(err, togglr.ErrValidation))

	_, err = NormalizeOneShots([]*togglr.Schedule{nil})
	assert.True(t, errors.Is(err, togglr.ErrValidation))

	f := featureWith(true)
	f.Schedules = []*togglr.Schedule{nil}
	_, err = NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-01-01T00:00:00Z"), at("2024-01-02T00:00:00Z"))
	assert.True(t, errors.Is(err, togglr.ErrValidation))

	windows, err := NormalizeOneShots(nil)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestExpandRecurring(t *testing.T) {
	s := recurring("30 9 * * *", "30m", togglr.ActionEnable, "UTC")

	windows, err := ExpandRecurring(s, at("2024-01-01T00:00:00Z"), at("2024-01-03T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, at("2024-01-01T09:30:00Z"), windows[0].Start)
	assert.Equal(t, at("2024-01-01T10:00:00Z"), windows[0].End)
	assert.Equal(t, "sch_rec", windows[1].ScheduleID)

	// Window already open at from is kept
	windows, err = ExpandRecurring(s, at("2024-01-01T09:45:00Z"), at("2024-01-01T12:00:00Z"))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, at("2024-01-01T09:30:00Z"), windows[0].Start)

	// A trigger exactly at to opens nothing inside [from, to)
	windows, err = ExpandRecurring(s, at("2024-01-01T00:00:00Z"), at("2024-01-01T09:30:00Z"))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestExpandRecurringErrors(t *testing.T) {
	from, to := at("2024-01-01T00:00:00Z"), at("2024-01-02T00:00:00Z")

	tests := []struct {
		name     string
		schedule *togglr.Schedule
		want     togglr.ErrorKind
	}{
		{"missing duration", recurring("0 * * * *", "", togglr.ActionEnable, "UTC"), togglr.ErrInvalidDuration},
		{"malformed duration", recurring("0 * * * *", "half an hour", togglr.ActionEnable, "UTC"), togglr.ErrInvalidDuration},
		{"zero duration", recurring("0 * * * *", "0m", togglr.ActionEnable, "UTC"), togglr.ErrInvalidDuration},
		{"bad cron", recurring("every hour", "30m", togglr.ActionEnable, "UTC"), togglr.ErrInvalidCronExpression},
		{"bad zone", recurring("0 * * * *", "30m", togglr.ActionEnable, "Nowhere/Land"), togglr.ErrInvalidTimezone},
		{"missing zone", recurring("0 * * * *", "30m", togglr.ActionEnable, ""), togglr.ErrInvalidTimezone},
		{"one-shot", oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created), togglr.ErrConflictingScheduleTypes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExpandRecurring(tt.schedule, from, to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEvaluateDailyScenario(t *testing.T) {
	f := featureWith(true, recurring("30 9 * * *", "30m", togglr.ActionEnable, "UTC"))

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-01-01T00:00:00Z"), at("2024-01-02T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-01-01T00:00:00Z", false),
		ev("2024-01-01T09:30:00Z", true),
		ev("2024-01-01T10:00:00Z", false),
	}, events)
}

func TestEvaluateHourlyHalfHourWindows(t *testing.T) {
	f := featureWith(true, recurring("0 * * * *", "30m", togglr.ActionEnable, "UTC"))
	from := at("2024-01-01T00:00:00Z")

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 48)

	for i := 0; i < len(events); i += 2 {
		on, off := events[i], events[i+1]
		assert.True(t, on.Enabled)
		assert.False(t, off.Enabled)
		assert.Equal(t, from.Add(time.Duration(i/2)*time.Hour), on.Instant)
		assert.Equal(t, 30*time.Minute, off.Instant.Sub(on.Instant))
	}
}

func TestEvaluateRecurringDisableStartsOn(t *testing.T) {
	f := featureWith(true, recurring("0 22 * * *", "8h", togglr.ActionDisable, "UTC"))

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-01-01T12:00:00Z"), at("2024-01-02T12:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-01-01T12:00:00Z", true),
		ev("2024-01-01T22:00:00Z", false),
		ev("2024-01-02T06:00:00Z", true),
	}, events)
}

func TestEvaluateWindowOpenAtFrom(t *testing.T) {
	f := featureWith(true, recurring("0 22 * * *", "8h", togglr.ActionDisable, "UTC"))

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-01-02T03:00:00Z"), at("2024-01-02T12:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-01-02T03:00:00Z", false),
		ev("2024-01-02T06:00:00Z", true),
	}, events)
}

func TestEvaluateRecurringAcrossDST(t *testing.T) {
	f := featureWith(true, recurring("30 2 * * *", "1h", togglr.ActionEnable, "America/New_York"))

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-03-10T00:00:00Z"), at("2024-03-11T00:00:00Z"))
	require.NoError(t, err)
	// 02:30 is skipped on 2024-03-10 and the window opens at 03:30 EDT
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-03-10T00:00:00Z", false),
		ev("2024-03-10T07:30:00Z", true),
		ev("2024-03-10T08:30:00Z", false),
	}, events)
}

func TestEvaluateHourlyAcrossFallBack(t *testing.T) {
	f := featureWith(true, recurring("0 * * * *", "30m", togglr.ActionEnable, "America/New_York"))

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-11-03T05:00:00Z"), at("2024-11-03T07:00:00Z"))
	require.NoError(t, err)
	// 01:00 EDT and 01:00 EST both open a window
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-11-03T05:00:00Z", true),
		ev("2024-11-03T05:30:00Z", false),
		ev("2024-11-03T06:00:00Z", true),
		ev("2024-11-03T06:30:00Z", false),
	}, events)
}

func TestEvaluateRecurringBounds(t *testing.T) {
	s := recurring("0 9 * * *", "1h", togglr.ActionEnable, "UTC")
	startsAt, endsAt := at("2024-01-02T00:00:00Z"), at("2024-01-03T00:00:00Z")
	s.StartsAt, s.EndsAt = &startsAt, &endsAt
	f := featureWith(true, s)

	events, err := NewEvaluator(togglr.EvaluatorConfig{}).Evaluate(f, at("2024-01-01T00:00:00Z"), at("2024-01-04T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []togglr.TimelineEvent{
		ev("2024-01-01T00:00:00Z", false),
		ev("2024-01-02T09:00:00Z", true),
		ev("2024-01-02T10:00:00Z", false),
	}, events)
}

func TestEvaluateMasterDisabled(t *testing.T) {
	from, to := at("2024-01-01T00:00:00Z"), at("2024-01-02T00:00:00Z")
	want := []togglr.TimelineEvent{{Instant: from, Enabled: false}}

	features := []*togglr.Feature{
		featureWith(false),
		featureWith(false, recurring("0 * * * *", "30m", togglr.ActionEnable, "UTC")),
		featureWith(false, oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionDisable, created)),
		// Even stale, invalid data stays off
		featureWith(false, recurring("nope", "", togglr.ActionEnable, "UTC")),
	}
	features[0].Enabled = true

	e := NewEvaluator(togglr.EvaluatorConfig{})
	for i, f := range features {
		events, err := e.Evaluate(f, from, to)
		require.NoError(t, err, "feature %d", i)
		assert.Equal(t, want, events, "feature %d", i)
	}
}

func TestEvaluateNoSchedulesKeepsManualState(t *testing.T) {
	from, to := at("2024-01-01T00:00:00Z"), at("2024-01-08T00:00:00Z")
	e := NewEvaluator(togglr.EvaluatorConfig{})

	for _, manual := range []bool{true, false} {
		f := featureWith(true)
		f.Enabled = manual

		events, err := e.Evaluate(f, from, to)
		require.NoError(t, err)
		assert.Equal(t, []togglr.TimelineEvent{{Instant: from, Enabled: manual}}, events)
	}
}

func TestEvaluateOneShots(t *testing.T) {
	tests := []struct {
		name      string
		schedules []*togglr.Schedule
		want      []togglr.TimelineEvent
	}{
		{
			name: "all enable",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-01T13:00:00Z", "2024-01-01T14:00:00Z", togglr.ActionEnable, created),
			},
			want: []togglr.TimelineEvent{
				ev("2024-01-01T09:00:00Z", false),
				ev("2024-01-01T10:00:00Z", true),
				ev("2024-01-01T11:00:00Z", false),
				ev("2024-01-01T13:00:00Z", true),
				ev("2024-01-01T14:00:00Z", false),
			},
		},
		{
			name: "adjacent windows collapse",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z", togglr.ActionEnable, created),
			},
			want: []togglr.TimelineEvent{
				ev("2024-01-01T09:00:00Z", false),
				ev("2024-01-01T10:00:00Z", true),
				ev("2024-01-01T12:00:00Z", false),
			},
		},
		{
			name: "any disable flips the baseline",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-01T13:00:00Z", "2024-01-01T14:00:00Z", togglr.ActionDisable, created),
			},
			want: []togglr.TimelineEvent{
				ev("2024-01-01T09:00:00Z", true),
				ev("2024-01-01T13:00:00Z", false),
				ev("2024-01-01T14:00:00Z", true),
			},
		},
		{
			name: "windows outside the query are ignored",
			schedules: []*togglr.Schedule{
				oneShot("a", "2023-12-31T10:00:00Z", "2023-12-31T11:00:00Z", togglr.ActionEnable, created),
				oneShot("b", "2024-01-02T10:00:00Z", "2024-01-02T11:00:00Z", togglr.ActionEnable, created),
			},
			want: []togglr.TimelineEvent{
				ev("2024-01-01T09:00:00Z", false),
			},
		},
		{
			name: "window clipped at both edges",
			schedules: []*togglr.Schedule{
				oneShot("a", "2024-01-01T08:00:00Z", "2024-01-01T20:00:00Z", togglr.ActionEnable, created),
			},
			want: []togglr.TimelineEvent{
				ev("2024-01-01T09:00:00Z", true),
			},
		},
	}

	e := NewEvaluator(togglr.EvaluatorConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := e.Evaluate(featureWith(true, tt.schedules...), at("2024-01-01T09:00:00Z"), at("2024-01-01T18:00:00Z"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, events)
		})
	}
}

func TestEvaluateConflictRule(t *testing.T) {
	later := created.Add(time.Hour)
	from, to := at("2024-01-01T09:00:00Z"), at("2024-01-01T12:00:00Z")
	e := NewEvaluator(togglr.EvaluatorConfig{})

	t.Run("identical created_at disable wins", func(t *testing.T) {
		f := featureWith(true,
			oneShot("on", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
			oneShot("off", "2024-01-01T10:30:00Z", "2024-01-01T11:30:00Z", togglr.ActionDisable, created),
		)
		events, err := e.Evaluate(f, from, to)
		require.NoError(t, err)
		assert.Equal(t, []togglr.TimelineEvent{
			ev("2024-01-01T09:00:00Z", true),
			ev("2024-01-01T10:30:00Z", false),
			ev("2024-01-01T11:30:00Z", true),
		}, events)
	})

	t.Run("latest created wins", func(t *testing.T) {
		f := featureWith(true,
			oneShot("on", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, later),
			oneShot("off", "2024-01-01T10:30:00Z", "2024-01-01T11:30:00Z", togglr.ActionDisable, created),
		)
		events, err := e.Evaluate(f, from, to)
		require.NoError(t, err)
		assert.Equal(t, []togglr.TimelineEvent{
			ev("2024-01-01T09:00:00Z", true),
			ev("2024-01-01T11:00:00Z", false),
			ev("2024-01-01T11:30:00Z", true),
		}, events)
	})

	t.Run("same instant identical created_at", func(t *testing.T) {
		f := featureWith(true,
			oneShot("on", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
			oneShot("off", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionDisable, created),
		)
		on, err := e.StateAt(f, at("2024-01-01T10:15:00Z"))
		require.NoError(t, err)
		assert.False(t, on)
	})
}

func TestEvaluateErrors(t *testing.T) {
	from, to := at("2024-01-01T00:00:00Z"), at("2024-01-02T00:00:00Z")
	e := NewEvaluator(togglr.EvaluatorConfig{})

	tests := []struct {
		name     string
		feature  *togglr.Feature
		from, to time.Time
		want     togglr.ErrorKind
	}{
		{"empty window", featureWith(true), from, from, togglr.ErrInvalidWindow},
		{"reversed window", featureWith(true), to, from, togglr.ErrInvalidWindow},
		{"window too large", featureWith(true), from, from.Add(8 * 24 * time.Hour), togglr.ErrWindowTooLarge},
		{"bad cron", featureWith(true, recurring("61 * * * *", "30m", togglr.ActionEnable, "UTC")), from, to, togglr.ErrInvalidCronExpression},
		{"missing duration", featureWith(true, recurring("0 * * * *", "", togglr.ActionEnable, "UTC")), from, to, togglr.ErrInvalidDuration},
		{"missing zone", featureWith(true, recurring("0 9 * * *", "1h", togglr.ActionEnable, "")), from, to, togglr.ErrInvalidTimezone},
		{
			"mixed kinds",
			featureWith(true,
				recurring("0 * * * *", "30m", togglr.ActionEnable, "UTC"),
				oneShot("a", "2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", togglr.ActionEnable, created),
			),
			from, to, togglr.ErrConflictingScheduleTypes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := e.Evaluate(tt.feature, tt.from, tt.to)
			require.Error(t, err)
			assert.Nil(t, events)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := e.Evaluate(nil, from, to)
	assert.True(t, errors.Is(err, togglr.ErrValidation))
}

func TestEvaluateMaxWindowIsConfigurable(t *testing.T) {
	e := NewEvaluator(togglr.EvaluatorConfig{MaxWindow: time.Hour})
	assert.Equal(t, time.Hour, e.Config().DefaultWindow)

	_, err := e.Evaluate(featureWith(true), at("2024-01-01T00:00:00Z"), at("2024-01-01T02:00:00Z"))
	assert.True(t, errors.Is(err, togglr.ErrWindowTooLarge))

	events, err := e.Evaluate(featureWith(true), at("2024-01-01T00:00:00Z"), at("2024-01-01T01:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStateAtAndNextTransition(t *testing.T) {
	f := featureWith(true, recurring("30 9 * * *", "30m", togglr.ActionEnable, "UTC"))
	e := NewEvaluator(togglr.EvaluatorConfig{})

	on, err := e.StateAt(f, at("2024-01-01T09:45:00Z"))
	require.NoError(t, err)
	assert.True(t, on)

	on, err = e.StateAt(f, at("2024-01-01T10:00:00Z"))
	require.NoError(t, err)
	assert.False(t, on)

	next, ok, err := e.NextTransition(f, at("2024-01-01T09:45:00Z"), 24*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev("2024-01-01T10:00:00Z", false), next)

	next, ok, err = e.NextTransition(f, at("2024-01-01T10:00:00Z"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev("2024-01-02T09:30:00Z", true), next)

	_, ok, err = e.NextTransition(featureWith(true), at("2024-01-01T10:00:00Z"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateConcurrentUse(t *testing.T) {
	f := featureWith(true, recurring("*/10 * * * *", "5m", togglr.ActionEnable, "Europe/Berlin"))
	e := NewEvaluator(togglr.EvaluatorConfig{})
	from := at("2024-03-30T00:00:00Z")

	want, err := e.Evaluate(f, from, from.Add(48*time.Hour))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Evaluate(f, from, from.Add(48*time.Hour))
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}
