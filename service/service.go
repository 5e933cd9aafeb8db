// Package service is the boundary callers use to evaluate timelines and to
// manage the features and schedules feeding them. Every write is checked
// by the validator first; every call is logged and measured.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/id"
	"github.com/togglr-project/togglr-sub001/internal/logger"
	"github.com/togglr-project/togglr-sub001/metrics"
	"github.com/togglr-project/togglr-sub001/storage"
	"github.com/togglr-project/togglr-sub001/ticker"
	"github.com/togglr-project/togglr-sub001/timeline"
	"github.com/togglr-project/togglr-sub001/validation"
)

// TimelineRequest asks for the timeline of one feature. The feature is
// addressed by ID or by environment and key. Nil bounds default to now and
// now plus the default window.
type TimelineRequest struct {
	FeatureID      string     `json:"feature_id,omitempty"`
	EnvironmentKey string     `json:"environment_key,omitempty"`
	FeatureKey     string     `json:"feature_key,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
	ViewerTimezone string     `json:"viewer_timezone,omitempty"`
	// OverrideSchedules previews an unsaved schedule set in place of the
	// stored one. Nothing is persisted.
	OverrideSchedules []*togglr.Schedule `json:"override_schedules,omitempty"`
}

// TimelineResponse is the evaluated timeline, rendered in the viewer's zone
type TimelineResponse struct {
	Events []togglr.TimelineEvent `json:"events"`
}

// CreateFeatureRequest describes a new feature
type CreateFeatureRequest struct {
	EnvironmentKey string `json:"environment_key"`
	Key            string `json:"key"`
	MasterEnabled  bool   `json:"master_enabled"`
	Enabled        bool   `json:"enabled"`
}

// Option configures a Service
type Option func(*Service)

func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	store     storage.Storage
	evaluator *timeline.Evaluator
	validator *validation.Validator
	clock     clock.Clock
	log       *logger.Logger
	metrics   metrics.MetricsCollector
}

func New(store storage.Storage, evaluator *timeline.Evaluator, opts ...Option) *Service {
	s := &Service{store: store, evaluator: evaluator}
	for _, opt := range opts {
		opt(s)
	}
	if s.evaluator == nil {
		s.evaluator = timeline.NewEvaluator(togglr.DefaultEvaluatorConfig())
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoOpMetrics()
	}
	s.validator = validation.NewValidator(s.clock)
	s.log = s.log.Named("service")
	return s
}

// EvaluateTimeline evaluates a stored feature, or a preview of it when
// override schedules are given
func (s *Service) EvaluateTimeline(ctx context.Context, req TimelineRequest) (resp *TimelineResponse, err error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.ObserveEvaluationDuration(s.clock.Since(start))
		s.metrics.IncEvaluations(statusOf(err))
		s.logCall("EvaluateTimeline", start, err, zap.String("feature", req.FeatureID+req.FeatureKey))
	}()

	viewer, err := viewerLocation(req.ViewerTimezone)
	if err != nil {
		return nil, err
	}

	feature, err := s.lookup(ctx, req.FeatureID, req.EnvironmentKey, req.FeatureKey)
	if err != nil {
		return nil, err
	}

	if req.OverrideSchedules != nil {
		overrides := make([]*togglr.Schedule, len(req.OverrideSchedules))
		now := s.clock.Now()
		for i, o := range req.OverrideSchedules {
			if o == nil {
				return nil, togglr.ErrValidation.WithArgs("override schedule %d is empty", i)
			}
			c := o.Clone()
			c.FeatureID = feature.ID
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			overrides[i] = c
		}
		if err := s.check(s.validator.ValidateSet(overrides)); err != nil {
			return nil, err
		}
		feature = feature.WithSchedules(overrides)
	}

	from := s.clock.Now()
	if req.From != nil {
		from = *req.From
	}
	to := from.Add(s.evaluator.Config().DefaultWindow)
	if req.To != nil {
		to = *req.To
	}

	events, err := s.evaluator.Evaluate(feature, from, to)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Instant = events[i].Instant.In(viewer)
	}
	return &TimelineResponse{Events: events}, nil
}

// CreateFeature stores a feature without schedules. Its ID derives from
// environment and key.
func (s *Service) CreateFeature(ctx context.Context, req CreateFeatureRequest) (f *togglr.Feature, err error) {
	start := s.clock.Now()
	defer func() { s.logCall("CreateFeature", start, err, zap.String("feature", req.Key)) }()

	env, key := strings.TrimSpace(req.EnvironmentKey), strings.TrimSpace(req.Key)
	if env == "" || key == "" {
		return nil, togglr.ErrValidation.WithArgs("environment and key are required")
	}

	now := s.clock.Now()
	f = togglr.NewFeature(id.GenerateFeatureID(env, key), env, key, req.MasterEnabled)
	f.Enabled = req.Enabled
	f.CreatedAt, f.UpdatedAt = now, now

	if err := s.store.CreateFeature(ctx, storage.FeatureRecord(f)); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, togglr.ErrValidation.WithArgs("feature %s already exists in %s", key, env)
		}
		return nil, fmt.Errorf("failed to create feature: %w", err)
	}
	return f, nil
}

// GetFeature returns a feature with its schedules
func (s *Service) GetFeature(ctx context.Context, featureID string) (*togglr.Feature, error) {
	return s.lookup(ctx, featureID, "", "")
}

// GetFeatureByKey returns a feature addressed by environment and key
func (s *Service) GetFeatureByKey(ctx context.Context, environmentKey, key string) (*togglr.Feature, error) {
	return s.lookup(ctx, "", environmentKey, key)
}

// ListFeatures returns every feature with its schedules
func (s *Service) ListFeatures(ctx context.Context) ([]*togglr.Feature, error) {
	records, err := s.store.ListFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	out := make([]*togglr.Feature, 0, len(records))
	for _, record := range records {
		schedules, err := s.store.ListSchedulesByFeatureID(ctx, record.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list schedules of feature %s: %w", record.ID, err)
		}
		out = append(out, record.ToDomain(schedules))
	}
	return out, nil
}

// SetMasterEnabled flips the kill switch. While it is off the feature
// evaluates to disabled whatever its schedules say.
func (s *Service) SetMasterEnabled(ctx context.Context, featureID string, enabled bool) (*togglr.Feature, error) {
	return s.updateFeature(ctx, "SetMasterEnabled", featureID, func(r *storage.Feature) {
		r.MasterEnabled = enabled
	})
}

// SetManualState sets the state used when no schedule applies. On a
// scheduled feature it holds until the next transition.
func (s *Service) SetManualState(ctx context.Context, featureID string, enabled bool) (*togglr.Feature, error) {
	return s.updateFeature(ctx, "SetManualState", featureID, func(r *storage.Feature) {
		r.Enabled = enabled
	})
}

func (s *Service) updateFeature(ctx context.Context, op, featureID string, mutate func(*storage.Feature)) (f *togglr.Feature, err error) {
	start := s.clock.Now()
	defer func() { s.logCall(op, start, err, zap.String("feature", featureID)) }()

	record, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return nil, s.featureErr(err, featureID)
	}
	mutate(record)
	record.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateFeature(ctx, record); err != nil {
		return nil, s.featureErr(err, featureID)
	}
	return s.lookup(ctx, featureID, "", "")
}

// DeleteFeature removes a feature together with its schedules and history
func (s *Service) DeleteFeature(ctx context.Context, featureID string) (err error) {
	start := s.clock.Now()
	defer func() { s.logCall("DeleteFeature", start, err, zap.String("feature", featureID)) }()

	if err := s.store.DeleteFeature(ctx, featureID); err != nil {
		return s.featureErr(err, featureID)
	}
	return nil
}

// ValidateSchedule reports every rule the candidate would break on the
// feature without saving anything
func (s *Service) ValidateSchedule(ctx context.Context, featureID string, candidate *togglr.Schedule) (validation.Violations, error) {
	f, err := s.lookup(ctx, featureID, "", "")
	if err != nil {
		return nil, err
	}
	vs := s.validator.Validate(f, candidate)
	s.countViolations(vs)
	return vs, nil
}

// AddSchedule validates and attaches a new schedule. ID and timestamps
// are assigned here.
func (s *Service) AddSchedule(ctx context.Context, featureID string, candidate *togglr.Schedule) (sched *togglr.Schedule, err error) {
	start := s.clock.Now()
	defer func() { s.logCall("AddSchedule", start, err, zap.String("feature", featureID)) }()

	f, err := s.lookup(ctx, featureID, "", "")
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, togglr.ErrValidation.WithArgs("schedule is required")
	}

	sched = candidate.Clone()
	sched.ID = id.NewScheduleID()
	if err := s.check(s.validator.Validate(f, sched)); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sched.FeatureID = f.ID
	sched.CreatedAt, sched.UpdatedAt = now, now
	if err := s.store.CreateSchedule(ctx, storage.ScheduleRecord(sched)); err != nil {
		return nil, s.featureErr(err, featureID)
	}
	return sched, nil
}

// ReplaceSchedule swaps a schedule wholesale. ID, feature and CreatedAt
// are kept, so the replaced schedule keeps its conflict priority.
func (s *Service) ReplaceSchedule(ctx context.Context, featureID string, replacement *togglr.Schedule) (sched *togglr.Schedule, err error) {
	start := s.clock.Now()
	defer func() { s.logCall("ReplaceSchedule", start, err, zap.String("feature", featureID)) }()

	if replacement == nil || replacement.ID == "" {
		return nil, togglr.ErrValidation.WithArgs("schedule id is required")
	}
	f, err := s.lookup(ctx, featureID, "", "")
	if err != nil {
		return nil, err
	}

	// The copy takes over the stored schedule's feature and CreatedAt
	sched = replacement.Clone()
	if !f.ReplaceSchedule(sched) {
		return nil, togglr.ErrScheduleNotFound.WithArgs("%s on feature %s", replacement.ID, featureID)
	}
	if err := s.check(s.validator.Validate(f, sched)); err != nil {
		return nil, err
	}

	sched.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateSchedule(ctx, storage.ScheduleRecord(sched)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, togglr.ErrScheduleNotFound.WithArgs("%s", sched.ID)
		}
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return sched, nil
}

// DeleteSchedule detaches a schedule from its feature
func (s *Service) DeleteSchedule(ctx context.Context, featureID, scheduleID string) (err error) {
	start := s.clock.Now()
	defer func() { s.logCall("DeleteSchedule", start, err, zap.String("feature", featureID)) }()

	f, err := s.lookup(ctx, featureID, "", "")
	if err != nil {
		return err
	}
	if !f.RemoveSchedule(scheduleID) {
		return togglr.ErrScheduleNotFound.WithArgs("%s on feature %s", scheduleID, featureID)
	}
	if err := s.store.DeleteSchedule(ctx, scheduleID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return togglr.ErrScheduleNotFound.WithArgs("%s", scheduleID)
		}
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// ListTransitions returns the scheduled transitions applied to a feature
func (s *Service) ListTransitions(ctx context.Context, featureID string) ([]*storage.Transition, error) {
	if _, err := s.store.GetFeature(ctx, featureID); err != nil {
		return nil, s.featureErr(err, featureID)
	}
	return s.store.ListTransitionsByFeatureID(ctx, featureID)
}

func (s *Service) lookup(ctx context.Context, featureID, environmentKey, key string) (*togglr.Feature, error) {
	var (
		f   *togglr.Feature
		err error
	)
	switch {
	case featureID != "":
		f, err = storage.LoadFeature(ctx, s.store, featureID)
	case environmentKey != "" && key != "":
		f, err = storage.LoadFeatureByKey(ctx, s.store, environmentKey, key)
		featureID = environmentKey + "/" + key
	default:
		return nil, togglr.ErrValidation.WithArgs("feature id or environment and key are required")
	}
	if err != nil {
		return nil, s.featureErr(err, featureID)
	}
	return f, nil
}

func (s *Service) featureErr(err error, featureID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return togglr.ErrFeatureNotFound.WithArgs("%s", featureID)
	}
	return err
}

// check counts violations and turns them into a single error
func (s *Service) check(vs validation.Violations) error {
	s.countViolations(vs)
	return vs.Err()
}

func (s *Service) countViolations(vs validation.Violations) {
	for _, v := range vs {
		s.metrics.IncViolations(string(v.Kind))
	}
}

func (s *Service) logCall(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Duration("took", s.clock.Since(start)))
	if err != nil {
		s.log.Warn("Call failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Debug("Call succeeded", fields...)
}

func viewerLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return ticker.LoadLocation(name)
}

func statusOf(err error) string {
	if err == nil {
		return metrics.StatusOK
	}
	if kind, ok := togglr.KindOf(err); ok {
		return string(kind)
	}
	return metrics.StatusFailed
}
