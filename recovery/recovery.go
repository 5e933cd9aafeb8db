package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/executor"
	"github.com/togglr-project/togglr-sub001/internal/logger"
	"github.com/togglr-project/togglr-sub001/metrics"
	"github.com/togglr-project/togglr-sub001/storage"
	"github.com/togglr-project/togglr-sub001/timeline"
)

// MaxLookbackWindows bounds how far back a reconcile searches for the
// latest transition, in evaluator windows. With the default seven day
// window this is about a year.
const MaxLookbackWindows = 53

// Result describes one reconciled feature
type Result struct {
	FeatureID string
	// Desired is the scheduled state at the reconcile instant
	Desired bool
	// Since is the latest due transition. It is zero when none was found,
	// in which case Desired is the stored state.
	Since time.Time
	// Missed counts transitions between the last applied one (or the
	// feature's creation) and now
	Missed int
	// Skipped is set for features the schedule does not drive
	Skipped bool
	Report  *executor.Report
}

// Reconciler catches features up with their schedules after downtime.
// A feature that already saw its latest transition is left alone, so a
// manual change made since then survives.
type Reconciler struct {
	store     storage.Storage
	evaluator *timeline.Evaluator
	applier   *executor.Applier
	clock     clock.Clock
	log       *logger.Logger
	metrics   metrics.MetricsCollector
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Storage, evaluator *timeline.Evaluator, applier *executor.Applier, clk clock.Clock, log *logger.Logger) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		store:     store,
		evaluator: evaluator,
		applier:   applier,
		clock:     clk,
		log:       log.Named("recovery"),
		metrics:   metrics.NewNoOpMetrics(), // Default to no-op
	}
}

// SetMetrics sets the metrics collector for this reconciler
func (r *Reconciler) SetMetrics(m metrics.MetricsCollector) {
	r.metrics = m
}

// ReconcileAll reconciles every stored feature. A failing feature does not
// stop the others; all failures are returned together.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Result, error) {
	records, err := r.store.ListFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}

	results := make([]*Result, 0, len(records))
	var errs error
	for _, record := range records {
		if ctx.Err() != nil {
			return results, multierr.Append(errs, ctx.Err())
		}
		res, err := r.reconcile(ctx, record)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("feature %s: %w", record.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// ReconcileFeature reconciles a single feature
func (r *Reconciler) ReconcileFeature(ctx context.Context, featureID string) (*Result, error) {
	record, err := r.store.GetFeature(ctx, featureID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, togglr.ErrFeatureNotFound.WithArgs("%s", featureID)
	}
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, record)
}

func (r *Reconciler) reconcile(ctx context.Context, record *storage.Feature) (*Result, error) {
	schedules, err := r.store.ListSchedulesByFeatureID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	feature := record.ToDomain(schedules)

	res := &Result{FeatureID: record.ID, Desired: record.Enabled}
	if !feature.MasterEnabled || !feature.HasSchedules() {
		res.Skipped = true
		return res, nil
	}

	floor := record.CreatedAt
	if record.LastTransitionAt != nil && record.LastTransitionAt.After(floor) {
		floor = *record.LastTransitionAt
	}

	latest, missed, found, err := r.latestTransition(feature, floor)
	if err != nil {
		return nil, err
	}
	res.Missed = missed

	if found {
		res.Desired, res.Since = latest.Enabled, latest.Instant
	}

	// Nothing became due since the feature was created or last switched,
	// so its current state stands
	if !found || !latest.Instant.After(floor) {
		r.metrics.IncRecoveryRuns(record.Key, metrics.StatusInSync)
		return res, nil
	}

	res.Report, err = r.applier.Apply(ctx, executor.Transition{
		FeatureID:   record.ID,
		FeatureKey:  record.Key,
		ScheduledAt: res.Since,
		Enabled:     res.Desired,
		Recovery:    true,
	})
	if err != nil {
		return nil, err
	}

	r.metrics.IncRecoveryRuns(record.Key, metrics.StatusCorrected)
	r.log.Info("Feature caught up with its schedule",
		zap.String("feature", record.Key),
		zap.String("environment", record.EnvironmentKey),
		zap.Bool("enabled", res.Desired),
		zap.Time("since", res.Since),
		zap.Int("missed", res.Missed),
		zap.String("outcome", string(res.Report.Outcome)))
	return res, nil
}

// latestTransition walks back from now one evaluator window at a time and
// returns the most recent real transition. It also counts the transitions
// after floor. The walk ends once a window reaches floor, or after
// MaxLookbackWindows windows.
func (r *Reconciler) latestTransition(f *togglr.Feature, floor time.Time) (togglr.TimelineEvent, int, bool, error) {
	var (
		latest togglr.TimelineEvent
		found  bool
		missed int
	)
	span := r.evaluator.Config().MaxWindow
	end := r.clock.Now().Add(time.Nanosecond)

	for i := 0; i < MaxLookbackWindows; i++ {
		from := end.Add(-span)
		events, err := r.evaluator.Evaluate(f, from, end)
		if err != nil {
			return latest, 0, false, err
		}

		// events[0] is the state at from, not a transition
		for _, ev := range events[1:] {
			if ev.Instant.After(floor) {
				missed++
			}
		}
		if !found && len(events) > 1 {
			latest, found = events[len(events)-1], true
		}
		if !from.After(floor) || (found && !latest.Instant.After(floor)) {
			break
		}
		// Overlap by one instant so a transition exactly at from is seen
		end = from.Add(time.Nanosecond)
	}
	return latest, missed, found, nil
}
