package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/id"
	"github.com/togglr-project/togglr-sub001/internal/logger"
	"github.com/togglr-project/togglr-sub001/metrics"
	"github.com/togglr-project/togglr-sub001/storage"
)

// Transition is a scheduled state change for one feature
type Transition struct {
	FeatureID   string
	FeatureKey  string
	ScheduledAt time.Time
	Enabled     bool
	Recovery    bool
}

// Outcome describes what Apply did with a transition
type Outcome string

const (
	// OutcomeApplied means the feature state was written
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means this transition was already applied, possibly by another node
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means a later transition has already been applied
	OutcomeStale Outcome = "stale"
)

// Report summarizes one Apply call
type Report struct {
	TransitionID string
	FeatureID    string
	ScheduledAt  time.Time
	Enabled      bool
	Outcome      Outcome
	Attempts     int
	Duration     time.Duration
}

// Hook is invoked after every transition that changed a feature
type Hook func(ctx context.Context, report *Report)

// Applier persists scheduled transitions. Applying the same transition
// twice, or from two nodes, writes it once.
type Applier struct {
	store        storage.Storage
	clock        clock.Clock
	log          *logger.Logger
	metrics      metrics.MetricsCollector
	retry        togglr.RetryPolicy
	nodeID       string
	onTransition Hook
}

// NewApplier creates a new applier instance
func NewApplier(store storage.Storage, clk clock.Clock, log *logger.Logger) *Applier {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Applier{
		store:   store,
		clock:   clk,
		log:     log.Named("applier"),
		metrics: metrics.NewNoOpMetrics(), // Default to no-op
		retry:   togglr.DefaultRetryPolicy(),
	}
}

// SetMetrics sets the metrics collector for this applier
func (a *Applier) SetMetrics(m metrics.MetricsCollector) {
	a.metrics = m
}

// SetRetryPolicy replaces the retry policy used for storage failures
func (a *Applier) SetRetryPolicy(p togglr.RetryPolicy) {
	a.retry = p
}

// SetNodeID records which node applied a transition
func (a *Applier) SetNodeID(nodeID string) {
	a.nodeID = nodeID
}

// OnTransition registers a hook called after a transition is applied
func (a *Applier) OnTransition(h Hook) {
	a.onTransition = h
}

// Apply writes the transition to storage, retrying transient failures
// with exponential backoff. A missing feature is not retried.
func (a *Applier) Apply(ctx context.Context, t Transition) (*Report, error) {
	start := a.clock.Now()
	report := &Report{
		TransitionID: id.GenerateTransitionID(t.FeatureID, t.ScheduledAt),
		FeatureID:    t.FeatureID,
		ScheduledAt:  t.ScheduledAt,
		Enabled:      t.Enabled,
	}
	label := t.FeatureKey
	if label == "" {
		label = t.FeatureID
	}

	operation := func() error {
		report.Attempts++
		outcome, err := a.attempt(ctx, t, report.TransitionID)
		if err != nil {
			a.metrics.IncApplyAttempts(label, metrics.StatusFailed)
			if errors.Is(err, togglr.ErrFeatureNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		a.metrics.IncApplyAttempts(label, metrics.StatusOK)
		report.Outcome = outcome
		return nil
	}

	notify := func(err error, wait time.Duration) {
		a.log.Warn("Transition apply failed, retrying",
			zap.String("feature", label),
			zap.String("transition", report.TransitionID),
			zap.Int("attempt", report.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(a.policy(), ctx), notify)
	report.Duration = a.clock.Since(start)
	a.metrics.ObserveApplyDuration(label, report.Duration)

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		a.metrics.IncTransitions(label, metrics.StatusFailed)
		a.log.Error("Transition apply gave up",
			zap.String("feature", label),
			zap.String("transition", report.TransitionID),
			zap.Int("attempts", report.Attempts),
			zap.Error(err))
		return report, fmt.Errorf("apply transition %s: %w", report.TransitionID, err)
	}

	a.metrics.IncTransitions(label, string(report.Outcome))
	a.log.Info("Transition handled",
		zap.String("feature", label),
		zap.String("transition", report.TransitionID),
		zap.Time("scheduled_at", t.ScheduledAt),
		zap.Bool("enabled", t.Enabled),
		zap.Bool("recovery", t.Recovery),
		zap.String("outcome", string(report.Outcome)))

	if report.Outcome == OutcomeApplied && a.onTransition != nil {
		a.onTransition(ctx, report)
	}
	return report, nil
}

// attempt performs one write. The feature row is updated before the
// transition record so a retry after a partial failure completes the pair.
func (a *Applier) attempt(ctx context.Context, t Transition, transitionID string) (Outcome, error) {
	record, err := a.store.GetFeature(ctx, t.FeatureID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", togglr.ErrFeatureNotFound.WithArgs("%s", t.FeatureID)
	}
	if err != nil {
		return "", err
	}

	if record.LastTransitionID == transitionID {
		return OutcomeDuplicate, nil
	}
	if record.LastTransitionAt != nil && record.LastTransitionAt.After(t.ScheduledAt) {
		return OutcomeStale, nil
	}

	scheduledAt := t.ScheduledAt.UTC()
	record.Enabled = t.Enabled
	record.LastTransitionID = transitionID
	record.LastTransitionAt = &scheduledAt
	record.UpdatedAt = a.clock.Now()
	if err := a.store.UpdateFeature(ctx, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", togglr.ErrFeatureNotFound.WithArgs("%s", t.FeatureID)
		}
		return "", err
	}

	err = a.store.CreateTransition(ctx, &storage.Transition{
		ID:          transitionID,
		FeatureID:   t.FeatureID,
		ScheduledAt: scheduledAt,
		Enabled:     t.Enabled,
		AppliedAt:   a.clock.Now(),
		NodeID:      a.nodeID,
		Recovery:    t.Recovery,
	})
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return "", err
	}
	return OutcomeApplied, nil
}

func (a *Applier) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.RetryInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	if a.retry.BackoffFactor > 1 {
		b.Multiplier = a.retry.BackoffFactor
	}
	b.MaxElapsedTime = 0
	b.Clock = a.clock
	b.Reset()

	retries := a.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}
