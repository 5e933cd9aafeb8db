package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/concurrency"
	"github.com/togglr-project/togglr-sub001/executor"
	"github.com/togglr-project/togglr-sub001/internal/logger"
	"github.com/togglr-project/togglr-sub001/metrics"
	"github.com/togglr-project/togglr-sub001/recovery"
	"github.com/togglr-project/togglr-sub001/storage"
	"github.com/togglr-project/togglr-sub001/ticker"
	"github.com/togglr-project/togglr-sub001/timeline"
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock drives tickers, recovery and the resync loop from clk
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMetrics sets the metrics collector shared by every component
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithEvaluator replaces the default evaluator
func WithEvaluator(e *timeline.Evaluator) Option {
	return func(s *Scheduler) { s.evaluator = e }
}

// Scheduler keeps stored features in step with their schedules. It runs
// one transition ticker per scheduled feature and applies what they emit
// through a bounded worker pool.
type Scheduler struct {
	config     togglr.SchedulerConfig
	store      storage.Storage
	evaluator  *timeline.Evaluator
	applier    *executor.Applier
	reconciler *recovery.Reconciler
	resyncer   *recovery.Resyncer
	pool       *concurrency.WorkerPool
	clock      clock.Clock
	log        *logger.Logger
	metrics    metrics.MetricsCollector

	watches   map[string]*watch
	watchesMu sync.Mutex

	running   bool
	runningMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watch is the live ticker of one feature
type watch struct {
	featureID   string
	featureKey  string
	fingerprint string
	paused      bool
	ticker      ticker.Ticker
	done        chan struct{}
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config togglr.SchedulerConfig, store storage.Storage, opts ...Option) *Scheduler {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = togglr.DefaultMaxConcurrent
	}
	if config.Lookahead <= 0 {
		config.Lookahead = togglr.DefaultLookahead
	}
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = togglr.DefaultResync
	}
	if config.RetryPolicy == (togglr.RetryPolicy{}) {
		config.RetryPolicy = togglr.DefaultRetryPolicy()
	}

	s := &Scheduler{
		config:  config,
		store:   store,
		watches: make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(s)
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
	if s.evaluator == nil {
		s.evaluator = timeline.NewEvaluator(togglr.DefaultEvaluatorConfig())
	}
	if config.Lookahead > s.evaluator.Config().MaxWindow {
		s.config.Lookahead = s.evaluator.Config().MaxWindow
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = concurrency.NewWorkerPool(config.MaxConcurrent)

	s.applier = executor.NewApplier(store, s.clock, s.log)
	s.applier.SetMetrics(s.metrics)
	s.applier.SetRetryPolicy(config.RetryPolicy)
	s.applier.SetNodeID(config.NodeID)

	s.reconciler = recovery.NewReconciler(store, s.evaluator, s.applier, s.clock, s.log)
	s.reconciler.SetMetrics(s.metrics)

	s.resyncer = recovery.NewResyncer(s.resync, config.ResyncInterval, s.clock, s.log)
	s.log = s.log.Named("scheduler")
	return s
}

// Applier exposes the applier so callers can register an OnTransition hook
func (s *Scheduler) Applier() *executor.Applier {
	return s.applier
}

// Start catches every feature up with its schedule, then starts the
// tickers and the resync loop
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.pool.Start()

	if err := s.recover(s.ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	if err := s.Refresh(s.ctx); err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}

	s.resyncer.Start(s.ctx)

	s.running = true
	s.log.Info("Scheduler started",
		zap.String("node", s.config.NodeID),
		zap.Int("features", len(s.Scheduled())),
		zap.Duration("lookahead", s.config.Lookahead))
	return nil
}

// recover runs boot recovery. Failures of individual features are logged;
// only a failure to read the feature list aborts.
func (s *Scheduler) recover(ctx context.Context) error {
	results, err := s.reconciler.ReconcileAll(ctx)
	if err != nil && results == nil {
		return err
	}
	if err != nil {
		s.log.Warn("Some features could not be recovered", zap.Error(err))
	}

	for _, res := range results {
		if res.Report != nil {
			s.log.Debug("Recovered feature",
				zap.String("feature", res.FeatureID),
				zap.Int("missed", res.Missed))
		}
	}
	return nil
}

// resync is run by the resync loop
func (s *Scheduler) resync(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Refresh reloads every feature and restarts the tickers of those whose
// schedules changed since the last refresh
func (s *Scheduler) Refresh(ctx context.Context) error {
	records, err := s.store.ListFeatures(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]*togglr.Feature, len(records))
	for _, record := range records {
		schedules, err := s.store.ListSchedulesByFeatureID(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("failed to list schedules of feature %s: %w", record.ID, err)
		}
		f := record.ToDomain(schedules)
		if !f.MasterEnabled || !f.HasSchedules() {
			continue
		}
		if _, err := f.ScheduleKind(); err != nil {
			s.log.Warn("Skipping feature with invalid schedules", zap.String("feature", f.Key), zap.Error(err))
			continue
		}
		wanted[f.ID] = f
	}

	s.watchesMu.Lock()
	defer s.watchesMu.Unlock()

	for featureID, w := range s.watches {
		if _, ok := wanted[featureID]; !ok {
			s.stopWatch(w)
			delete(s.watches, featureID)
		}
	}

	for featureID, f := range wanted {
		fp, err := fingerprint(f)
		if err != nil {
			return err
		}
		paused := false
		if existing, ok := s.watches[featureID]; ok {
			if existing.fingerprint == fp {
				continue
			}
			paused = existing.paused
			s.stopWatch(existing)
			delete(s.watches, featureID)
		}

		w, err := s.startWatch(f, fp, paused)
		if err != nil {
			return err
		}
		s.watches[featureID] = w
	}

	s.updateMetrics()
	return nil
}

// startWatch starts a ticker for a snapshot of f. Callers hold watchesMu.
func (s *Scheduler) startWatch(f *togglr.Feature, fp string, paused bool) (*watch, error) {
	next := func(now time.Time) (time.Time, bool, bool, error) {
		ev, ok, err := s.evaluator.NextTransition(f, now, s.config.Lookahead)
		return ev.Instant, ev.Enabled, ok, err
	}

	// Recheck below the lookahead so a transition on its edge is not skipped
	t, err := ticker.NewTransitionTicker(next, s.clock, s.config.Lookahead/2)
	if err != nil {
		return nil, err
	}
	t.OnError(func(err error) {
		s.log.Warn("Failed to compute next transition", zap.String("feature", f.Key), zap.Error(err))
	})

	w := &watch{
		featureID:   f.ID,
		featureKey:  f.Key,
		fingerprint: fp,
		paused:      paused,
		ticker:      t,
		done:        make(chan struct{}),
	}
	if paused {
		_ = t.Pause()
	}
	if err := t.Start(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.watchFeature(w)
	return w, nil
}

func (s *Scheduler) stopWatch(w *watch) {
	_ = w.ticker.Stop()
	close(w.done)
}

// watchFeature forwards a feature's transitions to the worker pool
func (s *Scheduler) watchFeature(w *watch) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-w.done:
			return
		case ec := <-w.ticker.Channel():
			s.handleTransition(w, ec)
		}
	}
}

// handleTransition hands one emitted transition to the pool
func (s *Scheduler) handleTransition(w *watch, ec ticker.ExecutionContext) {
	tr := executor.Transition{
		FeatureID:   w.featureID,
		FeatureKey:  w.featureKey,
		ScheduledAt: ec.ScheduledTime,
		Enabled:     ec.Enabled,
	}

	err := s.pool.Submit(s.ctx, func(ctx context.Context) {
		if _, err := s.applier.Apply(ctx, tr); err != nil {
			s.log.Error("Failed to apply transition", zap.String("feature", tr.FeatureKey), zap.Error(err))
		}
	})
	if err != nil {
		s.log.Warn("Dropped transition", zap.String("feature", tr.FeatureKey), zap.Time("scheduled_at", tr.ScheduledAt), zap.Error(err))
	}
	s.metrics.SetQueueLength(s.pool.QueueLength())
}

// Pause stops emitting transitions for a feature until Resume
func (s *Scheduler) Pause(featureID string) error {
	return s.setPaused(featureID, true)
}

// Resume restarts a paused feature
func (s *Scheduler) Resume(featureID string) error {
	return s.setPaused(featureID, false)
}

func (s *Scheduler) setPaused(featureID string, paused bool) error {
	s.watchesMu.Lock()
	defer s.watchesMu.Unlock()

	w, ok := s.watches[featureID]
	if !ok {
		return togglr.ErrFeatureNotFound.WithArgs("%s is not scheduled", featureID)
	}
	var err error
	if paused {
		err = w.ticker.Pause()
	} else {
		err = w.ticker.Resume()
	}
	if err != nil {
		return err
	}
	w.paused = paused
	s.updateMetrics()
	return nil
}

// Scheduled returns the IDs of features with a running ticker, sorted
func (s *Scheduler) Scheduled() []string {
	s.watchesMu.Lock()
	defer s.watchesMu.Unlock()

	ids := make([]string, 0, len(s.watches))
	for featureID := range s.watches {
		ids = append(ids, featureID)
	}
	sort.Strings(ids)
	return ids
}

// NextRun returns the next transition instant of a scheduled feature
func (s *Scheduler) NextRun(featureID string) (*time.Time, error) {
	s.watchesMu.Lock()
	w, ok := s.watches[featureID]
	s.watchesMu.Unlock()
	if !ok {
		return nil, togglr.ErrFeatureNotFound.WithArgs("%s is not scheduled", featureID)
	}
	return w.ticker.NextRun()
}

// Shutdown stops the tickers, then waits up to timeout for pending
// transitions to be written. Past the timeout they are cancelled.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.resyncer.Stop()

	s.watchesMu.Lock()
	for featureID, w := range s.watches {
		s.stopWatch(w)
		delete(s.watches, featureID)
	}
	s.updateMetrics()
	s.watchesMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.Stop()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		s.pool.StopNow()
		err = fmt.Errorf("shutdown timed out after %s", timeout)
	}

	s.cancel()
	s.log.Info("Scheduler stopped")
	return err
}

// updateMetrics refreshes the gauges. Callers hold watchesMu.
func (s *Scheduler) updateMetrics() {
	paused := 0
	for _, w := range s.watches {
		if w.paused {
			paused++
		}
	}
	s.metrics.SetFeaturesScheduled(len(s.watches))
	s.metrics.SetTickersPaused(paused)
	s.metrics.SetQueueLength(s.pool.QueueLength())
}

// fingerprint identifies the inputs a ticker was built from
func fingerprint(f *togglr.Feature) (string, error) {
	b, err := json.Marshal(struct {
		Master    bool               `json:"master"`
		Schedules []*togglr.Schedule `json:"schedules"`
	}{f.MasterEnabled, f.SchedulesSnapshot()})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint feature %s: %w", f.ID, err)
	}
	return string(b), nil
}
