package metrics

import (
	"sync"
	"time"
)

// Outcome labels shared by the collectors' callers
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusCorrected = "corrected"
	StatusInSync    = "in_sync"
)

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	// Gauges - current state
	SetFeaturesScheduled(count int)
	SetTickersPaused(count int)
	SetQueueLength(count int)

	// Counters - event tracking
	IncEvaluations(status string)
	IncViolations(kind string)
	IncTransitions(featureKey, status string)
	IncApplyAttempts(featureKey, status string)
	IncRecoveryRuns(featureKey, outcome string)

	// Histograms - duration tracking
	ObserveEvaluationDuration(duration time.Duration)
	ObserveApplyDuration(featureKey string, duration time.Duration)

	// Query methods for testing and monitoring
	GetFeaturesScheduled() int
	GetTickersPaused() int
	GetQueueLength() int
	GetEvaluations(status string) int64
	GetViolations(kind string) int64
	GetTransitions(featureKey, status string) int64
	GetApplyAttempts(featureKey, status string) int64
	GetRecoveryRuns(featureKey, outcome string) int64
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) SetFeaturesScheduled(count int)                                {}
func (m *NoOpMetrics) SetTickersPaused(count int)                                    {}
func (m *NoOpMetrics) SetQueueLength(count int)                                      {}
func (m *NoOpMetrics) IncEvaluations(status string)                                  {}
func (m *NoOpMetrics) IncViolations(kind string)                                     {}
func (m *NoOpMetrics) IncTransitions(featureKey, status string)                      {}
func (m *NoOpMetrics) IncApplyAttempts(featureKey, status string)                    {}
func (m *NoOpMetrics) IncRecoveryRuns(featureKey, outcome string)                    {}
func (m *NoOpMetrics) ObserveEvaluationDuration(duration time.Duration)              {}
func (m *NoOpMetrics) ObserveApplyDuration(featureKey string, duration time.Duration) {}
func (m *NoOpMetrics) GetFeaturesScheduled() int                                     { return 0 }
func (m *NoOpMetrics) GetTickersPaused() int                                         { return 0 }
func (m *NoOpMetrics) GetQueueLength() int                                           { return 0 }
func (m *NoOpMetrics) GetEvaluations(status string) int64                            { return 0 }
func (m *NoOpMetrics) GetViolations(kind string) int64                               { return 0 }
func (m *NoOpMetrics) GetTransitions(featureKey, status string) int64                { return 0 }
func (m *NoOpMetrics) GetApplyAttempts(featureKey, status string) int64              { return 0 }
func (m *NoOpMetrics) GetRecoveryRuns(featureKey, outcome string) int64              { return 0 }

// InMemoryMetrics is a simple in-memory metrics collector for testing and basic monitoring
type InMemoryMetrics struct {
	mu sync.RWMutex

	// Gauges
	featuresScheduled int
	tickersPaused     int
	queueLength       int

	// Counters - using map with composite key
	evaluations   map[string]int64 // key: "status"
	violations    map[string]int64 // key: "kind"
	transitions   map[string]int64 // key: "feature:status"
	applyAttempts map[string]int64 // key: "feature:status"
	recoveryRuns  map[string]int64 // key: "feature:outcome"

	// Histograms - storing observations
	evaluationDurations []time.Duration
	applyDurations      map[string][]time.Duration // key: "feature"
}

func NewInMemoryMetrics() *InMemoryMetrics {
	m := &InMemoryMetrics{}
	m.reset()
	return m
}

// Gauges
func (m *InMemoryMetrics) SetFeaturesScheduled(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.featuresScheduled = count
}

func (m *InMemoryMetrics) SetTickersPaused(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickersPaused = count
}

func (m *InMemoryMetrics) SetQueueLength(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLength = count
}

func (m *InMemoryMetrics) GetFeaturesScheduled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.featuresScheduled
}

func (m *InMemoryMetrics) GetTickersPaused() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickersPaused
}

func (m *InMemoryMetrics) GetQueueLength() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueLength
}

// Counters
func (m *InMemoryMetrics) inc(counter map[string]int64, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter[key]++
}

func (m *InMemoryMetrics) get(counter map[string]int64, key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return counter[key]
}

func (m *InMemoryMetrics) IncEvaluations(status string) {
	m.inc(m.evaluations, status)
}

func (m *InMemoryMetrics) IncViolations(kind string) {
	m.inc(m.violations, kind)
}

func (m *InMemoryMetrics) IncTransitions(featureKey, status string) {
	m.inc(m.transitions, featureKey+":"+status)
}

func (m *InMemoryMetrics) IncApplyAttempts(featureKey, status string) {
	m.inc(m.applyAttempts, featureKey+":"+status)
}

func (m *InMemoryMetrics) IncRecoveryRuns(featureKey, outcome string) {
	m.inc(m.recoveryRuns, featureKey+":"+outcome)
}

func (m *InMemoryMetrics) GetEvaluations(status string) int64 {
	return m.get(m.evaluations, status)
}

func (m *InMemoryMetrics) GetViolations(kind string) int64 {
	return m.get(m.violations, kind)
}

func (m *InMemoryMetrics) GetTransitions(featureKey, status string) int64 {
	return m.get(m.transitions, featureKey+":"+status)
}

func (m *InMemoryMetrics) GetApplyAttempts(featureKey, status string) int64 {
	return m.get(m.applyAttempts, featureKey+":"+status)
}

func (m *InMemoryMetrics) GetRecoveryRuns(featureKey, outcome string) int64 {
	return m.get(m.recoveryRuns, featureKey+":"+outcome)
}

// Histograms
func (m *InMemoryMetrics) ObserveEvaluationDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluationDurations = append(m.evaluationDurations, duration)
}

func (m *InMemoryMetrics) ObserveApplyDuration(featureKey string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDurations[featureKey] = append(m.applyDurations[featureKey], duration)
}

// Helper methods for getting histogram statistics
func (m *InMemoryMetrics) GetEvaluationDurations() []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]time.Duration, len(m.evaluationDurations))
	copy(result, m.evaluationDurations)
	return result
}

func (m *InMemoryMetrics) GetApplyDurations(featureKey string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	durations := m.applyDurations[featureKey]
	result := make([]time.Duration, len(durations))
	copy(result, durations)
	return result
}

// Reset clears all metrics (useful for testing)
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *InMemoryMetrics) reset() {
	m.featuresScheduled = 0
	m.tickersPaused = 0
	m.queueLength = 0
	m.evaluations = make(map[string]int64)
	m.violations = make(map[string]int64)
	m.transitions = make(map[string]int64)
	m.applyAttempts = make(map[string]int64)
	m.recoveryRuns = make(map[string]int64)
	m.evaluationDurations = nil
	m.applyDurations = make(map[string][]time.Duration)
}
