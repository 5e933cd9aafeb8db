package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestInMemoryMetrics_Gauges(t *testing.T) {
	m := NewInMemoryMetrics()

	if got := m.GetFeaturesScheduled(); got != 0 {
		t.Errorf("GetFeaturesScheduled() = %d, want 0", got)
	}

	m.SetFeaturesScheduled(4)
	if got := m.GetFeaturesScheduled(); got != 4 {
		t.Errorf("GetFeaturesScheduled() = %d, want 4", got)
	}

	m.SetTickersPaused(1)
	if got := m.GetTickersPaused(); got != 1 {
		t.Errorf("GetTickersPaused() = %d, want 1", got)
	}

	m.SetQueueLength(7)
	if got := m.GetQueueLength(); got != 7 {
		t.Errorf("GetQueueLength() = %d, want 7", got)
	}

	m.SetFeaturesScheduled(2)
	if got := m.GetFeaturesScheduled(); got != 2 {
		t.Errorf("GetFeaturesScheduled() after update = %d, want 2", got)
	}
}

func TestInMemoryMetrics_Counters(t *testing.T) {
	m := NewInMemoryMetrics()

	m.IncEvaluations(StatusOK)
	m.IncEvaluations(StatusOK)
	m.IncEvaluations("invalid_window")
	if got := m.GetEvaluations(StatusOK); got != 2 {
		t.Errorf("GetEvaluations(ok) = %d, want 2", got)
	}
	if got := m.GetEvaluations("invalid_window"); got != 1 {
		t.Errorf("GetEvaluations(invalid_window) = %d, want 1", got)
	}

	m.IncViolations("overlapping_schedules")
	if got := m.GetViolations("overlapping_schedules"); got != 1 {
		t.Errorf("GetViolations(overlapping_schedules) = %d, want 1", got)
	}

	m.IncTransitions("checkout", StatusApplied)
	m.IncTransitions("checkout", StatusDuplicate)
	m.IncTransitions("search", StatusApplied)
	if got := m.GetTransitions("checkout", StatusApplied); got != 1 {
		t.Errorf("GetTransitions(checkout, applied) = %d, want 1", got)
	}
	if got := m.GetTransitions("checkout", StatusDuplicate); got != 1 {
		t.Errorf("GetTransitions(checkout, duplicate) = %d, want 1", got)
	}
	if got := m.GetTransitions("search", StatusDuplicate); got != 0 {
		t.Errorf("GetTransitions(search, duplicate) = %d, want 0", got)
	}

	m.IncApplyAttempts("checkout", StatusFailed)
	m.IncApplyAttempts("checkout", StatusOK)
	if got := m.GetApplyAttempts("checkout", StatusFailed); got != 1 {
		t.Errorf("GetApplyAttempts(checkout, failed) = %d, want 1", got)
	}

	m.IncRecoveryRuns("checkout", StatusCorrected)
	m.IncRecoveryRuns("search", StatusInSync)
	if got := m.GetRecoveryRuns("checkout", StatusCorrected); got != 1 {
		t.Errorf("GetRecoveryRuns(checkout, corrected) = %d, want 1", got)
	}
	if got := m.GetRecoveryRuns("search", StatusInSync); got != 1 {
		t.Errorf("GetRecoveryRuns(search, in_sync) = %d, want 1", got)
	}
}

func TestInMemoryMetrics_Histograms(t *testing.T) {
	m := NewInMemoryMetrics()

	m.ObserveEvaluationDuration(2 * time.Millisecond)
	m.ObserveEvaluationDuration(3 * time.Millisecond)

	durations := m.GetEvaluationDurations()
	if len(durations) != 2 {
		t.Fatalf("GetEvaluationDurations() length = %d, want 2", len(durations))
	}
	if durations[0] != 2*time.Millisecond {
		t.Errorf("durations[0] = %v, want 2ms", durations[0])
	}

	m.ObserveApplyDuration("checkout", 10*time.Millisecond)
	if got := m.GetApplyDurations("checkout"); len(got) != 1 {
		t.Errorf("GetApplyDurations(checkout) length = %d, want 1", len(got))
	}

	// Returned slices are copies
	durations[0] = 0
	if got := m.GetEvaluationDurations()[0]; got != 2*time.Millisecond {
		t.Errorf("stored duration changed to %v", got)
	}
}

func TestInMemoryMetrics_Reset(t *testing.T) {
	m := NewInMemoryMetrics()

	m.SetFeaturesScheduled(3)
	m.IncTransitions("checkout", StatusApplied)
	m.ObserveApplyDuration("checkout", time.Second)

	m.Reset()

	if got := m.GetFeaturesScheduled(); got != 0 {
		t.Errorf("GetFeaturesScheduled() after reset = %d, want 0", got)
	}
	if got := m.GetTransitions("checkout", StatusApplied); got != 0 {
		t.Errorf("GetTransitions() after reset = %d, want 0", got)
	}
	if durations := m.GetApplyDurations("checkout"); len(durations) != 0 {
		t.Errorf("GetApplyDurations() after reset length = %d, want 0", len(durations))
	}
}

func TestInMemoryMetrics_Concurrency(t *testing.T) {
	m := NewInMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncTransitions("checkout", StatusApplied)
				m.ObserveEvaluationDuration(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	if got := m.GetTransitions("checkout", StatusApplied); got != 1000 {
		t.Errorf("GetTransitions() after concurrent increments = %d, want 1000", got)
	}
	if got := len(m.GetEvaluationDurations()); got != 1000 {
		t.Errorf("GetEvaluationDurations() length = %d, want 1000", got)
	}
}

func TestNoOpMetrics(t *testing.T) {
	var m MetricsCollector = NewNoOpMetrics()

	m.SetFeaturesScheduled(5)
	m.SetTickersPaused(1)
	m.SetQueueLength(2)
	m.IncEvaluations(StatusOK)
	m.IncViolations("validation")
	m.IncTransitions("checkout", StatusApplied)
	m.IncApplyAttempts("checkout", StatusOK)
	m.IncRecoveryRuns("checkout", StatusCorrected)
	m.ObserveEvaluationDuration(time.Millisecond)
	m.ObserveApplyDuration("checkout", time.Millisecond)

	if got := m.GetFeaturesScheduled(); got != 0 {
		t.Errorf("NoOpMetrics.GetFeaturesScheduled() = %d, want 0", got)
	}
	if got := m.GetTransitions("checkout", StatusApplied); got != 0 {
		t.Errorf("NoOpMetrics.GetTransitions() = %d, want 0", got)
	}
}
