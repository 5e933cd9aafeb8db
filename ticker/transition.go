package ticker

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRecheck is how long a ticker sleeps when no transition is known
const DefaultRecheck = time.Hour

// NextFunc reports the first transition strictly after now. ok is false when
// nothing is due within the caller's lookahead.
type NextFunc func(now time.Time) (at time.Time, enabled bool, ok bool, err error)

// TransitionTicker wakes up at each computed transition of a feature and
// emits it on its channel. It implements Ticker.
type TransitionTicker struct {
	next    NextFunc
	clock   clock.Clock
	recheck time.Duration
	onError func(error)

	ch      chan ExecutionContext
	stopCh  chan struct{}
	wakeCh  chan struct{}
	running bool
	paused  bool
	mu      sync.RWMutex
}

var _ Ticker = (*TransitionTicker)(nil)

// NewTransitionTicker creates a ticker driven by next. A nil clock uses the
// real one; recheck <= 0 uses DefaultRecheck.
func NewTransitionTicker(next NextFunc, clk clock.Clock, recheck time.Duration) (*TransitionTicker, error) {
	if next == nil {
		return nil, fmt.Errorf("next function is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	if recheck <= 0 {
		recheck = DefaultRecheck
	}

	return &TransitionTicker{
		next:    next,
		clock:   clk,
		recheck: recheck,
		ch:      make(chan ExecutionContext, 10),
		stopCh:  make(chan struct{}),
		wakeCh:  make(chan struct{}, 1),
	}, nil
}

// OnError registers a callback for failures of the next function
func (t *TransitionTicker) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// Start begins waiting for transitions
func (t *TransitionTicker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	select {
	case <-t.stopCh:
		return fmt.Errorf("transition ticker already stopped")
	default:
	}

	t.running = true
	go t.run()
	return nil
}

// run is the main ticker loop
func (t *TransitionTicker) run() {
	for {
		t.mu.RLock()
		paused := t.paused
		t.mu.RUnlock()

		if paused {
			select {
			case <-t.stopCh:
				return
			case <-t.wakeCh:
			}
			continue
		}

		now := t.clock.Now()
		at, enabled, ok, err := t.next(now)
		if err != nil {
			t.reportError(err)
		}

		wait := t.recheck
		if err == nil && ok {
			wait = at.Sub(now)
			if wait < 0 {
				wait = 0
			}
		}

		timer := t.clock.Timer(wait)
		select {
		case <-timer.C:
			if err != nil || !ok || t.IsPaused() {
				continue
			}
			ctx := ExecutionContext{
				ScheduledTime: at,
				ActualTime:    t.clock.Now(),
				Enabled:       enabled,
			}

			// Non-blocking send
			select {
			case t.ch <- ctx:
			default:
				// Channel full, the next pass re-evaluates anyway
			}
		case <-t.stopCh:
			timer.Stop()
			return
		case <-t.wakeCh:
			timer.Stop()
		}
	}
}

func (t *TransitionTicker) reportError(err error) {
	t.mu.RLock()
	fn := t.onError
	t.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Channel returns the execution context channel
func (t *TransitionTicker) Channel() <-chan ExecutionContext {
	return t.ch
}

// Stop halts the ticker. A stopped ticker cannot be restarted.
func (t *TransitionTicker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.stopCh:
		return nil
	default:
	}

	close(t.stopCh)
	t.running = false
	return nil
}

// Pause temporarily suspends emission
func (t *TransitionTicker) Pause() error {
	return t.setPaused(true)
}

// Resume resumes a paused ticker
func (t *TransitionTicker) Resume() error {
	return t.setPaused(false)
}

// setPaused records the requested state at once and wakes the run loop,
// which re-reads it. Requests never queue up, so the last one wins.
func (t *TransitionTicker) setPaused(p bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paused == p {
		return nil
	}
	t.paused = p

	select {
	case t.wakeCh <- struct{}{}:
	default:
		// A wake-up is already pending
	}
	return nil
}

// IsPaused returns whether the ticker is paused
func (t *TransitionTicker) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// NextRun returns the next transition instant, or nil when none is known
func (t *TransitionTicker) NextRun() (*time.Time, error) {
	at, _, ok, err := t.next(t.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &at, nil
}
