package timeline

import (
	"sort"
	"time"

	togglr "github.com/togglr-project/togglr-sub001"
)

// Evaluator computes feature timelines. It holds only its limits and is
// safe for concurrent use.
type Evaluator struct {
	config togglr.EvaluatorConfig
}

// NewEvaluator creates an evaluator. Zero limits fall back to the defaults.
func NewEvaluator(config togglr.EvaluatorConfig) *Evaluator {
	defaults := togglr.DefaultEvaluatorConfig()
	if config.MaxWindow <= 0 {
		config.MaxWindow = defaults.MaxWindow
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = defaults.DefaultWindow
	}
	if config.DefaultWindow > config.MaxWindow {
		config.DefaultWindow = config.MaxWindow
	}
	return &Evaluator{config: config}
}

// Config returns the effective limits
func (e *Evaluator) Config() togglr.EvaluatorConfig {
	return e.config
}

// Evaluate returns the state changes of f over the half-open window
// [from, to). The first event is always the state at from; every later
// event is a real transition. It either returns the whole timeline or fails.
func (e *Evaluator) Evaluate(f *togglr.Feature, from, to time.Time) ([]togglr.TimelineEvent, error) {
	if f == nil {
		return nil, togglr.ErrValidation.WithArgs("no feature to evaluate")
	}
	if !to.After(from) {
		return nil, togglr.ErrInvalidWindow.WithArgs("to %s is not after from %s", stamp(to), stamp(from))
	}
	if span := to.Sub(from); span > e.config.MaxWindow {
		return nil, togglr.ErrWindowTooLarge.WithArgs("%s exceeds the %s limit", span, e.config.MaxWindow)
	}

	if !f.MasterEnabled {
		return []togglr.TimelineEvent{{Instant: from, Enabled: false}}, nil
	}

	schedules := f.SchedulesSnapshot()
	if len(schedules) == 0 {
		return []togglr.TimelineEvent{{Instant: from, Enabled: f.Enabled}}, nil
	}

	baseline, err := ResolveBaseline(schedules)
	if err != nil {
		return nil, err
	}

	var windows []togglr.Window
	if schedules[0].IsRecurring() {
		windows, err = ExpandRecurring(schedules[0], from, to)
	} else {
		windows, err = oneShotWindows(schedules)
	}
	if err != nil {
		return nil, err
	}

	return merge(windows, baseline, from, to), nil
}

// StateAt returns whether f is enabled at the given instant
func (e *Evaluator) StateAt(f *togglr.Feature, at time.Time) (bool, error) {
	events, err := e.Evaluate(f, at, at.Add(time.Nanosecond))
	if err != nil {
		return false, err
	}
	return events[0].Enabled, nil
}

// NextTransition returns the first state change strictly after the given
// instant within lookahead. Lookahead is capped at the maximum window.
func (e *Evaluator) NextTransition(f *togglr.Feature, after time.Time, lookahead time.Duration) (togglr.TimelineEvent, bool, error) {
	if lookahead <= 0 || lookahead > e.config.MaxWindow {
		lookahead = e.config.MaxWindow
	}
	events, err := e.Evaluate(f, after, after.Add(lookahead))
	if err != nil {
		return togglr.TimelineEvent{}, false, err
	}
	if len(events) < 2 {
		return togglr.TimelineEvent{}, false, nil
	}
	return events[1], true, nil
}

// boundary is a window opening or closing at an instant
type boundary struct {
	at    time.Time
	index int
	open  bool
}

// merge sweeps windows clipped to [from, to) over the baseline. At each
// distinct instant closings apply before openings; the winning active
// window decides the state, otherwise the baseline does.
func merge(windows []togglr.Window, baseline togglr.Action, from, to time.Time) []togglr.TimelineEvent {
	bounds := make([]boundary, 0, 2*len(windows))
	for i, w := range windows {
		if !w.Start.Before(to) || !w.End.After(from) {
			continue
		}
		start := w.Start
		if start.Before(from) {
			start = from
		}
		bounds = append(bounds, boundary{at: start, index: i, open: true})
		if w.End.Before(to) {
			bounds = append(bounds, boundary{at: w.End, index: i})
		}
	}

	sort.SliceStable(bounds, func(i, j int) bool {
		if !bounds[i].at.Equal(bounds[j].at) {
			return bounds[i].at.Before(bounds[j].at)
		}
		return !bounds[i].open && bounds[j].open
	})

	events := make([]togglr.TimelineEvent, 0, len(bounds)+1)
	emit := func(at time.Time, enabled bool) {
		if n := len(events); n > 0 && events[n-1].Enabled == enabled {
			return
		}
		events = append(events, togglr.TimelineEvent{Instant: at, Enabled: enabled})
	}

	if len(bounds) == 0 || bounds[0].at.After(from) {
		emit(from, baseline.Enabled())
	}

	active := make(map[int]togglr.Window)
	for i := 0; i < len(bounds); {
		at := bounds[i].at
		for ; i < len(bounds) && bounds[i].at.Equal(at); i++ {
			b := bounds[i]
			if b.open {
				active[b.index] = windows[b.index]
			} else {
				delete(active, b.index)
			}
		}
		emit(at, stateOf(active, baseline))
	}
	return events
}

// stateOf applies the conflict rule: the latest created window wins and
// Disable wins between windows created at the same instant.
func stateOf(active map[int]togglr.Window, baseline togglr.Action) bool {
	var winner *togglr.Window
	for _, w := range active {
		w := w
		switch {
		case winner == nil:
			winner = &w
		case w.CreatedAt.After(winner.CreatedAt):
			winner = &w
		case w.CreatedAt.Equal(winner.CreatedAt) && w.Action == togglr.ActionDisable:
			winner = &w
		}
	}
	if winner == nil {
		return baseline.Enabled()
	}
	return winner.Action.Enabled()
}
