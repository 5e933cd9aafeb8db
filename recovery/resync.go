package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	togglr "github.com/togglr-project/togglr-sub001"
	"github.com/togglr-project/togglr-sub001/internal/logger"
)

// Resyncer periodically runs a refresh function, so schedule edits made
// through another node are picked up and missed transitions are caught.
type Resyncer struct {
	fn       func(ctx context.Context) error
	interval time.Duration
	clock    clock.Clock
	log      *logger.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

// NewResyncer creates a new resyncer instance
func NewResyncer(fn func(ctx context.Context) error, interval time.Duration, clk clock.Clock, log *logger.Logger) *Resyncer {
	if interval <= 0 {
		interval = togglr.DefaultResync
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Resyncer{
		fn:       fn,
		interval: interval,
		clock:    clk,
		log:      log.Named("resync"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the resync goroutine
func (r *Resyncer) Start(ctx context.Context) {
	go r.run(ctx)
}

// run is the main resync loop
func (r *Resyncer) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.fn(ctx); err != nil {
				r.log.Warn("Resync failed", zap.Error(err))
			}
		}
	}
}

// Stop stops the resyncer and waits for a running refresh to finish.
// It must only be called after Start.
func (r *Resyncer) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}
