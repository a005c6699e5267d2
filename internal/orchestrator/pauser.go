package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

// Pauser is the loop's pause flag. Wait blocks while paused; toggles from
// any goroutine are safe.
type Pauser struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewPauser returns a running (unpaused) Pauser. logger and m may be nil.
func NewPauser(logger *zap.Logger, m *metrics.Metrics) *Pauser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pauser{logger: logger.Named("pauser"), metrics: m}
}

// Pause sets the flag. It reports whether the state changed.
func (p *Pauser) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setLocked(true)
}

// Resume clears the flag and releases waiters. It reports whether the
// state changed.
func (p *Pauser) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setLocked(false)
}

// Toggle flips the flag and returns the new paused state.
func (p *Pauser) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(!p.paused)
	return p.paused
}

func (p *Pauser) setLocked(paused bool) bool {
	if p.paused == paused {
		return false
	}
	p.paused = paused
	if paused {
		p.resumed = make(chan struct{})
		p.logger.Info("loop paused")
	} else {
		close(p.resumed)
		p.logger.Info("loop resumed")
	}
	p.metrics.SetPaused(paused)
	return true
}

// Paused reports the current flag.
func (p *Pauser) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait returns immediately when not paused and otherwise blocks until
// Resume or until ctx ends, in which case it returns ErrCancelled.
func (p *Pauser) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return nil
		}
		ch := p.resumed
		p.mu.Unlock()

		select {
		case <-ch:
			// Re-check: another Pause may have landed already.
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}
