package autopilot

import (
	"context"
	"sync"
	"time"

	"autopilot/pkg/logx"
)

// Poller polling cadence. A failed poll backs off harder than a
// successful one, and the backoff is bounded.
const (
	DefaultPollInterval = 2 * time.Second
	maxErrorBackoff     = 30 * time.Second
)

// Poller watches a session through StatusSnapshot on a fixed interval
// until a terminal status is observed or the poller is stopped. It
// never keeps polling after its consumer is gone.
type Poller struct {
	logger   *logx.Logger
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a poller over the engine. A non-positive interval
// falls back to the default.
func NewPoller(engine *Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		logger:   logx.NewLogger("poller"),
		engine:   engine,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Watch polls the session and delivers each snapshot to onUpdate. It
// returns when a terminal status is observed, the context is done, or
// Stop is called. The final terminal snapshot is delivered before
// returning.
func (p *Poller) Watch(ctx context.Context, sessionID string, onUpdate func(*Session)) {
	backoff := p.interval
	consecutiveErrors := 0

	for {
		session, err := p.engine.StatusSnapshot(sessionID)
		if err != nil {
			consecutiveErrors++
			backoff = p.errorBackoff(consecutiveErrors)
			p.logger.Warn("poll %d for session %s failed: %v", consecutiveErrors, sessionID, err)
		} else {
			consecutiveErrors = 0
			backoff = p.interval
			if onUpdate != nil {
				onUpdate(session)
			}
			if IsTerminalStatus(session.Status) {
				p.logger.Debug("session %s reached %s, stopping poll", sessionID, session.Status)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(backoff):
		}
	}
}

// Stop terminates all Watch loops. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// errorBackoff doubles the poll interval per consecutive failure, up to
// the bound.
func (p *Poller) errorBackoff(consecutiveErrors int) time.Duration {
	backoff := p.interval
	for i := 0; i < consecutiveErrors && backoff < maxErrorBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxErrorBackoff {
		backoff = maxErrorBackoff
	}
	return backoff
}
