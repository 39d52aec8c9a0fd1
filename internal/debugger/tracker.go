package debugger

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/errors"
)

// Tracker holds the one session allowed to debug at a time.
type Tracker struct {
	mu      sync.Mutex
	current *Controller
	logger  *zap.Logger
}

var defaultTracker = NewTracker(nil)

// DefaultTracker returns the process-wide tracker.
func DefaultTracker() *Tracker {
	return defaultTracker
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger}
}

// IsActive reports whether a session occupies the slot.
func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// Current returns the active session, if any.
func (t *Tracker) Current() *Controller {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Started claims the slot for c.
func (t *Tracker) Started(c *Controller) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current != c {
		return errors.SessionBusy(t.current.ID())
	}
	t.current = c
	t.logger.Debug("tracker: started", zap.String("session", c.ID()))
	return nil
}

// Finished releases the slot if c holds it.
func (t *Tracker) Finished(c *Controller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != c {
		return
	}
	t.current = nil
	t.logger.Debug("tracker: finished", zap.String("session", c.ID()))
}
