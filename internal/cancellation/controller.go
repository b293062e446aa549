// Package cancellation implements the per-run cooperative stop signal shared
// by the orchestrator and the search task pool.
package cancellation

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Controller is a one-shot stop flag for a single run. Stopping never
// interrupts in-flight work; callers poll Stopped at their checkpoints or
// select on Done.
type Controller struct {
	stopped   atomic.Bool
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	reason    string
	stoppedAt time.Time
}

// New returns a controller in the running state.
func New() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Stop requests a stop. Only the first call records its reason.
func (c *Controller) Stop(reason string) {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.stoppedAt = time.Now().UTC()
		c.mu.Unlock()
		c.stopped.Store(true)
		close(c.done)
		zap.L().Info("cancellation: stop requested", zap.String("reason", reason))
	})
}

// Stopped reports whether a stop was requested. A nil controller never stops.
func (c *Controller) Stopped() bool {
	if c == nil {
		return false
	}
	return c.stopped.Load()
}

// Done returns a channel closed on Stop. A nil controller returns a nil
// channel, which blocks forever in a select.
func (c *Controller) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// Reason returns the reason given to the first Stop call.
func (c *Controller) Reason() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// StoppedAt returns when the stop was requested, or the zero time.
func (c *Controller) StoppedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stoppedAt
}
