package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle lets another goroutine ask a running task to stop. The runner
// checks the flag between executors; with force set the executor running
// at that moment is also interrupted.
type Handle struct {
	canceled atomic.Bool
	force    bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHandle creates a Handle.
func NewHandle(force bool) *Handle {
	return &Handle{force: force}
}

// Cancel requests cancellation. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.canceled.Store(true)
	if !h.force {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Canceled reports whether Cancel has been called.
func (h *Handle) Canceled() bool {
	return h.canceled.Load()
}

func (h *Handle) bind(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	if h.force && h.Canceled() {
		cancel()
	}
}
