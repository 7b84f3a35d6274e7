// Package shutdown provides a small "shut down exactly once, wait for
// completion, propagate to children" helper shared by every long-lived
// component in the daemon (channels, the mux, supervisors). It is a
// trimmed adaptation of the activate/once-shutdown pattern used
// throughout the proxy's connection-oriented types.
package shutdown

import "sync"

// Handler performs the synchronous, once-only teardown of the object
// that embeds a Helper. It is invoked in its own goroutine and must not
// block indefinitely; completionErr is the advisory error that
// triggered shutdown (nil for a clean Close).
type Handler interface {
	HandleShutdown(completionErr error) error
}

// Helper is embedded by value in every component that needs once-only,
// waitable shutdown with child propagation.
type Helper struct {
	mu      sync.Mutex
	handler Handler

	started bool
	done    bool
	err     error

	doneChan chan struct{}
	children []*Helper
}

// Init must be called before first use.
func (h *Helper) Init(handler Handler) {
	h.handler = handler
	h.doneChan = make(chan struct{})
}

// AddChild registers a Helper that will be shut down (with the error
// this helper's Handler returned) after that Handler returns, and whose
// completion is waited on before this helper reports itself done.
func (h *Helper) AddChild(child *Helper) {
	h.mu.Lock()
	h.children = append(h.children, child)
	h.mu.Unlock()
}

// StartShutdown schedules asynchronous shutdown. Safe to call more than
// once and from multiple goroutines; only the first call has effect.
func (h *Helper) StartShutdown(completionErr error) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.err = completionErr
	children := append([]*Helper(nil), h.children...)
	h.mu.Unlock()

	go func() {
		finalErr := h.err
		if h.handler != nil {
			finalErr = h.handler.HandleShutdown(h.err)
		}
		var wg sync.WaitGroup
		for _, c := range children {
			wg.Add(1)
			go func(c *Helper) {
				defer wg.Done()
				c.StartShutdown(finalErr)
				c.WaitShutdown()
			}(c)
		}
		wg.Wait()

		h.mu.Lock()
		h.err = finalErr
		h.done = true
		h.mu.Unlock()
		close(h.doneChan)
	}()
}

// WaitShutdown blocks until shutdown (started by this or another
// goroutine) completes, and returns the final completion error.
func (h *Helper) WaitShutdown() error {
	<-h.doneChan
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close starts shutdown with a nil advisory error and waits for it to
// complete; satisfies io.Closer for embedding types.
func (h *Helper) Close() error {
	h.StartShutdown(nil)
	return h.WaitShutdown()
}

// IsStarted reports whether shutdown has begun (or completed).
func (h *Helper) IsStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// DoneChan returns a channel that is closed once shutdown is complete.
func (h *Helper) DoneChan() <-chan struct{} {
	return h.doneChan
}
