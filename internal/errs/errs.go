// Package errs defines the sentinel error taxonomy shared across the
// daemon. Call sites wrap these with fmt.Errorf("...: %w", ...) so
// callers can classify failures with errors.Is without parsing
// strings.
package errs

import "errors"

var (
	// ErrTransientTransport marks a failure expected to clear on its own
	// once the mux/supervisor reconnect loop runs again (dropped frame,
	// closed socket, dial timeout).
	ErrTransientTransport = errors.New("transient transport error")

	// ErrProtocol marks a malformed or unexpected wire payload that is
	// not safe to retry as-is (bad header, unknown envelope case).
	ErrProtocol = errors.New("protocol error")

	// ErrMissingRoute marks a frame or envelope addressed to a port or
	// message case with no registered handler.
	ErrMissingRoute = errors.New("no route for message")

	// ErrShutdown marks an operation that failed only because shutdown
	// was already in progress.
	ErrShutdown = errors.New("component is shutting down")

	// ErrRuntime marks an unexpected internal failure not covered by a
	// more specific sentinel above.
	ErrRuntime = errors.New("runtime error")

	// ErrConfiguration marks a problem with the daemon's own config file
	// or CLI arguments, detected before any network activity starts.
	ErrConfiguration = errors.New("configuration error")
)
