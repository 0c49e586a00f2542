package podchannel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the closed set of failure kinds the core can produce.
// InvalidTransition and NotConnected indicate API misuse and are returned to
// the caller; PeerUnavailable is an expected teardown-race condition and is
// swallowed (logged, never escalated) by the Channel.
var (
	// ErrInvalidTransition is returned when an Endpoint state change is
	// requested that the state machine does not permit, e.g. marking an
	// already-Connected endpoint as connected again.
	ErrInvalidTransition = errors.New("invalid endpoint state transition")

	// ErrNotConnected is returned by Endpoint.Write when the endpoint is not
	// in the Connected state.
	ErrNotConnected = errors.New("endpoint not connected")

	// ErrPeerUnavailable is the advisory reason used when a forwarded write
	// is dropped because the peer endpoint is no longer Connected. It is
	// benign and never propagated out of the Channel.
	ErrPeerUnavailable = errors.New("peer endpoint unavailable")

	// ErrDuplicateName is returned by the registries when a name or type id
	// is already taken.
	ErrDuplicateName = errors.New("duplicate registry name")

	// ErrNotFound is returned by registry lookups, including
	// Engine.GetExtension, for names that were never registered.
	ErrNotFound = errors.New("name not registered")

	// ErrEngineClosed is returned by Engine.OnAccept once the engine has
	// begun shutting down; the inbound handle is closed, never paired.
	ErrEngineClosed = errors.New("engine is shutting down")

	// ErrPendingOverflow tears a Channel down when data buffered before the
	// pair is Established exceeds the configured limit.
	ErrPendingOverflow = errors.New("pending data buffer overflow")
)

// MiddlewareError wraps a failure raised by a middleware hook. The pipeline
// converts any hook error into a MiddlewareError, fans it out to the error
// hooks, and tears the Channel down, so a single misbehaving middleware can
// never leave a Channel half-initialized.
type MiddlewareError struct {
	// Middleware is the Name() of the failing middleware.
	Middleware string
	// Hook is the hook that failed ("connect" or "data").
	Hook string
	// Err is the underlying error returned by the hook.
	Err error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %q %s hook failed: %v", e.Middleware, e.Hook, e.Err)
}

// Unwrap returns the underlying hook error.
func (e *MiddlewareError) Unwrap() error {
	return e.Err
}
