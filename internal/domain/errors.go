package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrServerNotFound means the addressed server code or id is not in
	// the store.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerCodeInUse indicates the requested server code is already
	// registered.
	ErrServerCodeInUse = errors.New("server code already in use")

	// ErrUserNotFound means the requested user id does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// AuthError reports a rejected panel login: the panel answered, but either
// refused the credentials or omitted the session cookie it was supposed to
// set. The next attempt on the same session forces a fresh login.
type AuthError struct {
	Server string
	Reason string
}

func (e *AuthError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("panel %s: login failed: %s", e.Server, e.Reason)
	}
	return "login failed: " + e.Reason
}

// TransportError reports a network-level failure that survived the retry
// budget. It is session-local: fleet-wide operations log it and continue.
type TransportError struct {
	Server string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("panel %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an unexpected HTTP status or a malformed body from
// an otherwise reachable panel. Same containment as [TransportError].
type ProtocolError struct {
	Server string
	Op     string
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("panel %s: %s: http %d: %s", e.Server, e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("panel %s: %s: %s", e.Server, e.Op, e.Reason)
}

// ConfigError reports invalid or missing configuration. It is surfaced
// immediately at startup and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
