package mcpmgr

import (
	"errors"
	"fmt"
)

// Sentinel errors for local precondition violations. They are always returned
// before any transport I/O happens.
var (
	// ErrDuplicateServer indicates a configuration with the same ID is already registered.
	ErrDuplicateServer = errors.New("server already registered")

	// ErrServerNotFound indicates no configuration exists for the server ID.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerBusy indicates the server still holds a live connection.
	ErrServerBusy = errors.New("server has a live connection")

	// ErrAlreadyInProgress indicates another lifecycle operation holds the server.
	ErrAlreadyInProgress = errors.New("lifecycle operation already in progress")

	// ErrAlreadyConnected indicates connect was requested on a connected server.
	ErrAlreadyConnected = errors.New("server already connected")

	// ErrServerNotConnected indicates a call was routed to a server with no live connection.
	ErrServerNotConnected = errors.New("server not connected")

	// ErrInvalidConfig indicates a ServerConfig failed validation.
	ErrInvalidConfig = errors.New("invalid server config")
)

// TransportError wraps a failure reported by the Transport Binding while
// opening, closing, or calling a server.
type TransportError struct {
	ServerID string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcpmgr: %s %q: %v", e.Op, e.ServerID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigPersistenceError reports a failed load or save against the
// ConfigStore. It is logged, never returned from a manager operation.
type ConfigPersistenceError struct {
	Op  string
	Err error
}

func (e *ConfigPersistenceError) Error() string {
	return fmt.Sprintf("mcpmgr: config %s failed: %v", e.Op, e.Err)
}

func (e *ConfigPersistenceError) Unwrap() error {
	return e.Err
}

func serverErr(serverID string, err error) error {
	return fmt.Errorf("mcpmgr: server %q: %w", serverID, err)
}
