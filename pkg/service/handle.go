package service

import (
	"context"
	"errors"
)

// ErrServiceNotFound is returned by a Provider when the name does not
// correspond to an existing service.
var ErrServiceNotFound = errors.New("service not found")

// Handle is a live reference to one OS service.
//
// Start and Stop are requests: the OS drives the actual transition, so callers
// must poll Status to observe the outcome. A Handle is not safe for concurrent
// transition requests.
type Handle interface {
	// Name returns the service name the handle was opened for.
	Name() string
	// Status reads the current status from the backend.
	Status(ctx context.Context) (State, error)
	// Start requests the service to start.
	Start(ctx context.Context) error
	// Stop requests the service to stop.
	Stop(ctx context.Context) error
	// Close releases the handle.
	Close() error
}

// Provider resolves service names to handles.
type Provider interface {
	// Open returns a handle for name, or an error wrapping ErrServiceNotFound.
	Open(ctx context.Context, name string) (Handle, error)
}
