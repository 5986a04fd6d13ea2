package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnimplemented is returned by adapters that do not provide a concrete
// implementation of an operation.
var ErrUnimplemented = errors.New("adapter operation not implemented")

// ErrUnsupportedVendor is returned when constructing a native adapter for a
// vendor outside NativeVendors.
var ErrUnsupportedVendor = errors.New("unsupported vendor")

// ErrVendorNotImplemented is returned when a vendor is known but has no
// concrete backend in this build.
var ErrVendorNotImplemented = errors.New("vendor backend not implemented")

// TransportError reports a failed HTTP exchange with a model backend.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Body is the (possibly truncated) response body.
	Body string

	// Err is the underlying network error when StatusCode is 0.
	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("model transport error: %v", e.Err)
	}
	return fmt.Sprintf("model request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnimplementedAdapter is an embeddable base whose operations fail with
// ErrUnimplemented. Embed it and override the methods you implement.
type UnimplementedAdapter struct {
	name string
}

// NewUnimplementedAdapter returns a base adapter reporting name.
func NewUnimplementedAdapter(name string) UnimplementedAdapter {
	return UnimplementedAdapter{name: name}
}

// Name returns the adapter name.
func (u UnimplementedAdapter) Name() string {
	return u.name
}

// Capabilities always fails with ErrUnimplemented.
func (u UnimplementedAdapter) Capabilities(_ context.Context, _ string) (CapabilityDescriptor, error) {
	return CapabilityDescriptor{}, fmt.Errorf("%s: Capabilities: %w", u.name, ErrUnimplemented)
}

// Generate always fails with ErrUnimplemented.
func (u UnimplementedAdapter) Generate(_ context.Context, _ Request) (Response, error) {
	return nil, fmt.Errorf("%s: Generate: %w", u.name, ErrUnimplemented)
}
