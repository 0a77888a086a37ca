package opgstore

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the disabled store when no storage backend
// has been set up; callers treat it as a warning, never a fatal error.
var ErrNotConfigured = errors.New("object storage not configured")

// Store is the radiograph blob store consumed by the registry. Implementations
// must treat deletion of a missing object as a no-op.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Disabled is the zero-value store used when no backend is configured.
// Uploads fail with ErrNotConfigured and deletes succeed silently so that
// patient record transactions never block on storage.
type Disabled struct{}

func (Disabled) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Delete(ctx context.Context, key string) error { return nil }
