// Package objectstore defines the boundary to binary artifact storage
// for workflow outputs. Implementations are deployment concerns.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Get for an unknown key.
var ErrObjectNotFound = errors.New("object not found")

// Store is a key-addressed binary artifact store.
type Store interface {
	// Put stores the object under key, replacing any existing object.
	Put(ctx context.Context, key string, contentType string, body io.Reader) error

	// Get opens the object stored under key, or ErrObjectNotFound. The
	// caller closes the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
