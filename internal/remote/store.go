// Package remote abstracts the object-storage bucket the local tree is
// mirrored into. The sync engine only ever talks to the Store interface;
// concrete backends exist for S3-compatible services and Google Cloud
// Storage, plus an in-memory store for tests.
package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/torfstack/shore/internal/config"
)

// Object describes one remote object as seen in a listing.
type Object struct {
	Key  string
	Size int64
}

// Store is the blob-store capability consumed by the sync engine.
//
// Put overwrites the object at key with the content read from r.
// Delete removes the object at key; deleting a missing key is success.
// List streams all objects under prefix to fn, page by page, and stops
// early when fn returns an error.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, fn func(Object) error) error
}

// NewStore builds the backend selected in the config.
func NewStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return NewS3Store(ctx, cfg)
	case config.BackendGCS:
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
	}
}
