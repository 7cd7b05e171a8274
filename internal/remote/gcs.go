package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/torfstack/shore/internal/auth"
	"github.com/torfstack/shore/internal/config"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSStore talks to a Google Cloud Storage bucket.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

var _ Store = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, cfg config.Config) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		ts, err := auth.TokenSource(ctx, cfg.CredentialsFile, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("could not load credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create storage service: %w", err)
	}
	return &GCSStore{svc: svc, bucket: cfg.Bucket}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := g.svc.Objects.
		Insert(g.bucket, &storage.Object{Name: key}).
		Media(r).
		Context(ctx).
		Do()
	return g.wrap("put", key, err)
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.wrap("delete", key, g.svc.Objects.Delete(g.bucket, key).Context(ctx).Do())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (g *GCSStore) List(ctx context.Context, prefix string, fn func(Object) error) error {
	var fnErr error
	call := g.svc.Objects.List(g.bucket).Prefix(prefix)
	err := call.Pages(ctx, func(page *storage.Objects) error {
		for _, o := range page.Items {
			if fnErr = fn(Object{Key: o.Name, Size: int64(o.Size)}); fnErr != nil {
				return fnErr
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return g.wrap("list", prefix, err)
}

func (g *GCSStore) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == http.StatusNotFound:
			return &BackendError{Op: op, Key: key, Err: ErrNotFound}
		case ge.Code == http.StatusTooManyRequests || ge.Code >= 500:
			return &BackendError{Op: op, Key: key, Transient: true, Err: err}
		}
		return &BackendError{Op: op, Key: key, Err: err}
	}

	return &BackendError{Op: op, Key: key, Transient: true, Err: err}
}
