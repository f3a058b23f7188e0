// Package gcs implements the blob Store on a Google Cloud Storage bucket.
// Locks are temporary holds, which the service enforces on delete.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"ptxmeta/internal/blob/core"
)

// Config holds construction parameters.
type Config struct {
	Bucket          string `env:"BUCKET"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	// Endpoint targets an emulator such as fake-gcs-server; authentication is skipped.
	Endpoint string `env:"ENDPOINT"`
}

// Store implements core.Store and core.Locker on a single bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New creates a Cloud Storage blob store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/storage/v1/"), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverGCS }

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.name }

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Put writes a new object guarded by a does-not-exist precondition.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	w := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return core.Info{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return core.Info{}, mapError(key, err)
	}
	return fromAttrs(w.Attrs()), nil
}

// Get streams the object body.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	rc, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return core.Info{}, nil, mapError(key, err)
	}
	return info, rc, nil
}

// Head returns object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return core.Info{}, mapError(key, err)
	}
	return fromAttrs(attrs), nil
}

// Delete removes the object unless a hold is set.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	info, err := s.Head(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.Locked {
		return false, fmt.Errorf("blob %s: %w", key, core.ErrLocked)
	}
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, mapError(key, err)
	}
	return true, nil
}

// Lock sets a temporary hold on the object.
func (s *Store) Lock(ctx context.Context, key string) error {
	if _, err := s.bucket.Object(key).Update(ctx, storage.ObjectAttrsToUpdate{TemporaryHold: true}); err != nil {
		return mapError(key, err)
	}
	return nil
}

// List iterates objects under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var out []core.Info
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromAttrs(attrs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL signs a V4 GET URL. Signing needs service account credentials.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, http.MethodGet) {
		return "", core.ErrUnsupported
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = core.DefaultPresignExpiry
	}
	return s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Scheme:  storage.SigningSchemeV4,
	})
}

func fromAttrs(attrs *storage.ObjectAttrs) core.Info {
	if attrs == nil {
		return core.Info{}
	}
	return core.Info{
		Key:          attrs.Name,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         attrs.Etag,
		Metadata:     attrs.Metadata,
		Locked:       attrs.TemporaryHold || attrs.EventBasedHold,
		LastModified: attrs.Updated,
	}
}

func mapError(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("blob %s: %w", key, core.ErrExists)
		case http.StatusForbidden:
			return fmt.Errorf("blob %s: %w: %s", key, core.ErrLockDenied, apiErr.Message)
		}
	}
	return err
}
