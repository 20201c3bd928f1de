// Package blob stores attachment bytes in a JetStream object store.
// Uploads are authorized by short-lived signed grants scoped to a
// single object path under the uploader's own prefix.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketBlobs is the object store bucket holding attachment files.
const BucketBlobs = "FEED_BLOBS"

// DefaultAllowPatterns admits common image and document types. Glob
// syntax, matched against the full object path.
var DefaultAllowPatterns = []string{
	"*/*.png",
	"*/*.jpg",
	"*/*.jpeg",
	"*/*.gif",
	"*/*.webp",
	"*/*.pdf",
}

// ErrPathNotAllowed is returned for paths outside the allow patterns.
var ErrPathNotAllowed = errors.New("object path not allowed")

// Store reads and writes attachment objects.
type Store struct {
	bucket   jetstream.ObjectStore
	patterns []string
	logger   *slog.Logger
}

// NewStore opens the blob bucket. Empty patterns fall back to
// DefaultAllowPatterns.
func NewStore(nc *natsclient.Client, patterns []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(patterns) == 0 {
		patterns = DefaultAllowPatterns
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	bucket, err := js.CreateOrUpdateObjectStore(context.Background(), jetstream.ObjectStoreConfig{
		Bucket:      BucketBlobs,
		Description: "Post attachment files",
	})
	if err != nil {
		return nil, fmt.Errorf("create/update object store %s: %w", BucketBlobs, err)
	}
	return &Store{bucket: bucket, patterns: patterns, logger: logger}, nil
}

// Allowed reports whether the path passes the allow patterns and stays
// inside a user prefix.
func Allowed(patterns []string, path string) bool {
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return false
	}
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Put stores one object. The path must pass the allow patterns.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if !Allowed(s.patterns, path) {
		return fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
	}
	if _, err := s.bucket.PutBytes(ctx, path, data); err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	s.logger.Debug("Stored object", "path", path, "bytes", len(data))
	return nil
}

// Get retrieves one object's bytes.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	return data, nil
}

// Delete removes one object.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}
