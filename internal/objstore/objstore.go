// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package objstore defines the typed capability interface over the
// external key-prefixed object store backing the archive, along with a
// GCS-backed implementation and an in-memory one for tests and dev mode.
package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PutOptions tunes a single Put call.
type PutOptions struct {
	// ChunkSize is the granularity, in bytes, of the underlying chunked
	// upload. Zero selects the implementation default.
	ChunkSize int
	// Progress, if non-nil, is invoked with the count of newly
	// transferred bytes since its previous invocation.
	Progress func(delta int64)
}

// Store is the object store capability consumed by the archive core.
//
// All operations are synchronous and streaming; implementations must be
// safe for concurrent use by multiple in-flight pipelines. No operation
// retries internally.
type Store interface {
	// Put writes the contents of r to key, returning the byte count written.
	Put(ctx context.Context, key string, r io.Reader, opt *PutOptions) (int64, error)
	// Open returns a streaming reader over the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List enumerates the objects under prefix, mapping key to size.
	List(ctx context.Context, prefix string) (map[string]int64, error)
	// Copy duplicates srcKey to dstKey within the store.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// SignedURL mints a time-limited download URL for key.
	SignedURL(key string, ttl time.Duration) (string, error)
}

// StorageError wraps a failed object store operation with the key and
// underlying transport error.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("objstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotExist indicates the requested object key is absent.
var ErrNotExist = errors.New("object does not exist")

// Get streams the object at key into w, returning the byte count copied.
func Get(ctx context.Context, s Store, key string, w io.Writer) (int64, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n, err := io.Copy(w, r)
	if err != nil {
		return n, &StorageError{Op: "get", Key: key, Err: err}
	}
	return n, nil
}

// LoadText reads the whole object at key as a UTF-8 string.
func LoadText(ctx context.Context, s Store, key string) (string, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", &StorageError{Op: "read", Key: key, Err: err}
	}
	return string(b), nil
}

// PutText writes text as the object at key.
func PutText(ctx context.Context, s Store, key, text string) error {
	_, err := s.Put(ctx, key, strings.NewReader(text), nil)
	return err
}

// progressReader forwards Read calls and reports transferred byte deltas.
type progressReader struct {
	r  io.Reader
	fn func(delta int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.fn != nil {
		pr.fn(int64(n))
	}
	return n, err
}

func wrapProgress(r io.Reader, opt *PutOptions) io.Reader {
	if opt == nil || opt.Progress == nil {
		return r
	}
	return &progressReader{r: r, fn: opt.Progress}
}
