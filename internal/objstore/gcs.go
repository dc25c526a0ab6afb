// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"context"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by a single Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

var _ Store = &GCS{}

// NewGCS creates a bucket-scoped Store using ambient credentials.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCS{client: client, bucket: client.Bucket(bucket)}, nil
}

// Put writes r to key. ChunkSize configures the resumable upload
// granularity; progress deltas are reported as bytes are consumed.
func (s *GCS) Put(ctx context.Context, key string, r io.Reader, opt *PutOptions) (int64, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	if opt != nil && opt.ChunkSize > 0 {
		w.ChunkSize = opt.ChunkSize
	}
	n, err := io.Copy(w, wrapProgress(r, opt))
	if err != nil {
		w.Close()
		return n, &StorageError{Op: "put", Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		return n, &StorageError{Op: "put", Key: key, Err: err}
	}
	return n, nil
}

func (s *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			err = ErrNotExist
		}
		return nil, &StorageError{Op: "open", Key: key, Err: err}
	}
	return r, nil
}

func (s *GCS) List(ctx context.Context, prefix string) (map[string]int64, error) {
	sizes := make(map[string]int64)
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &StorageError{Op: "list", Key: prefix, Err: err}
		}
		sizes[attrs.Name] = attrs.Size
	}
	return sizes, nil
}

func (s *GCS) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := s.bucket.Object(srcKey)
	if _, err := s.bucket.Object(dstKey).CopierFrom(src).Run(ctx); err != nil {
		return &StorageError{Op: "copy", Key: srcKey, Err: err}
	}
	return nil
}

func (s *GCS) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			err = ErrNotExist
		}
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "stat", Key: key, Err: err}
	}
	return true, nil
}

func (s *GCS) SignedURL(key string, ttl time.Duration) (string, error) {
	u, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", &StorageError{Op: "sign", Key: key, Err: err}
	}
	return u, nil
}

// Close releases the underlying client.
func (s *GCS) Close() error { return s.client.Close() }
