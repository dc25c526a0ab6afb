// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// Mem is an in-memory Store used by tests and local dev mode, backed by
// a billy memory filesystem so keys behave like the bucket's path
// hierarchy. memfs is not safe for concurrent use, so every operation
// holds the mutex and returned readers are detached copies.
type Mem struct {
	mu sync.Mutex
	fs billy.Filesystem
}

var _ Store = &Mem{}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{fs: memfs.New()}
}

func (s *Mem) Put(ctx context.Context, key string, r io.Reader, opt *PutOptions) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, wrapProgress(r, opt))
	if err != nil {
		return n, &StorageError{Op: "put", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.WriteFile(s.fs, key, buf.Bytes(), 0644); err != nil {
		return 0, &StorageError{Op: "put", Key: key, Err: err}
	}
	return n, nil
}

func (s *Mem) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := util.ReadFile(s.fs, key)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return nil, &StorageError{Op: "open", Key: key, Err: err}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *Mem) List(ctx context.Context, prefix string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make(map[string]int64)
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			full := path.Join(dir, fi.Name())
			if fi.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if key := strings.TrimPrefix(full, "/"); strings.HasPrefix(key, prefix) {
				sizes[key] = fi.Size()
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, &StorageError{Op: "list", Key: prefix, Err: err}
	}
	return sizes, nil
}

func (s *Mem) Copy(ctx context.Context, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := util.ReadFile(s.fs, srcKey)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return &StorageError{Op: "copy", Key: srcKey, Err: err}
	}
	if err := util.WriteFile(s.fs, dstKey, b, 0644); err != nil {
		return &StorageError{Op: "copy", Key: dstKey, Err: err}
	}
	return nil
}

func (s *Mem) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(key); err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *Mem) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fs.Stat(key); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "stat", Key: key, Err: err}
	}
	return true, nil
}

func (s *Mem) SignedURL(key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fs.Stat(key); err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return "", &StorageError{Op: "sign", Key: key, Err: err}
	}
	return fmt.Sprintf("mem://%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// Keys returns all stored keys in sorted order. Test helper.
func (s *Mem) Keys() []string {
	sizes, err := s.List(context.Background(), "")
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
