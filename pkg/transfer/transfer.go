// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves file set bytes between external URLs, scratch
// disk and the object store, and normalizes archive layouts.
package transfer

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/google/kge-archive/internal/httpx"
	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/internal/runner"
	"github.com/pkg/errors"
)

// ErrInvalidSource indicates a malformed or unusable source URL,
// rejected before any side effect.
var ErrInvalidSource = errors.New("invalid source URL")

// Failure classes encoded by FileSizeOfURL. Distinct negative values by
// design: callers route on them.
const (
	// SizeUnreachable is any transport-level probe failure.
	SizeUnreachable int64 = -1
	// SizeInvalidURL is a URL that does not parse as http(s).
	SizeInvalidURL int64 = -2
	// SizeNoLength is a reachable resource without a Content-Length header.
	SizeNoLength int64 = -3
)

// Config carries the object store coordinates the engine operates on.
type Config struct {
	// Bucket is the archive bucket name, passed through to helper scripts.
	Bucket string
	// Root is the archive key prefix (e.g. "kge-data").
	Root string
	// ArchiveScript is the path of the tar/gzip helper invoked for
	// file set recompression.
	ArchiveScript string
}

// Engine is the archive transfer engine. It is stateless and safe for
// concurrent use by multiple pipelines.
type Engine struct {
	store  objstore.Store
	client httpx.BasicClient
	runner *runner.Runner
	cfg    Config
}

// NewEngine assembles an Engine from its capabilities.
func NewEngine(store objstore.Store, client httpx.BasicClient, r *runner.Runner, cfg Config) *Engine {
	if r == nil {
		r = &runner.Runner{}
	}
	return &Engine{store: store, client: client, runner: r, cfg: cfg}
}

func parseSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSource, "parsing %q: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidSource, "%q", raw)
	}
	return u, nil
}

// IngestFromURL streams the resource at rawURL into the object store at
// key without materializing it in memory. progress, if non-nil, receives
// newly transferred byte counts (deltas). A transfer aborted mid-flight
// deletes the partial object best-effort and surfaces the error; it is
// never reported as a truncated success.
func (e *Engine) IngestFromURL(ctx context.Context, rawURL, key string, progress func(delta int64)) (int64, error) {
	u, err := parseSourceURL(rawURL)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "fetching %s", u)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("fetching %s: status %s", u, resp.Status)
	}
	n, err := e.store.Put(ctx, key, resp.Body, &objstore.PutOptions{Progress: progress})
	if err != nil {
		if derr := e.store.Delete(ctx, key); derr != nil && !errors.Is(derr, objstore.ErrNotExist) {
			log.Printf("transfer: could not remove partial object %s: %v", key, derr)
		}
		return 0, errors.Wrapf(err, "storing %s", key)
	}
	return n, nil
}

// FileSizeOfURL probes rawURL for its size in bytes. The return value
// encodes policy: positive is a known size, 0 an empty URL, and
// SizeInvalidURL, SizeNoLength and SizeUnreachable distinguish the
// failure classes.
func (e *Engine) FileSizeOfURL(ctx context.Context, rawURL string) int64 {
	if rawURL == "" {
		return 0
	}
	if _, err := parseSourceURL(rawURL); err != nil {
		log.Printf("transfer: size probe: %v", err)
		return SizeInvalidURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return SizeInvalidURL
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Printf("transfer: size probe of %s: %v", rawURL, err)
		return SizeUnreachable
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SizeUnreachable
	}
	if resp.ContentLength < 0 {
		return SizeNoLength
	}
	return resp.ContentLength
}

// Aggregate concatenates the objects named by keys that satisfy match,
// in the caller-supplied order, into targetFolder/targetName. Exactly
// one newline separates consecutive members and none trails the last,
// so line-oriented consumers see no blank records at EOF. Returns the
// aggregated object key, or "" when nothing matched.
func (e *Engine) Aggregate(ctx context.Context, targetFolder, targetName string, keys []string, match func(string) bool) (string, error) {
	var selected []string
	for _, k := range keys {
		if match == nil || match(k) {
			selected = append(selected, k)
		}
	}
	if len(selected) == 0 {
		return "", nil
	}
	targetKey := targetFolder + "/" + targetName
	pr, pw := io.Pipe()
	go func() {
		for i, k := range selected {
			r, err := e.store.Open(ctx, k)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(pw, r)
			r.Close()
			if err != nil {
				pw.CloseWithError(errors.Wrapf(err, "aggregating %s", k))
				return
			}
			if i < len(selected)-1 {
				if _, err := io.WriteString(pw, "\n"); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
		}
		pw.Close()
	}()
	if _, err := e.store.Put(ctx, targetKey, pr, nil); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	return targetKey, nil
}
