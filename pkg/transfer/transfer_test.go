// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/kge-archive/internal/objstore"
	"github.com/pkg/errors"
)

type fakeClient struct {
	handler func(*http.Request) (*http.Response, error)
}

func (f fakeClient) Do(req *http.Request) (*http.Response, error) {
	return f.handler(req)
}

func respondWith(status int, body string, contentLength int64) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    status,
			Status:        http.StatusText(status),
			ContentLength: contentLength,
			Body:          io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func newTestEngine(store objstore.Store, client fakeClient) *Engine {
	return NewEngine(store, client, nil, Config{Bucket: "test-bucket", Root: "kge-data"})
}

func TestFileSizeOfURL(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name    string
		url     string
		handler func(*http.Request) (*http.Response, error)
		want    int64
	}{
		{"empty URL", "", nil, 0},
		{"unparseable URL", "://no-scheme", nil, SizeInvalidURL},
		{"non-http scheme", "ftp://host/file", nil, SizeInvalidURL},
		{"known size", "https://example.org/kg.tar.gz", respondWith(200, "", 123456), 123456},
		{"missing content length", "https://example.org/kg.tar.gz", respondWith(200, "", -1), SizeNoLength},
		{"unreachable host", "https://example.org/kg.tar.gz", func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial: connection refused")
		}, SizeUnreachable},
		{"server error", "https://example.org/kg.tar.gz", respondWith(503, "", 0), SizeUnreachable},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(objstore.NewMem(), fakeClient{tc.handler})
			if got := e.FileSizeOfURL(ctx, tc.url); got != tc.want {
				t.Errorf("FileSizeOfURL(%q) = %d, want %d", tc.url, got, tc.want)
			}
		})
	}
}

func TestIngestFromURL(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMem()
	payload := strings.Repeat("node\tedge\n", 1000)
	e := newTestEngine(store, fakeClient{respondWith(200, payload, int64(len(payload)))})

	var total int64
	n, err := e.IngestFromURL(ctx, "https://example.org/kg.tsv", "kge-data/kg/1.0/kg.tsv", func(d int64) { total += d })
	if err != nil {
		t.Fatalf("IngestFromURL() = %v, want nil", err)
	}
	if n != int64(len(payload)) || total != n {
		t.Errorf("IngestFromURL() = %d bytes, progress %d, want both %d", n, total, len(payload))
	}
	got, err := objstore.LoadText(ctx, store, "kge-data/kg/1.0/kg.tsv")
	if err != nil || got != payload {
		t.Errorf("stored object mismatch (err=%v)", err)
	}
}

func TestIngestFromURLRejectsMalformed(t *testing.T) {
	called := false
	e := newTestEngine(objstore.NewMem(), fakeClient{func(*http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unexpected")
	}})
	_, err := e.IngestFromURL(context.Background(), "not://a url", "key", nil)
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("IngestFromURL(malformed) = %v, want ErrInvalidSource", err)
	}
	if called {
		t.Error("client contacted before URL validation")
	}
}

type errAfterReader struct {
	r io.Reader
}

func (e *errAfterReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		return n, errors.New("stream reset mid-flight")
	}
	return n, err
}

func TestIngestFromURLAbortedTransfer(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMem()
	e := newTestEngine(store, fakeClient{func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Status:     "OK",
			Body:       io.NopCloser(&errAfterReader{strings.NewReader("partial data")}),
		}, nil
	}})
	_, err := e.IngestFromURL(ctx, "https://example.org/kg.tsv", "kge-data/kg/1.0/kg.tsv", nil)
	if err == nil {
		t.Fatal("IngestFromURL() = nil, want error for aborted stream")
	}
	if ok, _ := store.Exists(ctx, "kge-data/kg/1.0/kg.tsv"); ok {
		t.Error("partial object left behind after aborted transfer")
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMem()
	e := newTestEngine(store, fakeClient{})
	for key, content := range map[string]string{
		"kge-data/kg/1.0/nodes/a.tsv": "x\n",
		"kge-data/kg/1.0/nodes/b.tsv": "y\n",
		"kge-data/kg/1.0/skip.txt":    "nope\n",
	} {
		if _, err := store.Put(ctx, key, strings.NewReader(content), nil); err != nil {
			t.Fatal(err)
		}
	}

	key, err := e.Aggregate(ctx, "kge-data/kg/1.0", "nodes.tsv",
		[]string{"kge-data/kg/1.0/nodes/a.tsv", "kge-data/kg/1.0/nodes/b.tsv"}, nil)
	if err != nil {
		t.Fatalf("Aggregate() = %v, want nil", err)
	}
	var buf bytes.Buffer
	if _, err := objstore.Get(ctx, store, key, &buf); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "x\n\ny\n"; got != want {
		t.Errorf("Aggregate() content = %q, want %q", got, want)
	}
}

func TestAggregateMatchFilter(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMem()
	e := newTestEngine(store, fakeClient{})
	keys := []string{"kge-data/kg/1.0/a.tsv", "kge-data/kg/1.0/b.txt"}
	for _, k := range keys {
		if _, err := store.Put(ctx, k, strings.NewReader("data\n"), nil); err != nil {
			t.Fatal(err)
		}
	}
	key, err := e.Aggregate(ctx, "kge-data/kg/1.0", "all.tsv", keys, func(k string) bool {
		return strings.HasSuffix(k, ".tsv")
	})
	if err != nil {
		t.Fatalf("Aggregate() = %v", err)
	}
	got, err := objstore.LoadText(ctx, store, key)
	if err != nil || got != "data\n" {
		t.Errorf("filtered Aggregate() = (%q, %v), want (%q, nil)", got, err, "data\n")
	}
}

func TestAggregateEmpty(t *testing.T) {
	e := newTestEngine(objstore.NewMem(), fakeClient{})
	key, err := e.Aggregate(context.Background(), "kge-data/kg/1.0", "nodes.tsv", nil, nil)
	if err != nil || key != "" {
		t.Errorf("Aggregate(no keys) = (%q, %v), want (%q, nil)", key, err, "")
	}
}
