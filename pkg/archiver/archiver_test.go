// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archiver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/kge-archive/internal/compute"
	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/pkg/catalog"
	"github.com/google/kge-archive/pkg/transfer"
	"github.com/google/kge-archive/pkg/volume"
	"github.com/pkg/errors"
)

const testRoot = "kge-data"

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "archiver.bash")
	if err := os.WriteFile(p, []byte("#!/bin/bash\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

func buildTarGz(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	// Deterministic member order keeps extraction order stable.
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := members[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Size:     int64(len(body)),
			Mode:     0644,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestArchiver(t *testing.T, store objstore.Store) (*Archiver, *compute.DryRun) {
	t.Helper()
	svc := compute.NewDryRun()
	volumes := volume.NewManager(svc, nil, volume.Config{PollInterval: time.Millisecond, DryRun: true})
	engine := transfer.NewEngine(store, nil, nil, transfer.Config{
		Bucket:        "test-bucket",
		Root:          testRoot,
		ArchiveScript: writeScript(t, "exit 0"),
	})
	a := New(store, engine, volumes, catalog.New(testRoot), Config{
		RetentionTTL:  time.Hour,
		SweepInterval: 10 * time.Millisecond,
	})
	t.Cleanup(a.Close)
	return a, svc
}

func loadedFileSet(t *testing.T, store objstore.Store, kgID, version string, members map[string]string) *catalog.FileSet {
	t.Helper()
	blob := buildTarGz(t, members)
	name := kgID + "_upload.tar.gz"
	key := catalog.ObjectKey(catalog.FileSetLocation(testRoot, kgID, version), "archive", name)
	if _, err := store.Put(context.Background(), key, bytes.NewReader(blob), nil); err != nil {
		t.Fatal(err)
	}
	fs := &catalog.FileSet{KgID: kgID, Version: version, Status: catalog.Loaded}
	fs.AddFile(catalog.File{ObjectKey: key, Name: name, Type: catalog.Archive, Size: int64(len(blob))})
	return fs
}

func waitTerminal(t *testing.T, a *Archiver, token string) *JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := a.Status(token)
		if err != nil {
			t.Fatalf("Status(%s) = %v", token, err)
		}
		if st.Phase != catalog.Processing {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("pipeline for %s did not reach a terminal phase", token)
	return nil
}

func TestProcessPipeline(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMem()
	a, svc := newTestArchiver(t, store)
	fs := loadedFileSet(t, store, "kg", "1.0", map[string]string{
		"nodes/kgx-1.tsv":       "n1\n",
		"edges/kgx-1.tsv":       "e1\n",
		"content_metadata.json": "{}",
	})

	token, err := a.Process(ctx, fs)
	if err != nil {
		t.Fatalf("Process() = %v, want nil", err)
	}
	st := waitTerminal(t, a, token)
	if st.Phase != catalog.Validated || st.Cause != "" {
		t.Fatalf("terminal status = (%s, %q), want (Validated, empty cause)", st.Phase, st.Cause)
	}

	byName := map[string]catalog.File{}
	for _, f := range st.Files {
		byName[f.Name] = f
	}
	if f, ok := byName["nodes.tsv"]; !ok || f.Type != catalog.Nodes {
		t.Errorf("aggregated nodes record = %+v, ok=%t", f, ok)
	}
	if f, ok := byName["edges.tsv"]; !ok || f.Type != catalog.Edges {
		t.Errorf("aggregated edges record = %+v, ok=%t", f, ok)
	}
	if f, ok := byName["kg_1.0.tar.gz"]; !ok || f.Type != catalog.Archive {
		t.Errorf("recompressed archive record = %+v, ok=%t", f, ok)
	}
	if got, err := objstore.LoadText(ctx, store, testRoot+"/kg/1.0/nodes.tsv"); err != nil || got != "n1\n" {
		t.Errorf("aggregated nodes object = (%q, %v)", got, err)
	}

	blob, err := objstore.LoadText(ctx, store, testRoot+"/kg/1.0/"+catalog.FileSetMetadataName)
	if err != nil {
		t.Fatalf("persisted metadata missing: %v", err)
	}
	md, err := catalog.ParseFileSetMetadata([]byte(blob))
	if err != nil {
		t.Fatal(err)
	}
	if md.Status != string(catalog.Validated) || md.KgID != "kg" {
		t.Errorf("persisted metadata = status %q kg %q", md.Status, md.KgID)
	}

	// Scratch was provisioned and fully reclaimed.
	var created, deleted bool
	for _, call := range svc.Calls() {
		switch {
		case strings.HasPrefix(call, "create-volume"):
			created = true
		case strings.HasPrefix(call, "delete-volume"):
			deleted = true
		}
	}
	if !created || !deleted {
		t.Errorf("scratch lifecycle calls = %v, want create and delete", svc.Calls())
	}
	if a.ActiveJobs() != 0 {
		t.Errorf("ActiveJobs() = %d after completion, want 0", a.ActiveJobs())
	}

	// Completed status stays stable across polls.
	again, err := a.Status(token)
	if err != nil || again.Phase != st.Phase || again.Cause != st.Cause {
		t.Errorf("repeated Status() = (%+v, %v), want stable %+v", again, err, st)
	}
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	a, _ := newTestArchiver(t, objstore.NewMem())
	fs := &catalog.FileSet{Version: "1.0", Status: catalog.Loaded}
	if _, err := a.Process(context.Background(), fs); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Process(no kg_id) = %v, want ErrInvalidInput", err)
	}
	fs = &catalog.FileSet{KgID: "kg", Version: "v1", Status: catalog.Loaded}
	if _, err := a.Process(context.Background(), fs); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Process(bad version) = %v, want ErrInvalidInput", err)
	}
}

func TestProcessRequiresLoaded(t *testing.T) {
	a, _ := newTestArchiver(t, objstore.NewMem())
	fs := &catalog.FileSet{KgID: "kg", Version: "1.0", Status: catalog.Created}
	if _, err := a.Process(context.Background(), fs); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Process(Created) = %v, want ErrNotLoaded", err)
	}
}

func TestStatusUnknownToken(t *testing.T) {
	a, _ := newTestArchiver(t, objstore.NewMem())
	if _, err := a.Status("never-issued"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Status(unknown) = %v, want ErrUnknownToken", err)
	}
}

// gatedStore blocks Open calls until the gate closes, pinning a
// pipeline mid-extraction.
type gatedStore struct {
	objstore.Store
	gate chan struct{}
}

func (g *gatedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	<-g.gate
	return g.Store.Open(ctx, key)
}

func TestProcessConflictWhileRunning(t *testing.T) {
	ctx := context.Background()
	mem := objstore.NewMem()
	store := &gatedStore{Store: mem, gate: make(chan struct{})}
	a, _ := newTestArchiver(t, store)
	fs := loadedFileSet(t, mem, "kg", "1.0", map[string]string{"nodes/kgx-1.tsv": "n\n"})

	token, err := a.Process(ctx, fs)
	if err != nil {
		t.Fatalf("Process() = %v, want nil", err)
	}

	// Same file set, racing submission.
	rival := &catalog.FileSet{KgID: "kg", Version: "1.0", Status: catalog.Loaded}
	_, err = a.Process(ctx, rival)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("concurrent Process() = %v, want *ConflictError", err)
	}
	if conflict.Token != token {
		t.Errorf("ConflictError.Token = %s, want running job %s", conflict.Token, token)
	}

	close(store.gate)
	st := waitTerminal(t, a, token)
	if st.Phase != catalog.Validated {
		t.Errorf("terminal phase = %s (cause %q), want Validated", st.Phase, st.Cause)
	}

	// With the pipeline finished the key is free again, but the file set
	// is no longer Loaded.
	if _, err := a.Process(ctx, fs); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Process(after completion) = %v, want ErrNotLoaded", err)
	}
}

func TestJobGC(t *testing.T) {
	store := objstore.NewMem()
	svc := compute.NewDryRun()
	volumes := volume.NewManager(svc, nil, volume.Config{PollInterval: time.Millisecond, DryRun: true})
	engine := transfer.NewEngine(store, nil, nil, transfer.Config{
		Bucket:        "test-bucket",
		Root:          testRoot,
		ArchiveScript: writeScript(t, "exit 0"),
	})
	a := New(store, engine, volumes, catalog.New(testRoot), Config{
		RetentionTTL:  5 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	defer a.Close()

	fs := &catalog.FileSet{KgID: "kg", Version: "1.0", Status: catalog.Loaded}
	token, err := a.Process(context.Background(), fs)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, a, token)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := a.Status(token); errors.Is(err, ErrUnknownToken) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("job %s survived past the retention window", token)
}
