// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Binary archiver serves the file set post-processing API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/google/kge-archive/internal/compute"
	"github.com/google/kge-archive/internal/httpx"
	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/internal/runner"
	"github.com/google/kge-archive/pkg/archiver"
	"github.com/google/kge-archive/pkg/catalog"
	"github.com/google/kge-archive/pkg/transfer"
	"github.com/google/kge-archive/pkg/volume"
	"github.com/pkg/errors"
)

var (
	addr          = flag.String("addr", ":8080", "address to listen on")
	project       = flag.String("project", "", "GCP project for scratch volume management")
	bucket        = flag.String("bucket", "", "archive bucket name")
	root          = flag.String("root", "kge-data", "archive key prefix within the bucket")
	archiveScript = flag.String("archive-script", "scripts/kge_archiver.bash", "file set recompression helper")
	mountScript   = flag.String("mount-script", "scripts/mount_scratch.bash", "scratch volume mount helper")
	unmountScript = flag.String("unmount-script", "scripts/unmount_scratch.bash", "scratch volume unmount helper")
	scratchDevice = flag.String("scratch-device", "/dev/sdb", "device name scratch volumes attach at")
	scratchRoot   = flag.String("scratch-root", "/mnt/kge-scratch", "directory for per-job scratch mount points")
	retention     = flag.Duration("job-retention", time.Hour, "how long finished jobs stay pollable")
	dev           = flag.Bool("dev", false, "use in-memory storage and dry-run compute instead of GCP")
)

var (
	arc *archiver.Archiver
	cat *catalog.Catalog
)

func handleProcess(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var md catalog.FileSetMetadata
	if err := json.NewDecoder(req.Body).Decode(&md); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	fs, err := catalog.FileSetFromMetadata(&md)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := arc.Process(req.Context(), fs)
	switch {
	case err == nil:
	case errors.Is(err, archiver.ErrInvalidInput), errors.Is(err, archiver.ErrNotLoaded):
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	default:
		var conflict *archiver.ConflictError
		if errors.As(err, &conflict) {
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("process %s/%s: %v", md.KgID, md.FilesetVersion, err)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"process_token": token})
}

func handleStatus(rw http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		http.Error(rw, "token required", http.StatusBadRequest)
		return
	}
	st, err := arc.Status(token)
	if err != nil {
		if errors.Is(err, archiver.ErrUnknownToken) {
			http.Error(rw, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	type fileJSON struct {
		FileName  string `json:"file_name"`
		FileType  string `json:"file_type"`
		FileSize  int64  `json:"file_size"`
		ObjectKey string `json:"object_key"`
	}
	out := struct {
		Token   string     `json:"process_token"`
		KgID    string     `json:"kg_id"`
		Version string     `json:"fileset_version"`
		Status  string     `json:"status"`
		Cause   string     `json:"cause,omitempty"`
		Files   []fileJSON `json:"files,omitempty"`
	}{Token: st.Token, KgID: st.KgID, Version: st.Version, Status: string(st.Phase), Cause: st.Cause}
	for _, f := range st.Files {
		out.Files = append(out.Files, fileJSON{
			FileName:  f.Name,
			FileType:  string(f.Type),
			FileSize:  f.Size,
			ObjectKey: f.ObjectKey,
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(out)
}

func handleCatalog(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(cat.VersionsByGraph())
}

func main() {
	flag.Parse()
	ctx := context.Background()

	var store objstore.Store
	var svc compute.Service
	if *dev {
		store = objstore.NewMem()
		svc = compute.NewDryRun()
	} else {
		if *bucket == "" || *project == "" {
			log.Fatalln("-bucket and -project are required outside -dev mode")
		}
		var err error
		store, err = objstore.NewGCS(ctx, *bucket)
		if err != nil {
			log.Fatalln(err)
		}
		svc, err = compute.NewGCE(ctx, *project)
		if err != nil {
			log.Fatalln(err)
		}
	}

	var err error
	cat, err = catalog.Load(ctx, store, *root)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "loading catalog"))
	}
	log.Printf("catalog loaded: %d knowledge graphs under %s", len(cat.KnowledgeGraphs()), *root)

	r := &runner.Runner{}
	client := &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "kge-archiver"}
	engine := transfer.NewEngine(store, client, r, transfer.Config{
		Bucket:        *bucket,
		Root:          *root,
		ArchiveScript: *archiveScript,
	})
	volumes := volume.NewManager(svc, r, volume.Config{
		MountScript:   *mountScript,
		UnmountScript: *unmountScript,
		DryRun:        *dev,
	})
	arc = archiver.New(store, engine, volumes, cat, archiver.Config{
		ScratchDevice: *scratchDevice,
		ScratchRoot:   *scratchRoot,
		RetentionTTL:  *retention,
	})
	defer arc.Close()

	http.HandleFunc("/fileset/process", handleProcess)
	http.HandleFunc("/fileset/status", handleStatus)
	http.HandleFunc("/catalog", handleCatalog)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalln(err)
	}
}
