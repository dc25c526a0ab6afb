// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package archiver orchestrates file set post-processing: scratch
// provisioning, archive extraction, node/edge aggregation,
// recompression and catalog registration, one asynchronous pipeline
// per (kg_id, fileset_version).
package archiver

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/internal/syncx"
	"github.com/google/kge-archive/pkg/catalog"
	"github.com/google/kge-archive/pkg/transfer"
	"github.com/google/kge-archive/pkg/volume"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput rejects a submission with missing or malformed
	// identity fields.
	ErrInvalidInput = errors.New("invalid file set submission")
	// ErrNotLoaded rejects processing of a file set whose upload has not
	// completed.
	ErrNotLoaded = errors.New("file set is not in Loaded state")
	// ErrUnknownToken is returned by Status for tokens never issued or
	// already swept.
	ErrUnknownToken = errors.New("unknown process token")
)

// ConflictError rejects a Process call racing an already-running
// pipeline for the same file set. Token identifies the running job.
type ConflictError struct {
	Key   catalog.Key
	Token string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("file set %s is already being processed (token %s)", e.Key, e.Token)
}

// JobStatus is a point-in-time snapshot of one pipeline run.
type JobStatus struct {
	Token   string
	KgID    string
	Version string
	Phase   catalog.StatusCode
	// Cause is the terminal failure, empty while running or on success.
	Cause string
	// Files are the member records produced by a successful run.
	Files []catalog.File
}

// Job tracks one pipeline run from token issue to GC.
type Job struct {
	token string
	key   catalog.Key

	mu       sync.Mutex
	phase    catalog.StatusCode
	subPhase string
	cause    string
	files    []catalog.File
	doneAt   time.Time
}

func (j *Job) setSubPhase(p string) {
	j.mu.Lock()
	j.subPhase = p
	j.mu.Unlock()
	log.Printf("archiver: %s [%s] %s", j.key, j.token, p)
}

func (j *Job) finish(phase catalog.StatusCode, cause string, files []catalog.File) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = phase
	j.cause = cause
	j.files = files
	j.doneAt = time.Now()
}

func (j *Job) status() *JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return &JobStatus{
		Token:   j.token,
		KgID:    j.key.KgID,
		Version: j.key.Version,
		Phase:   j.phase,
		Cause:   j.cause,
		Files:   append([]catalog.File(nil), j.files...),
	}
}

func (j *Job) terminalSince() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doneAt, j.phase != catalog.Processing
}

const gib = int64(1) << 30

// Config tunes the orchestrator.
type Config struct {
	// ScratchDevice is the block device name scratch volumes attach at.
	ScratchDevice string
	// ScratchRoot is the directory under which per-job mount points are
	// created.
	ScratchRoot string
	// ScratchMarginPct oversizes the scratch volume relative to the file
	// set's total bytes. Defaults to 20.
	ScratchMarginPct int64
	// MinScratchGB floors the scratch volume size. Defaults to 10.
	MinScratchGB int64
	// RetentionTTL keeps terminal jobs pollable before GC. Defaults to 1h.
	RetentionTTL time.Duration
	// SweepInterval paces the job GC. Defaults to 5m.
	SweepInterval time.Duration
}

// Archiver runs the post-processing pipeline.
type Archiver struct {
	store   objstore.Store
	engine  *transfer.Engine
	volumes *volume.Manager
	catalog *catalog.Catalog
	cfg     Config

	jobs   syncx.Map[string, *Job]
	active syncx.Map[catalog.Key, string]

	stop chan struct{}
	wg   sync.WaitGroup
}

// New assembles an Archiver and starts its job GC sweeper. Call Close
// to stop it.
func New(store objstore.Store, engine *transfer.Engine, volumes *volume.Manager, cat *catalog.Catalog, cfg Config) *Archiver {
	if cfg.ScratchDevice == "" {
		cfg.ScratchDevice = "/dev/sdb"
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = "/mnt/kge-scratch"
	}
	if cfg.ScratchMarginPct <= 0 {
		cfg.ScratchMarginPct = 20
	}
	if cfg.MinScratchGB <= 0 {
		cfg.MinScratchGB = 10
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	a := &Archiver{
		store:   store,
		engine:  engine,
		volumes: volumes,
		catalog: cat,
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.sweep()
	return a
}

// Close stops the job GC sweeper. Running pipelines finish on their own.
func (a *Archiver) Close() {
	close(a.stop)
	a.wg.Wait()
}

// Process starts the asynchronous post-processing pipeline for fs and
// returns its process token. Valid only from the Loaded state. At most
// one pipeline runs per file set: a concurrent second call is rejected
// with a *ConflictError naming the running job's token.
func (a *Archiver) Process(ctx context.Context, fs *catalog.FileSet) (string, error) {
	if err := fs.Validate(); err != nil {
		return "", errors.Wrap(ErrInvalidInput, err.Error())
	}
	if fs.Status != catalog.Loaded {
		return "", errors.Wrapf(ErrNotLoaded, "status is %s", fs.Status)
	}
	token := uuid.New().String()
	if existing, loaded := a.active.LoadOrStore(fs.Key(), token); loaded {
		return "", &ConflictError{Key: fs.Key(), Token: existing}
	}
	fs.Status = catalog.Processing
	job := &Job{token: token, key: fs.Key(), phase: catalog.Processing}
	a.jobs.Store(token, job)
	// The pipeline outlives the submitting request.
	go a.run(context.WithoutCancel(ctx), job, fs)
	return token, nil
}

// Status reports the state of the pipeline identified by token. Results
// stay stable after completion until the retention window lapses.
func (a *Archiver) Status(token string) (*JobStatus, error) {
	job, ok := a.jobs.Load(token)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownToken, "%q", token)
	}
	return job.status(), nil
}

// ActiveJobs counts pipelines currently holding a file set.
func (a *Archiver) ActiveJobs() int { return a.active.Len() }

func (a *Archiver) run(ctx context.Context, job *Job, fs *catalog.FileSet) {
	defer a.active.Delete(fs.Key())
	err := a.pipeline(ctx, job, fs)
	if err != nil {
		fs.Status = catalog.Error
		a.catalog.Register(fs)
		a.persistMetadata(ctx, fs) // best effort, cause already recorded
		job.finish(catalog.Error, err.Error(), nil)
		log.Printf("archiver: %s [%s] failed: %v", job.key, job.token, err)
		return
	}
	fs.Status = catalog.Validated
	fs.Size = fs.TotalSize()
	a.catalog.Register(fs)
	if perr := a.persistMetadata(ctx, fs); perr != nil {
		job.finish(catalog.Error, perr.Error(), nil)
		log.Printf("archiver: %s [%s] failed: %v", job.key, job.token, perr)
		return
	}
	job.finish(catalog.Validated, "", fs.Files())
	log.Printf("archiver: %s [%s] validated (%d files, %d bytes)", job.key, job.token, len(fs.Files()), fs.Size)
}

// pipeline runs the post-processing steps. Scratch release is always
// attempted once provisioning succeeded; a release failure never
// overwrites an earlier cause but does fail an otherwise clean run.
func (a *Archiver) pipeline(ctx context.Context, job *Job, fs *catalog.FileSet) error {
	job.setSubPhase("provisioning scratch")
	mountPoint := path.Join(a.cfg.ScratchRoot, job.token)
	h, err := a.volumes.Provision(ctx, a.scratchSizeGB(fs), a.cfg.ScratchDevice, mountPoint)
	if err != nil {
		return err
	}
	procErr := a.processFiles(ctx, job, fs, h)
	job.setSubPhase("releasing scratch")
	relErr := a.volumes.Release(ctx, h)
	if procErr != nil {
		if relErr != nil {
			log.Printf("archiver: %s [%s] scratch release also failed: %v", job.key, job.token, relErr)
		}
		return procErr
	}
	if relErr != nil {
		return errors.Wrap(relErr, "releasing scratch")
	}
	return nil
}

func (a *Archiver) processFiles(ctx context.Context, job *Job, fs *catalog.FileSet, h *volume.Handle) error {
	job.setSubPhase("extracting archives")
	// Largest first: the biggest extraction fails fastest on an
	// undersized scratch volume.
	for _, ar := range fs.ArchivesBySize() {
		files, err := a.engine.ExtractArchive(ctx, fs.KgID, fs.Version, ar.Name)
		if err != nil {
			return errors.Wrapf(err, "extracting %s", ar.Name)
		}
		for _, f := range files {
			fs.AddFile(f)
		}
	}

	job.setSubPhase("aggregating nodes and edges")
	if err := a.aggregate(ctx, fs, catalog.Nodes, "nodes.tsv"); err != nil {
		return err
	}
	if err := a.aggregate(ctx, fs, catalog.Edges, "edges.tsv"); err != nil {
		return err
	}

	job.setSubPhase("recompressing file set")
	workDir := ""
	if h != nil {
		workDir = h.MountPoint
	}
	archiveKey, err := a.engine.CompressFileSet(ctx, fs.KgID, fs.Version, workDir)
	if err != nil {
		return err
	}
	fs.AddFile(catalog.File{
		ObjectKey: archiveKey,
		Name:      path.Base(archiveKey),
		Type:      catalog.Archive,
		Size:      a.objectSize(ctx, archiveKey),
	})
	return nil
}

// aggregate concatenates the file set's members of type t into a single
// object named name at the file set root and records the result.
func (a *Archiver) aggregate(ctx context.Context, fs *catalog.FileSet, t catalog.FileType, name string) error {
	members := fs.FilesOfType(t)
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, 0, len(members))
	var size int64
	for _, m := range members {
		keys = append(keys, m.ObjectKey)
		size += m.Size
	}
	// One separator newline between consecutive members.
	size += int64(len(members) - 1)
	location := catalog.FileSetLocation(a.catalog.Root(), fs.KgID, fs.Version)
	key, err := a.engine.Aggregate(ctx, strings.TrimSuffix(location, "/"), name, keys, nil)
	if err != nil {
		return errors.Wrapf(err, "aggregating %s", name)
	}
	fs.AddFile(catalog.File{ObjectKey: key, Name: name, Type: t, Size: size})
	return nil
}

func (a *Archiver) scratchSizeGB(fs *catalog.FileSet) int64 {
	padded := fs.TotalSize() * (100 + a.cfg.ScratchMarginPct) / 100
	gb := (padded + gib - 1) / gib
	if gb < a.cfg.MinScratchGB {
		gb = a.cfg.MinScratchGB
	}
	return gb
}

func (a *Archiver) objectSize(ctx context.Context, key string) int64 {
	sizes, err := a.store.List(ctx, key)
	if err != nil {
		return 0
	}
	return sizes[key]
}

func (a *Archiver) persistMetadata(ctx context.Context, fs *catalog.FileSet) error {
	b, err := fs.Metadata().Encode()
	if err != nil {
		return err
	}
	location := catalog.FileSetLocation(a.catalog.Root(), fs.KgID, fs.Version)
	key := catalog.ObjectKey(location, "", catalog.FileSetMetadataName)
	if err := objstore.PutText(ctx, a.store, key, string(b)); err != nil {
		return errors.Wrapf(err, "persisting %s", key)
	}
	return nil
}

// sweep deletes terminal jobs older than the retention TTL so the job
// map stays bounded under sustained submissions.
func (a *Archiver) sweep() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case now := <-ticker.C:
			a.jobs.Range(func(token string, job *Job) bool {
				if doneAt, terminal := job.terminalSince(); terminal && now.Sub(doneAt) > a.cfg.RetentionTTL {
					a.jobs.Delete(token)
				}
				return true
			})
		}
	}
}
