// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"log"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/kge-archive/internal/objstore"
)

// Catalog is the derived index of knowledge graphs, their versioned file
// sets and member files. It is rebuilt from object store key prefixes and
// metadata blobs, then kept current by the orchestrator.
type Catalog struct {
	root string

	mu     sync.RWMutex
	graphs map[string]*KnowledgeGraph
}

// New returns an empty catalog rooted at the given archive key prefix.
func New(root string) *Catalog {
	return &Catalog{root: root, graphs: make(map[string]*KnowledgeGraph)}
}

// Root returns the archive key prefix.
func (c *Catalog) Root() string { return c.root }

// Load scans the object store under root and derives the catalog from the
// key layout ({root}/{kg_id}/{version}/{subpath}) and the provider.yaml /
// file_set.yaml blobs. Keys that do not fit the layout are ignored.
// Keys are visited in sorted order so member discovery is deterministic.
func Load(ctx context.Context, store objstore.Store, root string) (*Catalog, error) {
	c := New(root)
	sizes, err := store.List(ctx, root+"/")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, root+"/"), "/")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		kgID := parts[0]
		kg := c.graph(kgID)
		if parts[1] == ProviderMetadataName {
			blob, err := objstore.LoadText(ctx, store, key)
			if err != nil {
				log.Printf("catalog: unreadable %s for %s: %v", ProviderMetadataName, kgID, err)
				continue
			}
			kg.Provider = blob
			continue
		}
		if len(parts) < 3 {
			continue
		}
		version := parts[1]
		fs := c.fileset(kg, version)
		subpath := strings.Join(parts[2:], "/")
		if subpath == FileSetMetadataName {
			blob, err := objstore.LoadText(ctx, store, key)
			if err != nil {
				log.Printf("catalog: unreadable %s for %s/%s: %v", FileSetMetadataName, kgID, version, err)
				continue
			}
			md, err := ParseFileSetMetadata([]byte(blob))
			if err != nil {
				log.Printf("catalog: malformed %s for %s/%s: %v", FileSetMetadataName, kgID, version, err)
				continue
			}
			applyMetadata(fs, md)
			continue
		}
		t, _ := Classify(subpath)
		fs.AddFile(File{
			ObjectKey: key,
			Name:      path.Base(subpath),
			Type:      t,
			Size:      sizes[key],
		})
	}
	return c, nil
}

// applyMetadata overlays the persisted attributes onto a file set derived
// from key scanning; the scanned member list stays authoritative.
func applyMetadata(fs *FileSet, md *FileSetMetadata) {
	fs.BiolinkModelRelease = md.BiolinkModelRelease
	fs.DateStamp = md.DateStamp
	fs.SubmitterName = md.SubmitterName
	fs.SubmitterEmail = md.SubmitterEmail
	fs.Size = md.Size
	if md.Status != "" {
		fs.Status = StatusCode(md.Status)
	}
}

func (c *Catalog) graph(kgID string) *KnowledgeGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	kg, ok := c.graphs[kgID]
	if !ok {
		kg = &KnowledgeGraph{ID: kgID, filesets: make(map[string]*FileSet)}
		c.graphs[kgID] = kg
	}
	return kg
}

func (c *Catalog) fileset(kg *KnowledgeGraph, version string) *FileSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := kg.filesets[version]
	if !ok {
		fs = &FileSet{KgID: kg.ID, Version: version, Status: Created}
		kg.filesets[version] = fs
	}
	return fs
}

// Register upserts a file set, creating its knowledge graph implicitly on
// first registration.
func (c *Catalog) Register(fs *FileSet) {
	kg := c.graph(fs.KgID)
	c.mu.Lock()
	defer c.mu.Unlock()
	kg.filesets[fs.Version] = fs
}

// Graph returns the knowledge graph with the given id.
func (c *Catalog) Graph(kgID string) (*KnowledgeGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kg, ok := c.graphs[kgID]
	return kg, ok
}

// FileSet returns the file set for (kgID, version).
func (c *Catalog) FileSet(kgID, version string) (*FileSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kg, ok := c.graphs[kgID]
	if !ok {
		return nil, false
	}
	fs, ok := kg.filesets[version]
	return fs, ok
}

// KnowledgeGraphs lists the registered graph ids in ascending order.
func (c *Catalog) KnowledgeGraphs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.graphs))
	for id := range c.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VersionsByGraph maps every graph id to its registered versions. Graphs
// with no versioned file sets map to an empty list.
func (c *Catalog) VersionsByGraph() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.graphs))
	for id, kg := range c.graphs {
		out[id] = kg.Versions()
	}
	return out
}
