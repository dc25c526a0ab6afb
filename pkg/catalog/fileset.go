// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	re "regexp"
	"sort"

	"github.com/pkg/errors"
)

// Key identifies one versioned file set.
type Key struct {
	KgID    string
	Version string
}

func (k Key) String() string { return k.KgID + "/" + k.Version }

// File is one member file of a file set.
type File struct {
	ObjectKey string
	Name      string
	Type      FileType
	Size      int64
}

// FileSet is one versioned submission of knowledge graph data files.
//
// A FileSet is owned by at most one active pipeline at a time (the
// orchestrator guarantees this), so it carries no lock of its own.
type FileSet struct {
	KgID                string
	Version             string
	BiolinkModelRelease string
	DateStamp           string
	SubmitterName       string
	SubmitterEmail      string
	Size                int64
	Status              StatusCode

	// files preserves discovery order for deterministic listing.
	files []File
}

var versionRE = re.MustCompile(`^\d+\.\d+$`)

// Validate checks the required fields of a submitted file set.
func (fs *FileSet) Validate() error {
	if fs.KgID == "" {
		return errors.New("missing kg_id")
	}
	if !versionRE.MatchString(fs.Version) {
		return errors.Errorf("fileset_version %q is not of the form major.minor", fs.Version)
	}
	return nil
}

// Key returns the (kg_id, fileset_version) identity of the file set.
func (fs *FileSet) Key() Key { return Key{KgID: fs.KgID, Version: fs.Version} }

// AddFile appends a member file, replacing any previous entry with the
// same object key while keeping its original position.
func (fs *FileSet) AddFile(f File) {
	for i := range fs.files {
		if fs.files[i].ObjectKey == f.ObjectKey {
			fs.files[i] = f
			return
		}
	}
	fs.files = append(fs.files, f)
}

// Files returns the member files in discovery order.
func (fs *FileSet) Files() []File {
	return append([]File(nil), fs.files...)
}

// TotalSize sums the member file sizes in bytes.
func (fs *FileSet) TotalSize() int64 {
	var total int64
	for _, f := range fs.files {
		total += f.Size
	}
	return total
}

// ArchivesBySize returns the ARCHIVE-type members ordered largest first.
func (fs *FileSet) ArchivesBySize() []File {
	var archives []File
	for _, f := range fs.files {
		if f.Type == Archive {
			archives = append(archives, f)
		}
	}
	sort.SliceStable(archives, func(i, j int) bool {
		return archives[i].Size > archives[j].Size
	})
	return archives
}

// FilesOfType returns the members of the given type in discovery order.
func (fs *FileSet) FilesOfType(t FileType) []File {
	var out []File
	for _, f := range fs.files {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// KnowledgeGraph owns the versioned file sets submitted under one kg_id.
type KnowledgeGraph struct {
	ID string
	// Provider is the raw provider.yaml blob, kept as text for the
	// caller to parse.
	Provider string

	filesets map[string]*FileSet
}

// FileSet returns the file set for version, if registered.
func (kg *KnowledgeGraph) FileSet(version string) (*FileSet, bool) {
	fs, ok := kg.filesets[version]
	return fs, ok
}

// Versions lists the registered fileset versions in ascending order.
func (kg *KnowledgeGraph) Versions() []string {
	versions := make([]string, 0, len(kg.filesets))
	for v := range kg.filesets {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
