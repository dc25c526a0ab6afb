// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package catalog models knowledge graphs, their versioned file sets and
// member files, and derives the archive index from object store contents.
package catalog

import (
	"path"
	re "regexp"
	"strings"
)

// FileType classifies a member file of a file set.
type FileType string

const (
	Unknown             FileType = "UNKNOWN"
	ContentMetadataFile FileType = "CONTENT_METADATA_FILE"
	DataFile            FileType = "DATA_FILE"
	Nodes               FileType = "NODES"
	Edges               FileType = "EDGES"
	Archive             FileType = "ARCHIVE"
)

// StatusCode is the lifecycle state of a file set.
type StatusCode string

const (
	Created    StatusCode = "Created"
	Loaded     StatusCode = "Loaded"
	Processing StatusCode = "Processing"
	Validated  StatusCode = "Validated"
	Error      StatusCode = "Error"
)

// Well-known metadata object names within the archive layout.
const (
	ProviderMetadataName = "provider.yaml"
	FileSetMetadataName  = "file_set.yaml"
	ContentMetadataName  = "content_metadata.json"
)

var (
	nodeFileRE = re.MustCompile(`^node[s]?\.tsv$`)
	edgeFileRE = re.MustCompile(`^edge[s]?\.tsv$`)
)

// Classify determines the file type and routing subfolder for a path
// inside an uploaded archive. Precedence: content metadata filename, then
// nodes (by filename or containing folder), then edges, then compressed
// tar archives, then plain data files routed flat.
func Classify(p string) (FileType, string) {
	base := path.Base(p)
	segments := strings.Split(path.Dir(p), "/")
	inFolder := func(name string) bool {
		for _, s := range segments {
			if s == name {
				return true
			}
		}
		return false
	}
	switch {
	case base == ContentMetadataName:
		return ContentMetadataFile, "metadata"
	case nodeFileRE.MatchString(base) || inFolder("nodes"):
		return Nodes, "nodes"
	case edgeFileRE.MatchString(base) || inFolder("edges"):
		return Edges, "edges"
	case IsArchiveName(base):
		return Archive, "archive"
	default:
		return DataFile, ""
	}
}

// IsArchiveName reports whether name carries a recognized
// compressed-tar suffix.
func IsArchiveName(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// ObjectLocation is the key prefix owning all of a knowledge graph's
// objects. Deterministic: no timestamps or randomness.
func ObjectLocation(root, kgID string) string {
	return root + "/" + kgID + "/"
}

// FileSetLocation is the key prefix owning one versioned file set.
func FileSetLocation(root, kgID, version string) string {
	return ObjectLocation(root, kgID) + version + "/"
}

// ObjectKey joins a location prefix and a subfolder-qualified filename.
func ObjectKey(location, subdir, filename string) string {
	if subdir != "" {
		return location + subdir + "/" + filename
	}
	return location + filename
}
