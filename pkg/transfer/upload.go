// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"io"
	"path"

	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/pkg/catalog"
	"github.com/pkg/errors"
)

// UploadRequest is one of the closed set of upload modes: URLUpload,
// FileUpload or MetadataUpload. The marker method keeps the set closed
// to this package so dispatch stays exhaustive.
type UploadRequest interface {
	isUploadRequest()
}

// URLUpload streams a remote resource into the file set.
type URLUpload struct {
	URL string
	// Name overrides the member name, defaulting to the URL path base.
	Name string
}

// FileUpload stores a caller-supplied stream under its member name.
type FileUpload struct {
	Name    string
	Content io.Reader
}

// MetadataUpload replaces the file set's content metadata document.
type MetadataUpload struct {
	Content io.Reader
}

func (*URLUpload) isUploadRequest()      {}
func (*FileUpload) isUploadRequest()     {}
func (*MetadataUpload) isUploadRequest() {}

// Upload stores one member of the (kgID, version) file set, routing the
// object key by the member name's classification, and returns the
// resulting member record. progress, if non-nil, receives newly
// transferred byte counts.
func (e *Engine) Upload(ctx context.Context, kgID, version string, req UploadRequest, progress func(delta int64)) (catalog.File, error) {
	location := catalog.FileSetLocation(e.cfg.Root, kgID, version)
	switch r := req.(type) {
	case *URLUpload:
		name := r.Name
		if name == "" {
			u, err := parseSourceURL(r.URL)
			if err != nil {
				return catalog.File{}, err
			}
			name = path.Base(u.Path)
		}
		ftype, subdir := catalog.Classify(name)
		key := catalog.ObjectKey(location, subdir, name)
		n, err := e.IngestFromURL(ctx, r.URL, key, progress)
		if err != nil {
			return catalog.File{}, err
		}
		return catalog.File{ObjectKey: key, Name: name, Type: ftype, Size: n}, nil
	case *FileUpload:
		if r.Name == "" {
			return catalog.File{}, errors.Wrap(ErrInvalidSource, "missing member name")
		}
		ftype, subdir := catalog.Classify(r.Name)
		key := catalog.ObjectKey(location, subdir, r.Name)
		n, err := e.store.Put(ctx, key, r.Content, &objstore.PutOptions{Progress: progress})
		if err != nil {
			return catalog.File{}, err
		}
		return catalog.File{ObjectKey: key, Name: r.Name, Type: ftype, Size: n}, nil
	case *MetadataUpload:
		key := catalog.ObjectKey(location, "metadata", catalog.ContentMetadataName)
		n, err := e.store.Put(ctx, key, r.Content, &objstore.PutOptions{Progress: progress})
		if err != nil {
			return catalog.File{}, err
		}
		return catalog.File{ObjectKey: key, Name: catalog.ContentMetadataName, Type: catalog.ContentMetadataFile, Size: n}, nil
	default:
		return catalog.File{}, errors.Errorf("unsupported upload request %T", req)
	}
}
