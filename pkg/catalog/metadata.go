// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileMetadata is the serialized form of one member file entry.
type FileMetadata struct {
	FileName  string `yaml:"file_name"`
	FileType  string `yaml:"file_type"`
	FileSize  int64  `yaml:"file_size"`
	ObjectKey string `yaml:"object_key"`
}

// FileSetMetadata is the file_set.yaml blob persisted beside a file set.
type FileSetMetadata struct {
	KgID                string         `yaml:"kg_id"`
	FilesetVersion      string         `yaml:"fileset_version"`
	BiolinkModelRelease string         `yaml:"biolink_model_release,omitempty"`
	DateStamp           string         `yaml:"date_stamp,omitempty"`
	SubmitterName       string         `yaml:"submitter_name,omitempty"`
	SubmitterEmail      string         `yaml:"submitter_email,omitempty"`
	Size                int64          `yaml:"size"`
	Status              string         `yaml:"status"`
	Files               []FileMetadata `yaml:"files"`
}

// Metadata serializes the file set's current state.
func (fs *FileSet) Metadata() *FileSetMetadata {
	md := &FileSetMetadata{
		KgID:                fs.KgID,
		FilesetVersion:      fs.Version,
		BiolinkModelRelease: fs.BiolinkModelRelease,
		DateStamp:           fs.DateStamp,
		SubmitterName:       fs.SubmitterName,
		SubmitterEmail:      fs.SubmitterEmail,
		Size:                fs.Size,
		Status:              string(fs.Status),
	}
	for _, f := range fs.files {
		md.Files = append(md.Files, FileMetadata{
			FileName:  f.Name,
			FileType:  string(f.Type),
			FileSize:  f.Size,
			ObjectKey: f.ObjectKey,
		})
	}
	return md
}

// Encode renders the metadata as YAML.
func (md *FileSetMetadata) Encode() ([]byte, error) {
	b, err := yaml.Marshal(md)
	return b, errors.Wrap(err, "encoding file set metadata")
}

// ParseFileSetMetadata decodes a file_set.yaml blob.
func ParseFileSetMetadata(b []byte) (*FileSetMetadata, error) {
	md := &FileSetMetadata{}
	if err := yaml.Unmarshal(b, md); err != nil {
		return nil, errors.Wrap(err, "parsing file set metadata")
	}
	return md, nil
}

// FileSetFromMetadata reconstructs a FileSet from its serialized form.
func FileSetFromMetadata(md *FileSetMetadata) (*FileSet, error) {
	fs := &FileSet{
		KgID:                md.KgID,
		Version:             md.FilesetVersion,
		BiolinkModelRelease: md.BiolinkModelRelease,
		DateStamp:           md.DateStamp,
		SubmitterName:       md.SubmitterName,
		SubmitterEmail:      md.SubmitterEmail,
		Size:                md.Size,
		Status:              StatusCode(md.Status),
	}
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	if fs.Status == "" {
		fs.Status = Created
	}
	for _, f := range md.Files {
		t := FileType(f.FileType)
		if t == "" {
			t = Unknown
		}
		fs.AddFile(File{
			ObjectKey: f.ObjectKey,
			Name:      f.FileName,
			Type:      t,
			Size:      f.FileSize,
		})
	}
	return fs, nil
}
