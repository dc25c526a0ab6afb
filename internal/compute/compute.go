// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package compute abstracts the cloud block-volume and instance-metadata
// operations consumed by the scratch volume manager. Credential
// acquisition is fully external: implementations are constructed from
// pre-authenticated clients.
package compute

import "context"

// Normalized volume states surfaced by VolumeState.
const (
	// VolumeAvailable means the volume is provisioned and attachable.
	VolumeAvailable = "available"
	// VolumeError is a terminal provisioning failure.
	VolumeError = "error"
)

// Service is the compute capability interface.
type Service interface {
	// OnInstance reports whether the process runs on a managed compute node.
	OnInstance() bool
	// InstanceID returns the identifier of the current compute node.
	InstanceID(ctx context.Context) (string, error)
	// Zone returns the availability zone of the current compute node.
	Zone(ctx context.Context) (string, error)
	// Region returns the region of the current compute node.
	Region(ctx context.Context) (string, error)
	// CreateVolume creates a block volume named name of sizeGB gigabytes
	// in zone and returns its identifier.
	CreateVolume(ctx context.Context, zone, name string, sizeGB int64) (string, error)
	// VolumeState reports the normalized state of a volume.
	VolumeState(ctx context.Context, zone, id string) (string, error)
	// AttachVolume attaches the volume to instance at device.
	AttachVolume(ctx context.Context, zone, instance, id, device string) error
	// DetachVolume detaches the volume identified by its device name.
	// force requests an unconditional detach where the API supports it.
	DetachVolume(ctx context.Context, zone, instance, device string, force bool) error
	// DeleteVolume deletes the volume.
	DeleteVolume(ctx context.Context, zone, id string) error
}
