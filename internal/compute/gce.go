// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"github.com/pkg/errors"
	gce "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// GCE implements Service over Compute Engine persistent disks and the
// instance metadata server.
type GCE struct {
	svc     *gce.Service
	project string
}

var _ Service = &GCE{}

// NewGCE creates a Service for the given project using ambient credentials.
func NewGCE(ctx context.Context, project string, opts ...option.ClientOption) (*GCE, error) {
	svc, err := gce.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating compute service")
	}
	return &GCE{svc: svc, project: project}, nil
}

func (g *GCE) OnInstance() bool { return metadata.OnGCE() }

func (g *GCE) InstanceID(ctx context.Context) (string, error) {
	return metadata.InstanceNameWithContext(ctx)
}

// Zone returns the bare zone name (the metadata server reports
// "projects/NUM/zones/ZONE").
func (g *GCE) Zone(ctx context.Context) (string, error) {
	zone, err := metadata.ZoneWithContext(ctx)
	if err != nil {
		return "", errors.Wrap(err, "querying zone")
	}
	if i := strings.LastIndex(zone, "/"); i >= 0 {
		zone = zone[i+1:]
	}
	return zone, nil
}

// Region is the zone with its final "-suffix" trimmed.
func (g *GCE) Region(ctx context.Context) (string, error) {
	zone, err := g.Zone(ctx)
	if err != nil {
		return "", err
	}
	if i := strings.LastIndex(zone, "-"); i >= 0 {
		return zone[:i], nil
	}
	return zone, nil
}

func (g *GCE) CreateVolume(ctx context.Context, zone, name string, sizeGB int64) (string, error) {
	disk := &gce.Disk{Name: name, SizeGb: sizeGB}
	if _, err := g.svc.Disks.Insert(g.project, zone, disk).Context(ctx).Do(); err != nil {
		return "", errors.Wrapf(err, "creating disk %s", name)
	}
	return name, nil
}

func (g *GCE) VolumeState(ctx context.Context, zone, id string) (string, error) {
	disk, err := g.svc.Disks.Get(g.project, zone, id).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "describing disk %s", id)
	}
	switch disk.Status {
	case "READY":
		return VolumeAvailable, nil
	case "FAILED":
		return VolumeError, nil
	default:
		return strings.ToLower(disk.Status), nil
	}
}

func (g *GCE) AttachVolume(ctx context.Context, zone, instance, id, device string) error {
	attached := &gce.AttachedDisk{
		Source:     fmt.Sprintf("projects/%s/zones/%s/disks/%s", g.project, zone, id),
		DeviceName: device,
	}
	if _, err := g.svc.Instances.AttachDisk(g.project, zone, instance, attached).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "attaching disk %s to %s", id, instance)
	}
	return nil
}

// DetachVolume detaches by device name. Compute Engine detach is
// unconditional so the force flag carries no extra behavior here.
func (g *GCE) DetachVolume(ctx context.Context, zone, instance, device string, force bool) error {
	if _, err := g.svc.Instances.DetachDisk(g.project, zone, instance, device).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "detaching device %s from %s", device, instance)
	}
	return nil
}

func (g *GCE) DeleteVolume(ctx context.Context, zone, id string) error {
	if _, err := g.svc.Disks.Delete(g.project, zone, id).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "deleting disk %s", id)
	}
	return nil
}
