// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package volume provisions and reclaims the scratch block storage used
// by one pipeline run.
package volume

import (
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/google/kge-archive/internal/compute"
	"github.com/google/kge-archive/internal/runner"
	"github.com/pkg/errors"
)

// ProvisioningError reports which provisioning step failed.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("volume: %s failed: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Handle describes a provisioned scratch volume. Attached and Mounted
// record how far provisioning got, so Release unwinds only the steps
// that actually succeeded.
type Handle struct {
	VolumeID   string
	Device     string
	MountPoint string
	Zone       string
	SizeGB     int64
	Instance   string
	Attached   bool
	Mounted    bool
}

// Config tunes the manager.
type Config struct {
	// MountScript formats and mounts an attached device; invoked with
	// (device, mount_point) positional args.
	MountScript string
	// UnmountScript unmounts a mount point; invoked with (mount_point).
	UnmountScript string
	// PollInterval between volume state checks. Defaults to 2s.
	PollInterval time.Duration
	// MaxPollAttempts bounds the provisioning wait. Defaults to 30.
	MaxPollAttempts int
	// DryRun validates the call sequence without invoking the external
	// mount/unmount procedures.
	DryRun bool
}

// Manager drives the scratch volume lifecycle through the compute
// capability and the script runner.
type Manager struct {
	compute compute.Service
	runner  *runner.Runner
	cfg     Config
}

// NewManager assembles a Manager, applying config defaults.
func NewManager(svc compute.Service, r *runner.Runner, cfg Config) *Manager {
	if r == nil {
		r = &runner.Runner{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 30
	}
	return &Manager{compute: svc, runner: r, cfg: cfg}
}

// Provision creates, attaches, formats and mounts a scratch volume of
// sizeGB at device/mountPoint. Off a managed compute node it
// short-circuits to (nil, nil): scratch is unavailable, and the caller
// decides whether that fails the job. Partially completed steps are a
// best-effort leak: the manager logs what was created but does not
// unwind it.
func (m *Manager) Provision(ctx context.Context, sizeGB int64, device, mountPoint string) (*Handle, error) {
	if !m.compute.OnInstance() {
		log.Printf("volume: not on a managed compute node, scratch unavailable")
		return nil, nil
	}
	instance, err := m.compute.InstanceID(ctx)
	if err != nil {
		return nil, &ProvisioningError{Step: "instance lookup", Err: err}
	}
	zone, err := m.compute.Zone(ctx)
	if err != nil {
		return nil, &ProvisioningError{Step: "zone lookup", Err: err}
	}
	// The mount point carries the job token, so the volume name
	// inherits its uniqueness.
	name := "kge-scratch-" + path.Base(mountPoint)
	id, err := m.compute.CreateVolume(ctx, zone, name, sizeGB)
	if err != nil {
		return nil, &ProvisioningError{Step: "create", Err: err}
	}
	h := &Handle{
		VolumeID:   id,
		Device:     device,
		MountPoint: mountPoint,
		Zone:       zone,
		SizeGB:     sizeGB,
		Instance:   instance,
	}
	if err := m.awaitAvailable(ctx, h); err != nil {
		log.Printf("volume: leaking unattached volume %s after failed wait", h.VolumeID)
		return nil, err
	}
	if err := m.compute.AttachVolume(ctx, zone, instance, id, device); err != nil {
		log.Printf("volume: leaking unattached volume %s after failed attach", h.VolumeID)
		return nil, &ProvisioningError{Step: "attach", Err: err}
	}
	h.Attached = true
	if err := m.mount(ctx, device, mountPoint); err != nil {
		log.Printf("volume: leaking attached volume %s after failed mount", h.VolumeID)
		return nil, &ProvisioningError{Step: "mount", Err: err}
	}
	h.Mounted = true
	log.Printf("volume: %s mounted at %s (%dGB)", h.VolumeID, mountPoint, sizeGB)
	return h, nil
}

// awaitAvailable polls the volume state at a fixed interval, suspending
// between checks, for at most MaxPollAttempts.
func (m *Manager) awaitAvailable(ctx context.Context, h *Handle) error {
	for attempt := 1; attempt <= m.cfg.MaxPollAttempts; attempt++ {
		state, err := m.compute.VolumeState(ctx, h.Zone, h.VolumeID)
		if err != nil {
			return &ProvisioningError{Step: "status poll", Err: err}
		}
		switch state {
		case compute.VolumeAvailable:
			return nil
		case compute.VolumeError:
			return &ProvisioningError{Step: "status poll", Err: errors.Errorf("volume %s entered error state", h.VolumeID)}
		}
		select {
		case <-ctx.Done():
			return &ProvisioningError{Step: "status poll", Err: ctx.Err()}
		case <-time.After(m.cfg.PollInterval):
		}
	}
	return &ProvisioningError{
		Step: "status poll",
		Err:  errors.Errorf("volume %s not available after %d attempts", h.VolumeID, m.cfg.MaxPollAttempts),
	}
}

// Release unmounts, detaches and deletes the volume, performing only
// the steps the handle reached. A failed unmount aborts before the
// forced detach to avoid corrupting still-mounted data; detach and
// delete each log and continue, retaining the first failure.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if h.Mounted {
		if err := m.unmount(ctx, h.MountPoint); err != nil {
			return errors.Wrapf(err, "unmounting %s; leaving volume %s attached", h.MountPoint, h.VolumeID)
		}
		h.Mounted = false
	}
	var first error
	if h.Attached {
		if err := m.compute.DetachVolume(ctx, h.Zone, h.Instance, h.Device, true); err != nil {
			log.Printf("volume: forced detach of %s failed: %v", h.VolumeID, err)
			first = err
		} else {
			h.Attached = false
		}
	}
	if h.VolumeID != "" {
		if err := m.compute.DeleteVolume(ctx, h.Zone, h.VolumeID); err != nil {
			log.Printf("volume: delete of %s failed: %v", h.VolumeID, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *Manager) mount(ctx context.Context, device, mountPoint string) error {
	if device == "" || mountPoint == "" {
		return errors.New("missing device or mount point")
	}
	if m.cfg.DryRun {
		return nil
	}
	_, err := m.runner.Run(ctx, m.cfg.MountScript, []string{device, mountPoint}, nil)
	return err
}

func (m *Manager) unmount(ctx context.Context, mountPoint string) error {
	if mountPoint == "" {
		return errors.New("missing mount point")
	}
	if m.cfg.DryRun {
		return nil
	}
	_, err := m.runner.Run(ctx, m.cfg.UnmountScript, []string{mountPoint}, nil)
	return err
}
