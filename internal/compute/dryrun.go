// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// DryRun validates the shape of every call and records the sequence
// without mutating any cloud resource. It backs the volume manager's
// dry-run mode and the orchestration unit tests.
type DryRun struct {
	// Instance and AZ are the identities reported to callers.
	Instance string
	AZ       string
	// FailOn, if set, makes the named call return an injected error.
	FailOn string
	// PendingPolls is how many VolumeState calls report "creating"
	// before the volume becomes available.
	PendingPolls int

	mu    sync.Mutex
	calls []string
	polls map[string]int
}

var _ Service = &DryRun{}

// NewDryRun returns a DryRun posing as instance i-dryrun in zone-a.
func NewDryRun() *DryRun {
	return &DryRun{Instance: "i-dryrun", AZ: "zone-a"}
}

// Calls returns the recorded call sequence.
func (d *DryRun) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *DryRun) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.FailOn != "" && len(call) >= len(d.FailOn) && call[:len(d.FailOn)] == d.FailOn {
		return errors.Errorf("dry-run: injected failure on %s", call)
	}
	return nil
}

func (d *DryRun) OnInstance() bool { return true }

func (d *DryRun) InstanceID(ctx context.Context) (string, error) { return d.Instance, nil }

func (d *DryRun) Zone(ctx context.Context) (string, error) { return d.AZ, nil }

func (d *DryRun) Region(ctx context.Context) (string, error) { return d.AZ, nil }

func (d *DryRun) CreateVolume(ctx context.Context, zone, name string, sizeGB int64) (string, error) {
	if zone == "" || name == "" || sizeGB <= 0 {
		return "", errors.Errorf("dry-run: bad create-volume args (zone=%q name=%q size=%d)", zone, name, sizeGB)
	}
	if err := d.record(fmt.Sprintf("create-volume %s %s %dGB", zone, name, sizeGB)); err != nil {
		return "", err
	}
	return name, nil
}

func (d *DryRun) VolumeState(ctx context.Context, zone, id string) (string, error) {
	if zone == "" || id == "" {
		return "", errors.New("dry-run: bad volume-state args")
	}
	if err := d.record("volume-state " + id); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.polls == nil {
		d.polls = make(map[string]int)
	}
	d.polls[id]++
	if d.polls[id] <= d.PendingPolls {
		return "creating", nil
	}
	return VolumeAvailable, nil
}

func (d *DryRun) AttachVolume(ctx context.Context, zone, instance, id, device string) error {
	if zone == "" || instance == "" || id == "" || device == "" {
		return errors.New("dry-run: bad attach-volume args")
	}
	return d.record(fmt.Sprintf("attach-volume %s %s", id, device))
}

func (d *DryRun) DetachVolume(ctx context.Context, zone, instance, device string, force bool) error {
	if zone == "" || instance == "" || device == "" {
		return errors.New("dry-run: bad detach-volume args")
	}
	return d.record(fmt.Sprintf("detach-volume %s force=%t", device, force))
}

func (d *DryRun) DeleteVolume(ctx context.Context, zone, id string) error {
	if zone == "" || id == "" {
		return errors.New("dry-run: bad delete-volume args")
	}
	return d.record("delete-volume " + id)
}
