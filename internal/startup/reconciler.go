// Package startup reconciles removable media that was already mounted
// before the agent started and therefore never produced an auth event.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kubalaguna/santa/internal/diskops"
	"github.com/kubalaguna/santa/internal/mountpolicy"
)

// Preference is the configured startup disposition for removable media.
type Preference string

const (
	// PreferenceNone leaves existing mounts alone.
	PreferenceNone Preference = "none"
	// PreferenceUnmount force-unmounts matching volumes.
	PreferenceUnmount Preference = "unmount"
	// PreferenceRemount force-unmounts then remounts matching volumes
	// with the configured restriction flags.
	PreferenceRemount Preference = "remount"
)

// ParsePreference validates a configured preference string.
func ParsePreference(s string) (Preference, error) {
	switch Preference(s) {
	case PreferenceNone, PreferenceUnmount, PreferenceRemount:
		return Preference(s), nil
	case "":
		return PreferenceNone, nil
	default:
		return "", fmt.Errorf("startup: unknown usb preference %q", s)
	}
}

// Reconciler applies the startup preference to the live mount table.
type Reconciler struct {
	table  diskops.MountTable
	disks  diskops.InfoProvider
	ops    diskops.Operator
	logger *slog.Logger

	pref         Preference
	remountFlags uint32
}

func New(table diskops.MountTable, disks diskops.InfoProvider, ops diskops.Operator, pref Preference, remountFlags uint32, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		table:        table,
		disks:        disks,
		ops:          ops,
		logger:       logger,
		pref:         pref,
		remountFlags: remountFlags,
	}
}

// Reconcile enumerates mounted filesystems and applies the preference to
// each removable, non-virtual volume. Per-volume failures are logged and
// skipped; only a failure to read the mount table is returned.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if r.pref == PreferenceNone {
		return nil
	}

	entries, err := r.table.Mounts()
	if err != nil {
		return fmt.Errorf("enumerate mounts: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := r.disks.Info(entry.Source)
		if err != nil {
			r.logger.Debug("skipping mount, disk info unavailable",
				"source", entry.Source,
				"error", err,
			)
			continue
		}
		if !mountpolicy.ShouldOperateOnDisk(info) {
			continue
		}
		r.apply(entry)
	}
	return nil
}

func (r *Reconciler) apply(entry diskops.MountEntry) {
	if err := r.ops.Unmount(entry.Target, true); err != nil {
		if errors.Is(err, diskops.ErrDeviceGone) {
			return
		}
		r.logger.Warn("startup unmount failed",
			"target", entry.Target,
			"error", err,
		)
		return
	}
	r.logger.Info("unmounted pre-existing removable volume",
		"source", entry.Source,
		"target", entry.Target,
	)

	// A remount with no restriction flags degenerates to leaving the
	// volume unmounted.
	if r.pref != PreferenceRemount || r.remountFlags == 0 {
		return
	}

	flags := mountpolicy.UpdatedMountFlags(entry.Flags, entry.FSType, r.remountFlags)
	if err := r.ops.Mount(entry.FSType, entry.Source, entry.Target, flags); err != nil {
		if errors.Is(err, diskops.ErrDeviceGone) {
			return
		}
		r.logger.Warn("startup remount failed, volume left unmounted",
			"source", entry.Source,
			"target", entry.Target,
			"error", err,
		)
		return
	}
	r.logger.Info("remounted pre-existing removable volume with restrictions",
		"source", entry.Source,
		"target", entry.Target,
		"flags", flags,
	)
}
