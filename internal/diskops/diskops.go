// Package diskops isolates every OS call the mount-policy code needs: disk
// metadata probing, the live mount table, and the unmount/mount syscalls.
// Policy packages depend only on the interfaces here, so they are testable
// with fakes and never touch the OS on the auth response path.
package diskops

import "errors"

// DiskInfo is the strongly-typed disk description the policy engine
// classifies. It replaces the loosely-typed property bag the disk
// arbitration layer exposes.
type DiskInfo struct {
	// Protocol is the bus protocol, e.g. "USB", "Secure Digital",
	// "Virtual Interface".
	Protocol string
	// Model is the device model string; disk images report "Disk Image".
	Model string

	Removable bool
	Ejectable bool
	Internal  bool
}

// VirtualOrDiskImage reports whether the disk is backed by software rather
// than physical media.
func (d DiskInfo) VirtualOrDiskImage() bool {
	return d.Protocol == "Virtual Interface" || d.Model == "Disk Image"
}

// MountEntry is one row of the live mount table.
type MountEntry struct {
	Source string
	Target string
	FSType string
	Flags  uint32
}

// InfoProvider resolves disk metadata for a device node.
type InfoProvider interface {
	Info(device string) (DiskInfo, error)
}

// MountTable enumerates currently mounted filesystems. Startup
// reconciliation queries this directly: volumes mounted before the agent
// started never generated an auth event.
type MountTable interface {
	Mounts() ([]MountEntry, error)
}

// Operator performs mount-table mutations.
type Operator interface {
	// Unmount detaches the filesystem at target. force detaches even
	// with open files.
	Unmount(target string, force bool) error
	// Mount mounts source at target with the given MNT_* flags.
	Mount(fsType, source, target string, flags uint32) error
}

// ErrDeviceGone marks unmount/mount failures caused by the device having
// already disappeared (physical removal racing the syscall). Callers treat
// it as benign.
var ErrDeviceGone = errors.New("diskops: device no longer present")

// RootDevice returns the device node of the boot volume, or "" if it cannot
// be determined.
func RootDevice(table MountTable) string {
	entries, err := table.Mounts()
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Target == "/" {
			return e.Source
		}
	}
	return ""
}
