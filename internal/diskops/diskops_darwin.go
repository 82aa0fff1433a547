//go:build darwin

package diskops

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// System talks to the real kernel. It implements MountTable and Operator.
type System struct{}

func NewSystem() *System { return &System{} }

// Mounts returns the live mount table via getfsstat(2), without blocking on
// unreachable filesystems.
func (s *System) Mounts() ([]MountEntry, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat count: %w", err)
	}
	buf := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(buf, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat: %w", err)
	}

	entries := make([]MountEntry, 0, n)
	for i := 0; i < n; i++ {
		st := &buf[i]
		entries = append(entries, MountEntry{
			Source: unix.ByteSliceToString(st.Mntfromname[:]),
			Target: unix.ByteSliceToString(st.Mntonname[:]),
			FSType: unix.ByteSliceToString(st.Fstypename[:]),
			Flags:  st.Flags,
		})
	}
	return entries, nil
}

func (s *System) Unmount(target string, force bool) error {
	flags := 0
	if force {
		flags = unix.MNT_FORCE
	}
	if err := unix.Unmount(target, flags); err != nil {
		return translateErr("unmount", target, err)
	}
	return nil
}

func (s *System) Mount(fsType, source, target string, flags uint32) error {
	// mount(2) takes fs-specific args; for the filesystems we remount the
	// device node is the first field of the args struct.
	src, err := unix.BytePtrFromString(source)
	if err != nil {
		return fmt.Errorf("mount %s: %w", target, err)
	}
	if err := unix.Mount(fsType, target, int(flags), unsafe.Pointer(&src)); err != nil {
		return translateErr("mount", target, err)
	}
	return nil
}

func translateErr(op, target string, err error) error {
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENODEV) {
		return fmt.Errorf("%s %s: %w", op, target, ErrDeviceGone)
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}
