//go:build !darwin

package diskops

import "errors"

var errUnsupported = errors.New("diskops: mount operations are only available on macOS")

// System is a stub on non-macOS platforms.
type System struct{}

func NewSystem() *System { return &System{} }

func (s *System) Mounts() ([]MountEntry, error) {
	return nil, errUnsupported
}

func (s *System) Unmount(target string, force bool) error {
	return errUnsupported
}

func (s *System) Mount(fsType, source, target string, flags uint32) error {
	return errUnsupported
}
