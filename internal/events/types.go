// Package events fans device-block notifications out to the UI collaborator.
package events

import "time"

// DeviceBlockEvent is published once per denied or force-remounted device.
type DeviceBlockEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// MountFrom is the device node the mount came from.
	MountFrom string `json:"mount_from"`
	// MountTo is the mount point that was denied.
	MountTo string `json:"mount_to"`

	// RemountArgs are the restriction names applied by the corrective
	// remount; empty when the device was left unmounted.
	RemountArgs []string `json:"remount_args,omitempty"`
}
