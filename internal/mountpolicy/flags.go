package mountpolicy

import (
	"log/slog"

	"github.com/kubalaguna/santa/internal/diskops"
)

// remountArgNames maps the restriction names accepted in configuration to
// mount flag bits.
var remountArgNames = map[string]uint32{
	"rdonly":    diskops.MntRdonly,
	"noexec":    diskops.MntNoexec,
	"nosuid":    diskops.MntNosuid,
	"nodev":     diskops.MntNodev,
	"nobrowse":  diskops.MntDontBrowse,
	"noowners":  diskops.MntIgnoreOwnership,
	"async":     diskops.MntAsync,
	"journaled": diskops.MntJournaled,
}

// ParseRemountArgs turns configured restriction names into a flag mask.
// Unknown names are logged and skipped so a typo cannot disable the engine.
func ParseRemountArgs(names []string) uint32 {
	var mask uint32
	for _, name := range names {
		bit, ok := remountArgNames[name]
		if !ok {
			slog.Warn("ignoring unknown remount arg", "arg", name)
			continue
		}
		mask |= bit
	}
	return mask
}

// UpdatedMountFlags computes the flags for a corrective remount: the union
// of the mount's current flags and the configured restrictions, so the
// policy can tighten but never relax a mount. APFS refuses to remount with
// MNT_JOURNALED set, so that one bit is cleared for it; everything else is
// preserved.
func UpdatedMountFlags(current uint32, fsType string, restrictions uint32) uint32 {
	mask := current | restrictions
	if fsType == "apfs" {
		mask &^= diskops.MntJournaled
	}
	return mask
}

// ShouldOperateOnDisk is the gate shared by live event handling and startup
// reconciliation: true only for physical removable/external media. Disk
// images and virtual devices are never subject to USB policy, even when
// nominally removable.
func ShouldOperateOnDisk(d diskops.DiskInfo) bool {
	if d.VirtualOrDiskImage() {
		return false
	}
	if d.Removable || d.Ejectable {
		return true
	}
	switch d.Protocol {
	case "USB", "Secure Digital":
		return true
	}
	return !d.Internal
}
