package diskops

import "fmt"

// StatfsInfoProvider derives disk metadata from mount-table flags alone.
// It can tell removable from fixed media (MNT_REMOVABLE) but not the bus
// protocol or device model; the system-extension build replaces it with a
// DiskArbitration-backed provider.
type StatfsInfoProvider struct {
	table MountTable
}

func NewStatfsInfoProvider(table MountTable) *StatfsInfoProvider {
	return &StatfsInfoProvider{table: table}
}

func (p *StatfsInfoProvider) Info(device string) (DiskInfo, error) {
	entries, err := p.table.Mounts()
	if err != nil {
		return DiskInfo{}, err
	}
	for _, e := range entries {
		if e.Source != device {
			continue
		}
		removable := e.Flags&MntRemovable != 0
		return DiskInfo{
			Removable: removable,
			Ejectable: removable,
			Internal:  !removable,
		}, nil
	}
	return DiskInfo{}, fmt.Errorf("statfs info: %s: %w", device, ErrDeviceGone)
}
