package diskops

import (
	"fmt"
	"sync"
)

// FakeProvider serves canned DiskInfo by device node.
type FakeProvider struct {
	mu    sync.Mutex
	disks map[string]DiskInfo
	errs  map[string]error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		disks: make(map[string]DiskInfo),
		errs:  make(map[string]error),
	}
}

// Add registers the info returned for a device.
func (p *FakeProvider) Add(device string, info DiskInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disks[device] = info
}

// Fail makes lookups for a device return err.
func (p *FakeProvider) Fail(device string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[device] = err
}

func (p *FakeProvider) Info(device string) (DiskInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[device]; ok {
		return DiskInfo{}, err
	}
	info, ok := p.disks[device]
	if !ok {
		return DiskInfo{}, fmt.Errorf("fake provider: %s: %w", device, ErrDeviceGone)
	}
	return info, nil
}

// FakeTable serves a fixed mount table.
type FakeTable struct {
	mu      sync.Mutex
	entries []MountEntry
	err     error
}

func NewFakeTable(entries ...MountEntry) *FakeTable {
	return &FakeTable{entries: entries}
}

// SetErr makes Mounts return err.
func (t *FakeTable) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *FakeTable) Mounts() ([]MountEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	out := make([]MountEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

// OpCall is one recorded Operator call.
type OpCall struct {
	Op     string // "unmount" or "mount"
	Target string
	Source string
	FSType string
	Flags  uint32
	Force  bool
}

// FakeOperator records mount-table mutations and can be scripted to fail.
type FakeOperator struct {
	mu         sync.Mutex
	calls      []OpCall
	unmountErr map[string]error
	mountErr   map[string]error
}

func NewFakeOperator() *FakeOperator {
	return &FakeOperator{
		unmountErr: make(map[string]error),
		mountErr:   make(map[string]error),
	}
}

// FailUnmount scripts an error for unmounts of target.
func (o *FakeOperator) FailUnmount(target string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unmountErr[target] = err
}

// FailMount scripts an error for mounts at target.
func (o *FakeOperator) FailMount(target string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mountErr[target] = err
}

func (o *FakeOperator) Unmount(target string, force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, OpCall{Op: "unmount", Target: target, Force: force})
	return o.unmountErr[target]
}

func (o *FakeOperator) Mount(fsType, source, target string, flags uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, OpCall{Op: "mount", Target: target, Source: source, FSType: fsType, Flags: flags})
	return o.mountErr[target]
}

// Calls returns a copy of every recorded call, in order.
func (o *FakeOperator) Calls() []OpCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OpCall, len(o.calls))
	copy(out, o.calls)
	return out
}
