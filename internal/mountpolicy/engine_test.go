package mountpolicy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubalaguna/santa/internal/authcache"
	"github.com/kubalaguna/santa/internal/diskops"
	"github.com/kubalaguna/santa/internal/dispatch"
	"github.com/kubalaguna/santa/internal/events"
	"github.com/kubalaguna/santa/internal/eventsource"
	"github.com/kubalaguna/santa/pkg/types"
)

type fixture struct {
	source   *eventsource.Fake
	provider *diskops.FakeProvider
	ops      *diskops.FakeOperator
	cache    *authcache.Cache
	broker   *events.Broker
	engine   *Engine

	mu           sync.Mutex
	dispositions []types.Disposition
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		source:   eventsource.NewFake(),
		provider: diskops.NewFakeProvider(),
		ops:      diskops.NewFakeOperator(),
		cache:    authcache.New("/dev/disk1s1"),
		broker:   events.NewBroker(),
	}
	f.cache.SetKernelCache(f.source)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	budget := dispatch.DeadlineBudget{MinHeadroom: time.Second, MaxHeadroom: 5 * time.Second}
	base := dispatch.NewBase(f.source, budget, dispatch.Options{
		Logger: logger,
		Metrics: func(_ types.EventKind, d types.Disposition) {
			f.mu.Lock()
			f.dispositions = append(f.dispositions, d)
			f.mu.Unlock()
		},
	})
	f.engine = NewEngine(base, f.provider, f.cache,
		NewRemounter(f.ops, logger), f.broker, func() Config { return cfg })
	f.source.SetHandler(f.engine)
	return f
}

func (f *fixture) deliver(msg *eventsource.Message) {
	f.source.Deliver(context.Background(), msg)
}

func (f *fixture) lastDisposition(t *testing.T) types.Disposition {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.dispositions)
	return f.dispositions[len(f.dispositions)-1]
}

func usbDisk() diskops.DiskInfo {
	return diskops.DiskInfo{Protocol: "USB", Removable: true, Ejectable: true}
}

func mountMsg(source, target, fsType string, flags uint32) *eventsource.Message {
	return eventsource.NewMountMessage(types.EventAuthMount,
		eventsource.MountEvent{Source: source, Target: target, FSType: fsType, Flags: flags},
		time.Now().Add(time.Minute))
}

func TestEngine_MountAllowedWhenBlockingDisabled(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: false})
	f.provider.Add("/dev/disk2s1", usbDisk())

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))

	responses := f.source.Responses()
	require.Len(t, responses, 1)
	require.Equal(t, types.VerdictAllow, responses[0].Verdict)
	require.Empty(t, f.ops.Calls())
}

func TestEngine_MountClassification(t *testing.T) {
	tests := []struct {
		name string
		disk diskops.DiskInfo
		want types.Verdict
	}{
		{"removable usb denied", usbDisk(), types.VerdictDeny},
		{"internal disk allowed", diskops.DiskInfo{Protocol: "Apple Fabric", Internal: true}, types.VerdictAllow},
		{"disk image allowed", diskops.DiskInfo{Model: "Disk Image", Removable: true}, types.VerdictAllow},
		{"virtual interface allowed", diskops.DiskInfo{Protocol: "Virtual Interface", Removable: true}, types.VerdictAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{BlockUSBMount: true})
			f.provider.Add("/dev/disk2s1", tt.disk)

			f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))

			responses := f.source.Responses()
			require.Len(t, responses, 1)
			require.Equal(t, tt.want, responses[0].Verdict)
			require.False(t, responses[0].Cacheable,
				"mount verdicts must not be kernel-cacheable")
		})
	}
}

func TestEngine_DiskImageNeverNotifies(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true, RemountArgs: []string{"rdonly"}, RemountFlags: diskops.MntRdonly})
	f.provider.Add("/dev/disk3s1", diskops.DiskInfo{Model: "Disk Image", Removable: true})

	ch := f.broker.Subscribe(1)
	defer f.broker.Unsubscribe(ch)

	f.deliver(mountMsg("/dev/disk3s1", "/Volumes/DMG", "hfs", 0))

	require.Equal(t, types.VerdictAllow, f.source.Responses()[0].Verdict)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected block notification for disk image: %+v", ev)
	default:
	}
}

func TestEngine_DeniedMountSchedulesRemount(t *testing.T) {
	args := []string{"noexec", "rdonly"}
	f := newFixture(t, Config{
		BlockUSBMount: true,
		RemountArgs:   args,
		RemountFlags:  ParseRemountArgs(args),
	})
	f.provider.Add("/dev/disk2s1", usbDisk())

	ch := f.broker.Subscribe(1)
	defer f.broker.Unsubscribe(ch)

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", diskops.MntLocal))
	f.engine.Drain()

	responses := f.source.Responses()
	require.Len(t, responses, 1)
	require.Equal(t, types.VerdictDeny, responses[0].Verdict)

	calls := f.ops.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, diskops.OpCall{Op: "unmount", Target: "/Volumes/X", Force: true}, calls[0])
	require.Equal(t, "mount", calls[1].Op)
	require.Equal(t, "/dev/disk2s1", calls[1].Source)
	require.Equal(t, "/Volumes/X", calls[1].Target)
	require.NotZero(t, calls[1].Flags&diskops.MntRdonly)
	require.NotZero(t, calls[1].Flags&diskops.MntNoexec)
	require.NotZero(t, calls[1].Flags&diskops.MntLocal, "current flags must be preserved")

	select {
	case ev := <-ch:
		require.Equal(t, "/dev/disk2s1", ev.MountFrom)
		require.Equal(t, "/Volumes/X", ev.MountTo)
		require.Equal(t, args, ev.RemountArgs)
		require.NotEmpty(t, ev.ID)
	default:
		t.Fatal("expected a device-block notification")
	}
}

func TestEngine_DeniedMountWithoutRemountArgsLeavesUnmounted(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	f.provider.Add("/dev/disk2s1", usbDisk())

	ch := f.broker.Subscribe(1)
	defer f.broker.Unsubscribe(ch)

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))
	f.engine.Drain()

	require.Equal(t, types.VerdictDeny, f.source.Responses()[0].Verdict)
	require.Empty(t, f.ops.Calls())

	select {
	case ev := <-ch:
		require.Empty(t, ev.RemountArgs)
	default:
		t.Fatal("expected a device-block notification")
	}
}

func TestEngine_DiskInfoFailureAllows(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	// No disk registered: provider reports the device as gone.

	f.deliver(mountMsg("/dev/disk9s9", "/Volumes/X", "msdos", 0))

	require.Equal(t, types.VerdictAllow, f.source.Responses()[0].Verdict)
	require.Equal(t, types.DispositionError, f.lastDisposition(t))
}

func TestEngine_CachedVerdictReused(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	f.provider.Add("/dev/disk2s1", usbDisk())

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))
	require.Equal(t, types.VerdictDeny, f.source.Responses()[0].Verdict)

	// Even if the disk now classifies differently, the memoized verdict
	// is authoritative until invalidated.
	f.provider.Add("/dev/disk2s1", diskops.DiskInfo{Internal: true})
	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))

	responses := f.source.Responses()
	require.Len(t, responses, 2)
	require.Equal(t, types.VerdictDeny, responses[1].Verdict)
}

func TestEngine_Remount(t *testing.T) {
	args := []string{"noexec", "rdonly"}
	restrictions := ParseRemountArgs(args)

	tests := []struct {
		name   string
		fsType string
		flags  uint32
		want   types.Verdict
	}{
		{
			name:   "corrective remount carrying restrictions allowed",
			fsType: "msdos",
			flags:  diskops.MntRdonly | diskops.MntNoexec | diskops.MntLocal,
			want:   types.VerdictAllow,
		},
		{
			name:   "read-write remount denied",
			fsType: "msdos",
			flags:  diskops.MntLocal,
			want:   types.VerdictDeny,
		},
		{
			name:   "partial restrictions denied",
			fsType: "msdos",
			flags:  diskops.MntRdonly,
			want:   types.VerdictDeny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{
				BlockUSBMount: true,
				RemountArgs:   args,
				RemountFlags:  restrictions,
			})
			f.provider.Add("/dev/disk2s1", usbDisk())

			msg := eventsource.NewMountMessage(types.EventAuthRemount,
				eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X", FSType: tt.fsType, Flags: tt.flags},
				time.Now().Add(time.Minute))
			f.deliver(msg)

			require.Equal(t, tt.want, f.source.Responses()[0].Verdict)
			require.Empty(t, f.ops.Calls(), "remount decisions have no side effects")
		})
	}
}

func TestEngine_RemountAPFSJournalingCarveOut(t *testing.T) {
	// With journaled configured as a restriction, an APFS remount cannot
	// carry the bit; the carve-out must not make the engine deny its own
	// corrective remount.
	args := []string{"rdonly", "journaled"}
	f := newFixture(t, Config{
		BlockUSBMount: true,
		RemountArgs:   args,
		RemountFlags:  ParseRemountArgs(args),
	})
	f.provider.Add("/dev/disk2s1", usbDisk())

	msg := eventsource.NewMountMessage(types.EventAuthRemount,
		eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X", FSType: "apfs", Flags: diskops.MntRdonly},
		time.Now().Add(time.Minute))
	f.deliver(msg)

	require.Equal(t, types.VerdictAllow, f.source.Responses()[0].Verdict)
}

func TestEngine_UnmountFlushesCache(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	f.provider.Add("/dev/disk2s1", usbDisk())

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))
	subject := authcache.Subject{Device: "/dev/disk2s1", Path: "/Volumes/X"}
	_, ok := f.cache.Lookup(subject)
	require.True(t, ok)

	unmount := eventsource.NewMountMessage(types.EventNotifyUnmount,
		eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X"},
		time.Now().Add(time.Minute))
	f.deliver(unmount)

	_, ok = f.cache.Lookup(subject)
	require.False(t, ok, "unmount must invalidate cached verdicts")

	// Notify events never get an auth response.
	require.Len(t, f.source.Responses(), 1)

	counts := f.cache.FlushCounts()
	require.Equal(t, uint64(1), counts[types.FlushReasonFilesystemUnmounted])

	// The flush must reach the kernel-side cache too.
	require.Equal(t, 1, f.source.CacheClears())
}

func TestEngine_FastPathOnShortDeadline(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	f.provider.Add("/dev/disk2s1", usbDisk())

	msg := eventsource.NewMountMessage(types.EventAuthMount,
		eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X", FSType: "msdos"},
		time.Now().Add(10*time.Millisecond))
	f.deliver(msg)

	// Policy would deny, but there is no time to decide safely.
	require.Equal(t, types.VerdictAllow, f.source.Responses()[0].Verdict)
	require.Equal(t, types.DispositionProcessed, f.lastDisposition(t))
}

func TestEngine_ExpiredDeadlineDropped(t *testing.T) {
	f := newFixture(t, Config{BlockUSBMount: true})
	f.provider.Add("/dev/disk2s1", usbDisk())

	msg := eventsource.NewMountMessage(types.EventAuthMount,
		eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X", FSType: "msdos"},
		time.Now().Add(-time.Second))
	f.deliver(msg)

	require.Len(t, f.source.Responses(), 1, "a best-effort response is still sent")
	require.Equal(t, types.DispositionDropped, f.lastDisposition(t))
}

func TestEngine_RetainReleaseBalance(t *testing.T) {
	args := []string{"noexec", "rdonly"}
	f := newFixture(t, Config{
		BlockUSBMount: true,
		RemountArgs:   args,
		RemountFlags:  ParseRemountArgs(args),
	})
	f.provider.Add("/dev/disk2s1", usbDisk())

	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))
	f.deliver(mountMsg("/dev/disk2s1", "/Volumes/X", "msdos", 0))
	unmount := eventsource.NewMountMessage(types.EventNotifyUnmount,
		eventsource.MountEvent{Source: "/dev/disk2s1", Target: "/Volumes/X"},
		time.Now().Add(time.Minute))
	f.deliver(unmount)
	f.engine.Drain()

	require.Equal(t, 0, f.source.LiveRefs(), "every retain must be balanced by a release")
	require.Equal(t, 0, f.source.OverReleases())
}
