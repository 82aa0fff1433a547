package mountpolicy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubalaguna/santa/internal/diskops"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRemounter_UnmountsThenRemounts(t *testing.T) {
	ops := diskops.NewFakeOperator()
	r := NewRemounter(ops, discardLogger())

	flags := diskops.MntRdonly | diskops.MntNoexec
	r.Schedule("msdos", "/dev/disk2s1", "/Volumes/X", flags)
	r.Wait()

	calls := ops.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "unmount", calls[0].Op)
	require.True(t, calls[0].Force)
	require.Equal(t, diskops.OpCall{
		Op: "mount", Target: "/Volumes/X", Source: "/dev/disk2s1", FSType: "msdos", Flags: flags,
	}, calls[1])
}

func TestRemounter_DeviceGoneIsBenign(t *testing.T) {
	ops := diskops.NewFakeOperator()
	ops.FailUnmount("/Volumes/X", fmt.Errorf("unmount: %w", diskops.ErrDeviceGone))

	var failures int
	r := NewRemounter(ops, discardLogger())
	r.SetFailureHook(func() { failures++ })

	r.Schedule("msdos", "/dev/disk2s1", "/Volumes/X", diskops.MntRdonly)
	r.Wait()

	require.Len(t, ops.Calls(), 1, "no mount attempt after the device vanished")
	require.Zero(t, failures, "a removal race is not a failure")
}

func TestRemounter_FailureHook(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*diskops.FakeOperator)
		calls int
	}{
		{
			name: "unmount fails",
			setup: func(ops *diskops.FakeOperator) {
				ops.FailUnmount("/Volumes/X", errors.New("resource busy"))
			},
			calls: 1,
		},
		{
			name: "mount fails",
			setup: func(ops *diskops.FakeOperator) {
				ops.FailMount("/Volumes/X", errors.New("invalid argument"))
			},
			calls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := diskops.NewFakeOperator()
			tt.setup(ops)

			var failures int
			r := NewRemounter(ops, discardLogger())
			r.SetFailureHook(func() { failures++ })

			r.Schedule("msdos", "/dev/disk2s1", "/Volumes/X", diskops.MntRdonly)
			r.Wait()

			require.Len(t, ops.Calls(), tt.calls)
			require.Equal(t, 1, failures)
		})
	}
}
