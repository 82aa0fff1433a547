package mountpolicy

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/kubalaguna/santa/internal/diskops"
)

// Remounter applies corrective remounts off the auth response path. A
// scheduled job references only plain data (paths, fs type, flags), never
// the kernel message that triggered it.
type Remounter struct {
	ops    diskops.Operator
	logger *slog.Logger
	wg     sync.WaitGroup

	onFailure func()
}

func NewRemounter(ops diskops.Operator, logger *slog.Logger) *Remounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remounter{ops: ops, logger: logger}
}

// SetFailureHook registers a callback invoked once per remount job that did
// not complete (device-gone races excluded). Used for metrics.
func (r *Remounter) SetFailureHook(fn func()) {
	r.onFailure = fn
}

func (r *Remounter) fail() {
	if r.onFailure != nil {
		r.onFailure()
	}
}

// Schedule enqueues an unmount-then-remount of target with the computed
// flags. It returns immediately.
func (r *Remounter) Schedule(fsType, source, target string, flags uint32) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.remount(fsType, source, target, flags)
	}()
}

// Wait blocks until all scheduled remounts have completed.
func (r *Remounter) Wait() {
	r.wg.Wait()
}

func (r *Remounter) remount(fsType, source, target string, flags uint32) {
	if err := r.ops.Unmount(target, true); err != nil {
		if errors.Is(err, diskops.ErrDeviceGone) {
			// Lost the race with physical removal; nothing to restrict.
			r.logger.Debug("device gone before corrective unmount", "target", target)
			return
		}
		r.logger.Warn("corrective unmount failed, device remains mounted read-write",
			"target", target,
			"error", err,
		)
		r.fail()
		return
	}

	if err := r.ops.Mount(fsType, source, target, flags); err != nil {
		if errors.Is(err, diskops.ErrDeviceGone) {
			r.logger.Debug("device gone before corrective remount", "target", target)
			return
		}
		r.logger.Warn("corrective remount failed, device left unmounted",
			"source", source,
			"target", target,
			"error", err,
		)
		r.fail()
		return
	}

	r.logger.Info("remounted device with restrictions",
		"source", source,
		"target", target,
		"flags", flags,
	)
}
