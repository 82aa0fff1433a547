// Package mountpolicy turns raw mount, remount, and unmount events into
// allow/deny decisions plus corrective side effects, under the per-event
// deadline.
package mountpolicy

import (
	"context"

	"github.com/google/uuid"

	"github.com/kubalaguna/santa/internal/authcache"
	"github.com/kubalaguna/santa/internal/diskops"
	"github.com/kubalaguna/santa/internal/dispatch"
	"github.com/kubalaguna/santa/internal/events"
	"github.com/kubalaguna/santa/internal/eventsource"
	"github.com/kubalaguna/santa/pkg/types"
)

// Config is the immutable policy snapshot one evaluation runs against.
// A fresh snapshot is taken per event so a concurrent reload never splits a
// single decision.
type Config struct {
	// BlockUSBMount enables denial of removable-media mounts.
	BlockUSBMount bool
	// RemountArgs are the configured restriction names, e.g.
	// ["noexec", "rdonly"]. Empty means denied devices stay unmounted.
	RemountArgs []string
	// RemountFlags is the parsed flag mask for RemountArgs.
	RemountFlags uint32
}

// Engine is the device-mount policy engine.
type Engine struct {
	*dispatch.Base

	disks     diskops.InfoProvider
	cache     *authcache.Cache
	remounter *Remounter
	broker    *events.Broker
	config    func() Config
}

func NewEngine(base *dispatch.Base, disks diskops.InfoProvider, cache *authcache.Cache, remounter *Remounter, broker *events.Broker, config func() Config) *Engine {
	return &Engine{
		Base:      base,
		disks:     disks,
		cache:     cache,
		remounter: remounter,
		broker:    broker,
		config:    config,
	}
}

// Subscribe registers the engine's event kinds with the source.
func (e *Engine) Subscribe() bool {
	return e.Source().Subscribe(
		types.EventAuthMount,
		types.EventAuthRemount,
		types.EventNotifyUnmount,
	)
}

// HandleMessage implements eventsource.Handler.
func (e *Engine) HandleMessage(ctx context.Context, msg *eventsource.Message) {
	e.Process(ctx, msg, e.handle)
}

func (e *Engine) handle(ctx context.Context, msg *eventsource.Message) types.Disposition {
	switch msg.Kind {
	case types.EventAuthMount:
		return e.handleAuthMount(msg)
	case types.EventAuthRemount:
		return e.handleAuthRemount(msg)
	case types.EventNotifyUnmount:
		return e.handleNotifyUnmount(msg)
	default:
		e.Logger().Error("mount engine received unexpected event", "kind", msg.Kind)
		if msg.Kind.IsAuth() {
			e.RespondDefault(msg)
		}
		return types.DispositionError
	}
}

func (e *Engine) handleAuthMount(msg *eventsource.Message) types.Disposition {
	if d, done := e.checkBudget(msg); done {
		return d
	}
	mount := msg.Mount
	if mount == nil {
		e.RespondDefault(msg)
		return types.DispositionError
	}

	subject := authcache.Subject{Device: mount.Source, Path: mount.Target}
	if verdict, ok := e.cache.Lookup(subject); ok {
		e.Respond(msg, verdict, false)
		return types.DispositionProcessed
	}

	cfg := e.config()
	verdict, disposition := e.evaluateMount(cfg, *mount)
	if disposition == types.DispositionProcessed {
		e.cache.Store(subject, verdict)
	}

	// Respond before any side effect: the kernel deadline must never wait
	// on mount syscalls. Mount verdicts are not kernel-cacheable because
	// they depend on mutable disk state.
	e.Respond(msg, verdict, false)

	if verdict == types.VerdictDeny {
		e.blockDevice(cfg, *mount)
	}
	return disposition
}

// evaluateMount classifies the disk and decides. Failures to probe the disk
// resolve to allow: blocking on unknown metadata would brick every mount
// whenever disk arbitration misbehaves.
func (e *Engine) evaluateMount(cfg Config, mount eventsource.MountEvent) (types.Verdict, types.Disposition) {
	if !cfg.BlockUSBMount {
		return types.VerdictAllow, types.DispositionProcessed
	}

	info, err := e.disks.Info(mount.Source)
	if err != nil {
		e.Logger().Warn("disk info unavailable, allowing mount",
			"source", mount.Source,
			"error", err,
		)
		return types.VerdictAllow, types.DispositionError
	}
	if !ShouldOperateOnDisk(info) {
		return types.VerdictAllow, types.DispositionProcessed
	}
	return types.VerdictDeny, types.DispositionProcessed
}

// blockDevice runs the deny side effects: schedule the corrective remount
// when restrictions are configured, and notify the UI collaborator.
func (e *Engine) blockDevice(cfg Config, mount eventsource.MountEvent) {
	var appliedArgs []string
	if cfg.RemountFlags != 0 {
		flags := UpdatedMountFlags(mount.Flags, mount.FSType, cfg.RemountFlags)
		e.remounter.Schedule(mount.FSType, mount.Source, mount.Target, flags)
		appliedArgs = cfg.RemountArgs
	}

	e.Logger().Info("blocked removable device mount",
		"source", mount.Source,
		"target", mount.Target,
		"remount_args", appliedArgs,
	)

	if e.broker != nil {
		e.broker.Publish(events.DeviceBlockEvent{
			ID:          uuid.NewString(),
			Timestamp:   e.Now(),
			MountFrom:   mount.Source,
			MountTo:     mount.Target,
			RemountArgs: appliedArgs,
		})
	}
}

func (e *Engine) handleAuthRemount(msg *eventsource.Message) types.Disposition {
	if d, done := e.checkBudget(msg); done {
		return d
	}
	mount := msg.Mount
	if mount == nil {
		e.RespondDefault(msg)
		return types.DispositionError
	}

	cfg := e.config()
	verdict, disposition := e.evaluateMount(cfg, *mount)

	// A remount whose flags already carry every configured restriction is
	// the engine's own corrective remount completing; let it through.
	if verdict == types.VerdictDeny && cfg.RemountFlags != 0 && satisfiesRestrictions(*mount, cfg.RemountFlags) {
		verdict = types.VerdictAllow
	}

	if verdict == types.VerdictDeny {
		e.Logger().Info("blocked removable device remount",
			"source", mount.Source,
			"target", mount.Target,
		)
	}
	e.Respond(msg, verdict, false)
	return disposition
}

// satisfiesRestrictions reports whether the proposed mount flags include the
// whole restriction union, modulo the APFS journaling carve-out.
func satisfiesRestrictions(mount eventsource.MountEvent, restrictions uint32) bool {
	if mount.FSType == "apfs" {
		restrictions &^= diskops.MntJournaled
	}
	return mount.Flags&restrictions == restrictions
}

func (e *Engine) handleNotifyUnmount(msg *eventsource.Message) types.Disposition {
	// Ground truth changed under the cache: any verdict issued for the
	// departed filesystem is stale.
	e.cache.Flush(types.FlushAll, types.FlushReasonFilesystemUnmounted)
	return types.DispositionProcessed
}

// checkBudget resolves the deadline-risk cases. done is true when a response
// was already sent and the handler must stop.
func (e *Engine) checkBudget(msg *eventsource.Message) (types.Disposition, bool) {
	switch e.Budget().Assess(msg.Deadline, e.Now()) {
	case dispatch.BudgetExpired:
		// Best effort; the kernel has likely already given up on us.
		e.RespondDefault(msg)
		return types.DispositionDropped, true
	case dispatch.BudgetFastPath:
		e.Logger().Warn("insufficient headroom for mount policy, responding with default",
			"kind", msg.Kind,
			"headroom", msg.Headroom(e.Now()),
		)
		e.RespondDefault(msg)
		return types.DispositionProcessed, true
	default:
		return types.DispositionProcessed, false
	}
}

// Drain waits for every scheduled corrective remount to finish.
func (e *Engine) Drain() {
	e.remounter.Wait()
	e.Wait()
}
