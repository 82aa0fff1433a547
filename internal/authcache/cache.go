// Package authcache memoizes authorization verdicts so repeated decisions
// for the same subject are cheap and consistent until ground truth changes.
package authcache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kubalaguna/santa/pkg/types"
)

// Subject identifies what a verdict was issued for: a device/path tuple for
// mount decisions, or a device/executable tuple for exec decisions.
type Subject struct {
	Device string
	Path   string
}

// String returns the key formatted as "device:path".
func (s Subject) String() string {
	return s.Device + ":" + s.Path
}

type entry struct {
	verdict    types.Verdict
	insertedAt time.Time
}

// Cache is a concurrent verdict-memoization table. Entries are segmented by
// whether the subject lives on the root device, so a non-root-only flush
// (removable media coming and going) never evicts root-volume verdicts.
//
// The cache provides its own synchronization: a lookup that starts after a
// flush returns can never observe a flushed entry.
type Cache struct {
	mu         sync.RWMutex
	root       map[string]entry
	nonRoot    map[string]entry
	rootDevice string

	flushes   map[types.FlushReason]uint64
	flushHook func(types.FlushReason)
	kernel    KernelCache

	logger *slog.Logger
	now    func() time.Time
}

// KernelCache is the kernel-side verdict cache a flush must also clear.
// Satisfied by the event source.
type KernelCache interface {
	ClearCache() bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the insertion-time clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFlushHook registers a callback invoked once per flush with its
// reason. Used for metrics.
func WithFlushHook(fn func(types.FlushReason)) Option {
	return func(c *Cache) { c.flushHook = fn }
}

// New creates a cache. rootDevice is the device node of the boot volume;
// subjects on it are stored in the root segment.
func New(rootDevice string, opts ...Option) *Cache {
	c := &Cache{
		root:       make(map[string]entry),
		nonRoot:    make(map[string]entry),
		rootDevice: rootDevice,
		flushes:    make(map[types.FlushReason]uint64),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetKernelCache attaches the kernel-side cache so every Flush also clears
// kernel-held verdicts. Attached late because the event source comes up
// after the cache.
func (c *Cache) SetKernelCache(k KernelCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernel = k
}

func (c *Cache) segment(s Subject) map[string]entry {
	if s.Device == c.rootDevice {
		return c.root
	}
	return c.nonRoot
}

// Lookup returns the memoized verdict for the subject. A miss is not an
// error, only a signal to re-evaluate policy.
func (c *Cache) Lookup(s Subject) (types.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.segment(s)[s.String()]
	if !ok {
		return "", false
	}
	return e.verdict, true
}

// Store memoizes a verdict. Idempotent; last write wins.
func (c *Cache) Store(s Subject, verdict types.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segment(s)[s.String()] = entry{verdict: verdict, insertedAt: c.now()}
}

// Remove drops the entry for one subject, if present.
func (c *Cache) Remove(s Subject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.segment(s), s.String())
}

// Flush invalidates cached verdicts. mode selects which segments are
// dropped; reason is recorded for metrics. Safe to call concurrently with
// lookups and stores.
func (c *Cache) Flush(mode types.FlushMode, reason types.FlushReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := len(c.nonRoot)
	c.nonRoot = make(map[string]entry)
	if mode == types.FlushAll {
		dropped += len(c.root)
		c.root = make(map[string]entry)
	}
	c.flushes[reason]++
	if c.flushHook != nil {
		c.flushHook(reason)
	}
	// Kernel-held verdicts outlive ours unless cleared here. A failed clear
	// is degraded operation, not an error: our own maps are already empty.
	if c.kernel != nil && !c.kernel.ClearCache() {
		c.logger.Warn("kernel cache clear failed",
			"mode", mode,
			"reason", reason,
		)
	}

	c.logger.Debug("decision cache flushed",
		"mode", mode,
		"reason", reason,
		"dropped", dropped,
	)
}

// Len returns the total number of cached verdicts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.root) + len(c.nonRoot)
}

// FlushCounts returns a copy of the per-reason flush counters.
func (c *Cache) FlushCounts() map[types.FlushReason]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.FlushReason]uint64, len(c.flushes))
	for r, n := range c.flushes {
		out[r] = n
	}
	return out
}
