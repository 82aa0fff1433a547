// Package metrics exposes event-handling counters in the Prometheus text
// format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubalaguna/santa/pkg/types"
)

// Collector counts handled events. It is the metrics collaborator behind
// the per-event disposition callback.
type Collector struct {
	startedAt time.Time

	eventsTotal   atomic.Uint64
	byKind        sync.Map // string -> *atomic.Uint64
	byDisposition sync.Map // string -> *atomic.Uint64

	deviceBlocks atomic.Uint64
	remountsFail atomic.Uint64
	cacheFlushes sync.Map // string (reason) -> *atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// IncEvent records one handled event. Wired as the dispatch metrics
// callback.
func (c *Collector) IncEvent(kind types.EventKind, d types.Disposition) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	bump(&c.byKind, string(kind))
	bump(&c.byDisposition, string(d))
}

// IncDeviceBlock records one denied/remounted device.
func (c *Collector) IncDeviceBlock() {
	if c == nil {
		return
	}
	c.deviceBlocks.Add(1)
}

// IncRemountFailure records a corrective remount that did not complete.
func (c *Collector) IncRemountFailure() {
	if c == nil {
		return
	}
	c.remountsFail.Add(1)
}

// IncCacheFlush records a decision-cache flush by reason.
func (c *Collector) IncCacheFlush(reason types.FlushReason) {
	if c == nil {
		return
	}
	bump(&c.cacheFlushes, string(reason))
}

func bump(m *sync.Map, key string) {
	if key == "" {
		key = "unknown"
	}
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP santad_up Whether the agent is running.\n")
		fmt.Fprint(w, "# TYPE santad_up gauge\n")
		fmt.Fprint(w, "santad_up 1\n")

		fmt.Fprint(w, "# HELP santad_start_time_seconds Unix time the agent started.\n")
		fmt.Fprint(w, "# TYPE santad_start_time_seconds gauge\n")
		fmt.Fprintf(w, "santad_start_time_seconds %d\n", c.startedAt.Unix())

		fmt.Fprint(w, "# HELP santad_events_total Total kernel events handled.\n")
		fmt.Fprint(w, "# TYPE santad_events_total counter\n")
		fmt.Fprintf(w, "santad_events_total %d\n", c.eventsTotal.Load())

		writeLabeled(w, &c.byKind,
			"santad_events_by_kind_total", "kind", "Kernel events handled by kind.")
		writeLabeled(w, &c.byDisposition,
			"santad_events_by_disposition_total", "disposition", "Kernel events handled by disposition.")

		fmt.Fprint(w, "# HELP santad_device_blocks_total Removable devices denied or force-remounted.\n")
		fmt.Fprint(w, "# TYPE santad_device_blocks_total counter\n")
		fmt.Fprintf(w, "santad_device_blocks_total %d\n", c.deviceBlocks.Load())

		fmt.Fprint(w, "# HELP santad_remount_failures_total Corrective remounts that failed.\n")
		fmt.Fprint(w, "# TYPE santad_remount_failures_total counter\n")
		fmt.Fprintf(w, "santad_remount_failures_total %d\n", c.remountsFail.Load())

		writeLabeled(w, &c.cacheFlushes,
			"santad_cache_flushes_total", "reason", "Decision cache flushes by reason.")
	})
}

func writeLabeled(w http.ResponseWriter, m *sync.Map, name, label, help string) {
	keys := snapshotKeys(m)
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range keys {
		ptr, _ := m.Load(k)
		n := uint64(0)
		if ptr != nil {
			n = ptr.(*atomic.Uint64).Load()
		}
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, label, escapeLabelValue(k), n)
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
