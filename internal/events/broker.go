package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Broker delivers DeviceBlockEvents to subscribers. Publishing never blocks
// the event-handling path: slow subscribers drop events.
type Broker struct {
	mu      sync.RWMutex
	subs    map[chan DeviceBlockEvent]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan DeviceBlockEvent]struct{})}
}

func (b *Broker) Subscribe(buf int) chan DeviceBlockEvent {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan DeviceBlockEvent, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(ch chan DeviceBlockEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Publish(ev DeviceBlockEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			count := b.dropped.Add(1)
			if count == 1 || count%100 == 0 {
				slog.Warn("events: dropped device-block notification",
					"mount_to", ev.MountTo,
					"total_dropped", count,
				)
			}
		}
	}
}

// DroppedCount returns the number of notifications dropped on slow
// subscribers.
func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}
