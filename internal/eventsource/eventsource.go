// Package eventsource is the capability boundary over the OS event-delivery
// facility. Policy code never touches the kernel API directly; it consumes
// the Source interface, which a test double can stand in for.
package eventsource

import (
	"context"
	"errors"

	"github.com/kubalaguna/santa/pkg/types"
)

// Handler processes one delivered message. The source runs one dispatch per
// in-flight kernel event; implementations must not block on unrelated I/O
// before responding.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message)
}

// Source is the event-delivery capability. All methods that talk to the
// kernel report failure as a boolean; the agent degrades rather than
// crashing when they fail.
type Source interface {
	// Subscribe registers interest in the given event kinds.
	Subscribe(kinds ...types.EventKind) bool

	// RespondAuth sends the verdict for an auth-class message. cacheable
	// tells the kernel whether it may reuse the verdict without
	// redelivering. Exactly one response per auth message.
	RespondAuth(msg *Message, verdict types.Verdict, cacheable bool) bool

	// Retain increments the kernel-side refcount on the message buffer.
	Retain(msg *Message)

	// Release decrements the refcount; the last release lets the kernel
	// reclaim the buffer.
	Release(msg *Message)

	// ClearCache drops any kernel-side authorization cache.
	ClearCache() bool
}

// HandlerRegistrar is implemented by sources that deliver messages
// in-process and need a handler to dispatch to.
type HandlerRegistrar interface {
	SetHandler(Handler)
}

// ErrUnavailable is returned by NewPlatform when no kernel event-delivery
// facility is reachable on this host.
var ErrUnavailable = errors.New("eventsource: kernel event delivery unavailable on this platform")
