package eventsource

import (
	"sync/atomic"
	"time"

	"github.com/kubalaguna/santa/pkg/types"
)

// MountEvent is the payload of mount-class events. Fields are a snapshot of
// the kernel's view at delivery time and must not be mutated by handlers.
type MountEvent struct {
	// Source is the device node backing the mount, e.g. "/dev/disk2s1".
	Source string
	// Target is the mount point, e.g. "/Volumes/UNTITLED".
	Target string
	// FSType is the filesystem type, e.g. "msdos", "apfs".
	FSType string
	// Flags holds the MNT_* flags of the mount as delivered.
	Flags uint32
}

// ExecEvent is the payload of process-exec events.
type ExecEvent struct {
	Path string
	PID  int32
	UID  uint32
}

// Message wraps one kernel-delivered event. The kernel owns the underlying
// event buffer; a Message is a reference-counted view of it. Handlers must
// Retain the message through the EventSource for the duration of any
// asynchronous use and Release it exactly once when done.
type Message struct {
	ID   string
	Kind types.EventKind

	// Exactly one of the payload fields below is set, according to Kind.
	Mount *MountEvent
	Exec  *ExecEvent

	// Arrived is when the event source handed the event to us.
	Arrived time.Time
	// Deadline is the instant by which an auth response must be sent.
	// The kernel terminates the agent if it is missed.
	Deadline time.Time

	responded atomic.Bool
}

// Headroom returns the time remaining before the message deadline.
func (m *Message) Headroom(now time.Time) time.Duration {
	return m.Deadline.Sub(now)
}

// MarkResponded flips the response-sent flag. It returns false if a response
// was already sent; callers must not respond again in that case.
func (m *Message) MarkResponded() bool {
	return m.responded.CompareAndSwap(false, true)
}

// Responded reports whether an auth response has been sent for this message.
func (m *Message) Responded() bool {
	return m.responded.Load()
}
