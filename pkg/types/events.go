package types

// EventKind identifies the kind of kernel-delivered event.
type EventKind string

// Auth events require an allow/deny response before the message deadline.
const (
	EventAuthExec    EventKind = "auth_exec"
	EventAuthMount   EventKind = "auth_mount"
	EventAuthRemount EventKind = "auth_remount"
)

// Notify events are informational; no response is required.
const (
	EventNotifyUnmount EventKind = "notify_unmount"
)

// IsAuth reports whether events of this kind require an auth response.
func (k EventKind) IsAuth() bool {
	switch k {
	case EventAuthExec, EventAuthMount, EventAuthRemount:
		return true
	default:
		return false
	}
}

// AllEventKinds lists every event kind the agent understands. Config
// validation rejects kind names outside this set.
var AllEventKinds = []EventKind{
	EventAuthExec, EventAuthMount, EventAuthRemount,
	EventNotifyUnmount,
}
