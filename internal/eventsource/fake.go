package eventsource

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubalaguna/santa/pkg/types"
)

// Fake is an in-memory Source for tests. It records every subscribe,
// respond, retain, and release so tests can assert on response content and
// on refcount balance across a handled event's lifetime.
type Fake struct {
	mu          sync.Mutex
	subscribed  []types.EventKind
	refs        map[string]int
	overRelease int
	responses   []FakeResponse
	cacheClears int

	// FailRespond makes RespondAuth report failure without recording,
	// simulating a kernel API error.
	FailRespond bool
	// FailSubscribe makes Subscribe report failure.
	FailSubscribe bool

	handler Handler
}

// FakeResponse is one recorded RespondAuth call.
type FakeResponse struct {
	MsgID     string
	Kind      types.EventKind
	Verdict   types.Verdict
	Cacheable bool
}

func NewFake() *Fake {
	return &Fake{refs: make(map[string]int)}
}

// SetHandler registers the handler Deliver dispatches to.
func (f *Fake) SetHandler(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Deliver hands a message to the registered handler, synchronously, the way
// the kernel runs one dispatch per in-flight event.
func (f *Fake) Deliver(ctx context.Context, msg *Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleMessage(ctx, msg)
	}
}

func (f *Fake) Subscribe(kinds ...types.EventKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSubscribe {
		return false
	}
	f.subscribed = append(f.subscribed, kinds...)
	return true
}

func (f *Fake) RespondAuth(msg *Message, verdict types.Verdict, cacheable bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRespond {
		return false
	}
	f.responses = append(f.responses, FakeResponse{
		MsgID:     msg.ID,
		Kind:      msg.Kind,
		Verdict:   verdict,
		Cacheable: cacheable,
	})
	return true
}

func (f *Fake) Retain(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[msg.ID]++
}

func (f *Fake) Release(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[msg.ID] <= 0 {
		f.overRelease++
		return
	}
	f.refs[msg.ID]--
}

func (f *Fake) ClearCache() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheClears++
	return true
}

// Responses returns a copy of every recorded auth response.
func (f *Fake) Responses() []FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeResponse, len(f.responses))
	copy(out, f.responses)
	return out
}

// Subscribed returns every event kind passed to Subscribe.
func (f *Fake) Subscribed() []types.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.EventKind, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

// LiveRefs returns the number of outstanding retains across all messages.
// Zero means every retain was balanced by a release.
func (f *Fake) LiveRefs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.refs {
		n += c
	}
	return n
}

// OverReleases counts Release calls that had no matching Retain.
func (f *Fake) OverReleases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overRelease
}

// CacheClears counts ClearCache calls.
func (f *Fake) CacheClears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cacheClears
}

// NewMountMessage builds a mount-class message with the given deadline,
// assigning a fresh ID.
func NewMountMessage(kind types.EventKind, ev MountEvent, deadline time.Time) *Message {
	return &Message{
		ID:       uuid.NewString(),
		Kind:     kind,
		Mount:    &ev,
		Arrived:  time.Now(),
		Deadline: deadline,
	}
}

// NewExecMessage builds a process-exec auth message.
func NewExecMessage(ev ExecEvent, deadline time.Time) *Message {
	return &Message{
		ID:       uuid.NewString(),
		Kind:     types.EventAuthExec,
		Exec:     &ev,
		Arrived:  time.Now(),
		Deadline: deadline,
	}
}
