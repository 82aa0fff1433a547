// Package dispatch carries the shared mechanics of event handlers: deadline
// budgeting, message retain/release discipline, the single-response
// guarantee, and per-event metrics reporting.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kubalaguna/santa/internal/eventsource"
	"github.com/kubalaguna/santa/pkg/types"
)

// MetricsFunc is invoked once per handled event with its disposition.
type MetricsFunc func(kind types.EventKind, d types.Disposition)

// Options configures a handler base.
type Options struct {
	Metrics MetricsFunc
	Logger  *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// FastPathDeny lists event kinds whose fast-path default is deny
	// instead of allow.
	FastPathDeny []types.EventKind
}

// Base is embedded by event handlers. It owns the response path: handlers go
// through Respond/RespondDefault so a message can never be answered twice,
// and through Process so retains and releases always balance.
type Base struct {
	source eventsource.Source
	budget DeadlineBudget
	opts   Options

	fastPathDeny map[types.EventKind]bool
	wg           sync.WaitGroup
}

func NewBase(source eventsource.Source, budget DeadlineBudget, opts Options) *Base {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	deny := make(map[types.EventKind]bool, len(opts.FastPathDeny))
	for _, k := range opts.FastPathDeny {
		deny[k] = true
	}
	return &Base{source: source, budget: budget, opts: opts, fastPathDeny: deny}
}

// Source returns the event source the base responds through.
func (b *Base) Source() eventsource.Source { return b.source }

// Budget returns the deadline budget.
func (b *Base) Budget() DeadlineBudget { return b.budget }

// Now returns the handler clock.
func (b *Base) Now() time.Time { return b.opts.Now() }

// Logger returns the handler logger.
func (b *Base) Logger() *slog.Logger { return b.opts.Logger }

// Process runs fn for one message with the full retain/release discipline.
// The message is retained before fn and released after it returns, and the
// disposition fn reports is forwarded to the metrics collaborator. If fn
// leaves an auth message unanswered, the fast-path default is sent; never
// responding at all is fatal to the whole agent.
func (b *Base) Process(ctx context.Context, msg *eventsource.Message, fn func(context.Context, *eventsource.Message) types.Disposition) {
	b.source.Retain(msg)
	defer b.source.Release(msg)

	d := fn(ctx, msg)

	if msg.Kind.IsAuth() && !msg.Responded() {
		b.opts.Logger.Error("handler returned without responding, sending default",
			"kind", msg.Kind,
			"msg_id", msg.ID,
		)
		b.RespondDefault(msg)
		d = types.DispositionError
	}

	if b.opts.Metrics != nil {
		b.opts.Metrics(msg.Kind, d)
	}
}

// Respond sends the verdict for an auth message. It returns false if a
// response was already sent or if the kernel call failed.
func (b *Base) Respond(msg *eventsource.Message, verdict types.Verdict, cacheable bool) bool {
	if !msg.MarkResponded() {
		b.opts.Logger.Error("duplicate auth response suppressed",
			"kind", msg.Kind,
			"msg_id", msg.ID,
		)
		return false
	}
	if !b.source.RespondAuth(msg, verdict, cacheable) {
		b.opts.Logger.Error("kernel rejected auth response",
			"kind", msg.Kind,
			"msg_id", msg.ID,
			"verdict", verdict,
		)
		return false
	}
	return true
}

// FastPathVerdict returns the cheapest safe verdict for the event kind.
// Allow unless the kind is configured to fail closed: denying with no time
// for a correct decision risks false-positive blocking.
func (b *Base) FastPathVerdict(kind types.EventKind) types.Verdict {
	if b.fastPathDeny[kind] {
		return types.VerdictDeny
	}
	return types.VerdictAllow
}

// RespondDefault sends the fast-path verdict, never cacheable.
func (b *Base) RespondDefault(msg *eventsource.Message) bool {
	return b.Respond(msg, b.FastPathVerdict(msg.Kind), false)
}

// Go schedules a side effect off the response path.
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until all scheduled side effects have completed.
func (b *Base) Wait() {
	b.wg.Wait()
}
