// Package plugin provides the ordered middleware chain that turns an
// operation into a result. Each plugin observes or mutates the in-flight
// operation, may short-circuit with a result of its own, or delegates to the
// next plugin; the terminal network or subscription plugin is conventionally
// placed last. After a result is produced anywhere in the chain, every
// registered result observer is notified in chain order, regardless of which
// plugin produced it.
package plugin

import (
	"context"
	"errors"

	"github.com/jbaubree/villus/internal/operation"
)

// Common errors.
var (
	ErrNoForwarder = errors.New("no subscription forwarder registered")
	ErrNoResult    = errors.New("no plugin produced a result")
)

// Plugin is a named chain handler. Handle either produces a result through
// the context (short-circuit) or calls next exactly once to delegate.
// Calling next more than once is a no-op: the first call wins.
type Plugin interface {
	Name() string
	Handle(c *Context, next Next) error
}

// Next continues execution with the remaining plugins in the chain.
type Next func() error

// FetchFunc is the terminal network contract: it resolves a query or
// mutation into a result, or fails with a transport-level error. A response
// carrying a GraphQL errors array is a successful fetch, not an error.
type FetchFunc func(ctx context.Context, op *operation.Operation) (*operation.Result, error)

// Forwarder is the subscription transport contract: it turns a subscription
// operation into a push-based result stream.
type Forwarder func(ctx context.Context, op *operation.Operation) (Source, error)

// Context is the per-dispatch state threaded through the chain. It is not
// safe for concurrent use; the chain executes plugins sequentially on one
// goroutine.
type Context struct {
	ctx context.Context
	op  *operation.Operation

	result    *operation.Result
	terminal  bool
	fromCache bool
	stream    Source
	emit      func(*operation.Result)
	observers []resultObserver
}

type resultObserver func(*operation.Result)

// NewContext builds a chain context for one operation. emit, when non-nil,
// receives intermediate (non-terminal) results such as the cached emission
// under cache-and-network.
func NewContext(ctx context.Context, op *operation.Operation, emit func(*operation.Result)) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, op: op, emit: emit}
}

// Ctx returns the dispatch context.
func (c *Context) Ctx() context.Context { return c.ctx }

// Operation returns the in-flight operation.
func (c *Context) Operation() *operation.Operation { return c.op }

// Result returns the result produced so far, or nil.
func (c *Context) Result() *operation.Result { return c.result }

// ServedFromCache reports whether the terminal result was served from cache.
func (c *Context) ServedFromCache() bool { return c.fromCache }

// Stream returns the subscription source installed by a terminal forwarder
// plugin, or nil for queries and mutations.
func (c *Context) Stream() Source { return c.stream }

// UseResult supplies a result. When terminal is true the result is final and
// the supplying plugin must not call next. When terminal is false the result
// is emitted immediately as an intermediate value (the cached emission under
// cache-and-network) and the chain is expected to continue to a terminal
// plugin for the fresh result.
func (c *Context) UseResult(res *operation.Result, terminal bool) {
	if terminal {
		c.result = res
		c.terminal = true
		return
	}
	if c.emit != nil {
		c.emit(res)
	}
}

// MarkFromCache flags the terminal result as cache-served so observers that
// write to the cache can skip re-writing it.
func (c *Context) MarkFromCache() { c.fromCache = true }

// UseStream installs a push stream as the outcome of a subscription
// dispatch. Like a terminal result, the installing plugin must not call next.
func (c *Context) UseStream(src Source) {
	c.stream = src
	c.terminal = true
}

// OnResult registers an observer for the eventual result. Observers run in
// chain registration order after a result is produced anywhere in the chain,
// and once per message for subscription streams.
func (c *Context) OnResult(fn func(*operation.Result)) {
	c.observers = append(c.observers, resultObserver(fn))
}

// NotifyObservers delivers a result to every registered observer in order.
// The dispatcher calls this once per terminal result and once per incoming
// subscription message.
func (c *Context) NotifyObservers(res *operation.Result) {
	for _, fn := range c.observers {
		fn(res)
	}
}

// Run executes the chain against the context. Execution is an index-based
// cursor over the ordered plugins: each plugin's next closure advances the
// cursor, and a second call to the same next is ignored (first-call-wins).
// A plugin error aborts the remainder of the forward chain and propagates.
func Run(c *Context, plugins []Plugin) error {
	var exec func(i int) error
	exec = func(i int) error {
		if i >= len(plugins) {
			return nil
		}
		called := false
		next := func() error {
			if called {
				return nil
			}
			called = true
			return exec(i + 1)
		}
		return plugins[i].Handle(c, next)
	}

	if err := exec(0); err != nil {
		return err
	}

	if c.result != nil && c.stream == nil {
		c.NotifyObservers(c.result)
	}
	return nil
}
