package client

import (
	"log/slog"
	"sync"

	"github.com/jbaubree/villus/internal/metrics"
	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

// Reducer folds each incoming subscription message with the previous
// aggregated value. The initial previous value is nil (the absence-of-data
// sentinel). Reducers must be pure; they are invoked synchronously per
// message in arrival order. The core never deduplicates messages — a
// duplicate delivery produces a second reducer invocation.
type Reducer func(prev interface{}, msg *operation.Result) interface{}

// SubscribeOption customizes a subscription handle.
type SubscribeOption func(*Subscription)

// WithUpdateFunc registers a callback invoked with the aggregated value
// after each reducer application.
func WithUpdateFunc(fn func(interface{})) SubscribeOption {
	return func(s *Subscription) { s.onUpdate = fn }
}

// Subscription is the caller's handle on a streaming dispatch. Pausing
// discards incoming values before the reducer without touching the
// underlying transport; only Unsubscribe tears the stream down. Unsubscribe
// is idempotent and stops both reducer invocations and the cache writes tied
// to this subscription.
type Subscription struct {
	mu sync.Mutex

	op       *operation.Operation
	reduce   Reducer
	cctx     *plugin.Context
	onUpdate func(interface{})

	current      interface{}
	paused       bool
	completed    bool
	unsubscribed bool
	lastErr      error

	unsub   plugin.Unsubscriber
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newSubscription(op *operation.Operation, reduce Reducer, cctx *plugin.Context, logger *slog.Logger, m *metrics.Metrics) *Subscription {
	return &Subscription{
		op:      op,
		reduce:  reduce,
		cctx:    cctx,
		logger:  logger,
		metrics: m,
	}
}

// attach wires the handle to the forwarder stream.
func (s *Subscription) attach(src plugin.Source) {
	s.unsub = src.Subscribe(plugin.Observer{
		Next:     s.deliver,
		Error:    s.deliverError,
		Complete: s.complete,
	})
}

// deliver processes one incoming message: chain observers first (cache
// writes), then the reducer unless paused.
func (s *Subscription) deliver(res *operation.Result) {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return
	}

	s.cctx.NotifyObservers(res)
	if s.metrics != nil {
		s.metrics.RecordSubscriptionMessage()
	}

	if s.paused {
		s.mu.Unlock()
		return
	}

	s.current = s.reduce(s.current, res)
	cb, cur := s.onUpdate, s.current
	s.mu.Unlock()

	if cb != nil {
		cb(cur)
	}
}

// deliverError surfaces a stream error as one failed result. The stream is
// not terminated; the forwarder decides whether to close it.
func (s *Subscription) deliverError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Debug("subscription stream error", "key", s.op.Key, "error", err)
	s.deliver(&operation.Result{
		Errors: []operation.Error{{Message: err.Error()}},
	})
}

func (s *Subscription) complete() {
	s.mu.Lock()
	already := s.completed
	s.completed = true
	s.mu.Unlock()

	if !already {
		s.logger.Debug("subscription completed", "key", s.op.Key)
	}
}

// Current returns the aggregated value, nil until the first reduced message.
func (s *Subscription) Current() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// LastError returns the most recent stream error, if any.
func (s *Subscription) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pause discards subsequent messages before the reducer. The underlying
// transport stays subscribed.
func (s *Subscription) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables reducer invocations for subsequent messages.
func (s *Subscription) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Paused reports whether the handle is currently discarding messages.
func (s *Subscription) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Completed reports whether the forwarder closed the stream.
func (s *Subscription) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Unsubscribe cancels the stream. It is idempotent: the first call tears
// down the transport and stops reducer invocations and cache writes; later
// calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return
	}
	s.unsubscribed = true
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if s.metrics != nil {
		s.metrics.SubscriptionEnded()
	}
	s.logger.Debug("unsubscribed", "key", s.op.Key)
}
