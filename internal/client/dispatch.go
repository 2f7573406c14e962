package client

import (
	"context"
	"time"

	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

// state is the per-dispatch lifecycle:
//
//	pending -> {cached, inFlight} -> {resolved, errored}
//
// Subscriptions instead reach streaming, a non-terminal state that re-enters
// resolved per incoming message until explicitly unsubscribed.
type state int32

const (
	statePending state = iota
	stateCached
	stateInFlight
	stateStreaming
	stateResolved
	stateErrored
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateCached:
		return "cached"
	case stateInFlight:
		return "in_flight"
	case stateStreaming:
		return "streaming"
	case stateResolved:
		return "resolved"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// dispatch drives one operation through the plugin chain.
type dispatch struct {
	client *Client
	op     *operation.Operation
	state  state
	start  time.Time
}

func (c *Client) newDispatch(op *operation.Operation) *dispatch {
	return &dispatch{
		client: c,
		op:     c.withDefaults(op),
		state:  statePending,
		start:  time.Now(),
	}
}

func (d *dispatch) setState(next state) {
	if d.state == next {
		return
	}
	d.client.logger.Debug("dispatch state",
		"key", d.op.Key,
		"type", d.op.Type,
		"from", d.state,
		"to", next,
	)
	d.state = next
}

// run executes the chain. emit receives intermediate (cached) emissions;
// it may be nil. Metrics and state transitions are recorded here so every
// dispatch path (Execute, Observe, Subscribe) shares them.
func (d *dispatch) run(ctx context.Context, emit func(*operation.Result)) (*plugin.Context, error) {
	c := d.client
	policy := d.op.EffectivePolicy()

	if c.metrics != nil {
		c.metrics.OperationStarted()
		defer c.metrics.OperationFinished()
	}

	sawCached := false
	wrappedEmit := func(res *operation.Result) {
		sawCached = true
		d.setState(stateCached)
		if emit != nil {
			emit(res)
		}
	}

	cctx := plugin.NewContext(ctx, d.op, wrappedEmit)
	err := plugin.Run(cctx, c.plugins)

	// A dispatch served entirely by the cache layer never enters in_flight.
	switch {
	case err != nil:
		d.setState(stateInFlight)
		d.setState(stateErrored)
	case cctx.Stream() != nil:
		d.setState(stateInFlight)
		// Caller moves the dispatch to streaming once it attaches.
	case cctx.ServedFromCache() || policy == operation.CacheOnly:
		d.setState(stateCached)
		d.setState(stateResolved)
	default:
		d.setState(stateInFlight)
		d.setState(stateResolved)
	}

	if c.metrics != nil {
		c.metrics.RecordOperation(string(d.op.Type), string(policy), time.Since(d.start), err)
		d.recordCacheOutcome(policy, cctx, sawCached)
	}

	return cctx, err
}

// recordCacheOutcome classifies the dispatch as a cache hit or miss for the
// policies that read the cache.
func (d *dispatch) recordCacheOutcome(policy operation.CachePolicy, cctx *plugin.Context, sawCached bool) {
	m := d.client.metrics
	switch policy {
	case operation.CacheFirst, operation.CacheOnly:
		if cctx.ServedFromCache() {
			m.RecordCacheHit(string(policy))
		} else {
			m.RecordCacheMiss(string(policy))
		}
	case operation.CacheAndNetwork:
		if sawCached {
			m.RecordCacheHit(string(policy))
		} else {
			m.RecordCacheMiss(string(policy))
		}
	}
}
