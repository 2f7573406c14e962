// Package client provides the per-instance façade over the plugin chain and
// cache store: it dispatches operations, exposes results as single values or
// observable sequences, and manages subscription handles.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jbaubree/villus/internal/cache"
	"github.com/jbaubree/villus/internal/metrics"
	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

// Common errors.
var (
	ErrNoFetch         = errors.New("a fetch function is required")
	ErrIsSubscription  = errors.New("subscriptions must be dispatched via Subscribe")
	ErrNotSubscription = errors.New("operation is not a subscription")
)

// Config configures a Client.
type Config struct {
	// Fetch is the terminal network function for queries and mutations.
	// Required unless Plugins is set explicitly.
	Fetch plugin.FetchFunc
	// Forwarder is the subscription transport. Optional; subscriptions fail
	// with plugin.ErrNoForwarder at dispatch time when absent.
	Forwarder plugin.Forwarder
	// Store is the cache store (default: an in-memory store).
	Store cache.Store
	// Plugins overrides the default chain entirely. Ordering is
	// correctness-relevant: the cache plugin must precede the terminal
	// network plugin.
	Plugins []plugin.Plugin
	// Dedup inserts the in-flight deduplication plugin into the default
	// chain between cache and fetch.
	Dedup bool
	// DefaultCachePolicy applies to queries that carry no explicit policy.
	DefaultCachePolicy operation.CachePolicy
	// Logger for client events.
	Logger *slog.Logger
	// Metrics records dispatch activity. Optional.
	Metrics *metrics.Metrics
}

// Client is the long-lived entry point for dispatching operations. It holds
// the cache store and the assembled plugin chain; outstanding subscriptions
// must be cancelled by their owners, not the client.
type Client struct {
	plugins       []plugin.Plugin
	store         cache.Store
	defaultPolicy operation.CachePolicy
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New creates a client. With no explicit Plugins the default chain is
// [logging, cache, (dedup), subscriptions, fetch].
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewMemoryStore()
	}
	if cfg.DefaultCachePolicy != "" {
		if _, err := operation.ParsePolicy(string(cfg.DefaultCachePolicy)); err != nil {
			return nil, err
		}
	}

	plugins := cfg.Plugins
	if plugins == nil {
		if cfg.Fetch == nil {
			return nil, ErrNoFetch
		}
		plugins = []plugin.Plugin{
			plugin.NewLogging(cfg.Logger),
			plugin.NewCache(cfg.Store, cfg.Logger),
		}
		if cfg.Dedup {
			dedup := plugin.NewDedup(cfg.Logger)
			if cfg.Metrics != nil {
				dedup.OnCoalesced = cfg.Metrics.RecordDedupCoalesced
			}
			plugins = append(plugins, dedup)
		}
		plugins = append(plugins,
			plugin.NewSubscriptions(cfg.Forwarder),
			plugin.NewFetch(cfg.Fetch),
		)
	}

	return &Client{
		plugins:       plugins,
		store:         cfg.Store,
		defaultPolicy: cfg.DefaultCachePolicy,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Store returns the client's cache store.
func (c *Client) Store() cache.Store { return c.store }

// Execute dispatches a query or mutation and returns its final result. Under
// cache-and-network the intermediate cached emission is skipped; use Observe
// to receive both.
func (c *Client) Execute(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
	if op.Type == operation.TypeSubscription {
		return nil, ErrIsSubscription
	}

	d := c.newDispatch(op)
	cctx, err := d.run(ctx, nil)
	if err != nil {
		return nil, err
	}

	res := cctx.Result()
	if res == nil {
		return nil, plugin.ErrNoResult
	}
	return res, nil
}

// Observe dispatches a query as an observable sequence. Consumers receive
// one emission for most policies and exactly two under cache-and-network
// with a prior entry: the cached value strictly before the fresh network
// value. The sequence completes after the final emission; chain errors are
// delivered through the observer's Error callback.
func (c *Client) Observe(ctx context.Context, op *operation.Operation) (plugin.Source, error) {
	if op.Type == operation.TypeSubscription {
		return nil, ErrIsSubscription
	}
	return &querySource{client: c, ctx: ctx, op: op}, nil
}

// Subscribe dispatches a subscription operation through the chain to the
// forwarder and folds incoming messages with the reducer. The returned
// handle controls pause/resume and carries the aggregated value; it must be
// unsubscribed by its owner.
func (c *Client) Subscribe(ctx context.Context, op *operation.Operation, reduce Reducer, opts ...SubscribeOption) (*Subscription, error) {
	if op.Type != operation.TypeSubscription {
		return nil, ErrNotSubscription
	}
	if reduce == nil {
		reduce = func(_ interface{}, msg *operation.Result) interface{} { return msg }
	}

	d := c.newDispatch(op)
	cctx, err := d.run(ctx, nil)
	if err != nil {
		return nil, err
	}

	src := cctx.Stream()
	if src == nil {
		return nil, plugin.ErrNoForwarder
	}
	d.setState(stateStreaming)

	sub := newSubscription(d.op, reduce, cctx, c.logger, c.metrics)
	for _, opt := range opts {
		opt(sub)
	}
	sub.attach(src)

	if c.metrics != nil {
		c.metrics.SubscriptionStarted()
	}
	return sub, nil
}

// ClearTags evicts every cached entry whose tag set intersects the given
// tags. This is the invalidation hook mutation-completion handlers use.
func (c *Client) ClearTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheInvalidation()
	}
	c.logger.Debug("clearing cache tags", "tags", tags)
	return c.store.ClearTags(ctx, tags)
}

// ClearCache removes every cached entry.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// withDefaults resolves the client-level default cache policy onto queries
// that carry none. The clone keeps the original immutable; the key is
// unaffected since policy never enters the fingerprint.
func (c *Client) withDefaults(op *operation.Operation) *operation.Operation {
	if op.Type != operation.TypeQuery || op.CachePolicy != "" || c.defaultPolicy == "" {
		return op
	}
	clone := *op
	clone.CachePolicy = c.defaultPolicy
	return &clone
}

// querySource runs one dispatch per Subscribe call. Cancellation is
// cooperative: an unsubscribed consumer stops receiving emissions, while the
// dispatch itself runs to completion so late results never corrupt shared
// state.
type querySource struct {
	client *Client
	ctx    context.Context
	op     *operation.Operation
}

func (s *querySource) Subscribe(o plugin.Observer) plugin.Unsubscriber {
	done := make(chan struct{})
	cancelled := func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	go func() {
		emit := func(res *operation.Result) {
			if !cancelled() && o.Next != nil {
				o.Next(res)
			}
		}

		d := s.client.newDispatch(s.op)
		cctx, err := d.run(s.ctx, emit)
		if cancelled() {
			return
		}
		if err != nil {
			if o.Error != nil {
				o.Error(err)
			}
			return
		}
		if res := cctx.Result(); res != nil {
			emit(res)
		} else {
			if o.Error != nil {
				o.Error(plugin.ErrNoResult)
			}
			return
		}
		if !cancelled() && o.Complete != nil {
			o.Complete()
		}
	}()

	var closed bool
	return func() {
		if !closed {
			closed = true
			close(done)
		}
	}
}

// String renders the client configuration for debug logging.
func (c *Client) String() string {
	names := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		names[i] = p.Name()
	}
	return fmt.Sprintf("client{plugins: %v, default_policy: %q}", names, c.defaultPolicy)
}
