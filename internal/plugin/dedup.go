package plugin

import (
	"log/slog"
	"sync"

	"github.com/jbaubree/villus/internal/operation"
)

// Dedup collapses concurrent identical query fetches into a single network
// call shared by all callers, keyed by the operation fingerprint. The core
// does not mandate this behavior; Dedup is an opt-in quality-of-service
// plugin, ordered between the cache plugin and the terminal network plugin.
// Mutations and subscriptions pass through untouched.
//
// A coalesced caller receives the same result value as the flight owner;
// results are treated as immutable after production. Sequential executions
// are unaffected: a flight exists only while its network call is in progress.
type Dedup struct {
	mu      sync.Mutex
	flights map[string]*flight
	logger  *slog.Logger

	// OnCoalesced, when set, runs once per caller that joined an existing
	// flight instead of issuing its own network call.
	OnCoalesced func()
}

type flight struct {
	done    chan struct{}
	result  *operation.Result
	err     error
	waiters int
}

// NewDedup creates the deduplication plugin.
func NewDedup(logger *slog.Logger) *Dedup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedup{
		flights: make(map[string]*flight),
		logger:  logger,
	}
}

// Name implements Plugin.
func (p *Dedup) Name() string { return "dedup" }

// Handle implements Plugin.
func (p *Dedup) Handle(c *Context, next Next) error {
	op := c.Operation()
	if op.Type != operation.TypeQuery {
		return next()
	}

	p.mu.Lock()
	if f, ok := p.flights[op.Key]; ok {
		f.waiters++
		p.mu.Unlock()

		if p.OnCoalesced != nil {
			p.OnCoalesced()
		}

		select {
		case <-f.done:
			if f.err != nil {
				return f.err
			}
			c.UseResult(f.result, true)
			return nil
		case <-c.Ctx().Done():
			return c.Ctx().Err()
		}
	}

	f := &flight{done: make(chan struct{}), waiters: 1}
	p.flights[op.Key] = f
	p.mu.Unlock()

	err := next()
	f.result = c.Result()
	f.err = err
	close(f.done)

	p.mu.Lock()
	delete(p.flights, op.Key)
	p.mu.Unlock()

	if f.waiters > 1 {
		p.logger.Debug("coalesced identical queries", "key", op.Key, "waiters", f.waiters)
	}

	return err
}

// InFlight returns the number of active flights.
func (p *Dedup) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.flights)
}
