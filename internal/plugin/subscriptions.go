package plugin

import (
	"github.com/jbaubree/villus/internal/operation"
)

// Subscriptions is the terminal plugin for subscription operations: it hands
// the operation to the registered forwarder and installs the resulting push
// stream on the context. It never calls next for subscriptions and fails
// fast when no forwarder was registered. Queries and mutations pass through
// untouched, so the plugin can sit in a shared chain.
type Subscriptions struct {
	forwarder Forwarder
}

// NewSubscriptions creates the forwarding plugin.
func NewSubscriptions(forwarder Forwarder) *Subscriptions {
	return &Subscriptions{forwarder: forwarder}
}

// Name implements Plugin.
func (p *Subscriptions) Name() string { return "subscriptions" }

// Handle implements Plugin.
func (p *Subscriptions) Handle(c *Context, next Next) error {
	if c.Operation().Type != operation.TypeSubscription {
		return next()
	}

	if p.forwarder == nil {
		return ErrNoForwarder
	}

	src, err := p.forwarder(c.Ctx(), c.Operation())
	if err != nil {
		return err
	}

	c.UseStream(src)
	return nil
}
