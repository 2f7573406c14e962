package plugin

import (
	"errors"
	"fmt"
)

// ErrNoFetcher indicates the fetch plugin was built without a fetch function.
var ErrNoFetcher = errors.New("no fetch function configured")

// Fetch is the terminal network plugin for queries and mutations. It never
// calls next: control reaches it only when no earlier plugin short-circuited.
// A transport-level failure propagates as an error; a response carrying a
// GraphQL errors array resolves as a normal result.
type Fetch struct {
	fn FetchFunc
}

// NewFetch creates the terminal network plugin.
func NewFetch(fn FetchFunc) *Fetch {
	return &Fetch{fn: fn}
}

// Name implements Plugin.
func (p *Fetch) Name() string { return "fetch" }

// Handle implements Plugin.
func (p *Fetch) Handle(c *Context, _ Next) error {
	if p.fn == nil {
		return ErrNoFetcher
	}

	res, err := p.fn(c.Ctx(), c.Operation())
	if err != nil {
		return fmt.Errorf("fetch %s: %w", c.Operation().Key, err)
	}

	c.UseResult(res, true)
	return nil
}
