// Package operation defines the immutable description of a single GraphQL
// request together with its derived identity: normalized query text,
// canonicalized variables, and a content-derived fingerprint used as the
// cache and deduplication key.
package operation

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrEmptyQuery       = errors.New("empty GraphQL query")
	ErrInvalidQuery     = errors.New("invalid GraphQL query")
	ErrInvalidType      = errors.New("invalid operation type")
	ErrInvalidPolicy    = errors.New("invalid cache policy")
	ErrInvalidVariables = errors.New("variables are not serializable")
)

// Type identifies the kind of GraphQL operation.
type Type string

const (
	TypeQuery        Type = "query"
	TypeMutation     Type = "mutation"
	TypeSubscription Type = "subscription"
)

// CachePolicy governs whether a cached result is used vs. refreshed from
// the network. The string values are wire-visible in configuration.
type CachePolicy string

const (
	CacheFirst      CachePolicy = "cache-first"
	NetworkOnly     CachePolicy = "network-only"
	CacheAndNetwork CachePolicy = "cache-and-network"
	CacheOnly       CachePolicy = "cache-only"
)

// ParsePolicy parses a cache policy string as found in configuration.
func ParsePolicy(s string) (CachePolicy, error) {
	switch CachePolicy(s) {
	case CacheFirst, NetworkOnly, CacheAndNetwork, CacheOnly:
		return CachePolicy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Operation describes one GraphQL request. It is constructed once per
// execution request and must be treated as immutable for the duration of a
// dispatch; re-executions build a fresh Operation even when the key is
// identical.
type Operation struct {
	// Key is the content-derived fingerprint over the normalized query text
	// and canonically serialized variables. Policy and tags never affect it,
	// so the same logical query under different policies shares a cache slot.
	Key string

	// Type is the operation kind.
	Type Type

	// Query is the normalized operation text (comments stripped, whitespace
	// collapsed).
	Query string

	// Variables maps variable names to values. Order is irrelevant to
	// identity; the fingerprint sorts keys.
	Variables map[string]interface{}

	// CachePolicy controls cache interaction for queries. Mutations and
	// subscriptions always behave as network-only regardless of this value.
	CachePolicy CachePolicy

	// Tags group this operation for bulk cache invalidation.
	Tags []string
}

// Option customizes operation construction.
type Option func(*Operation)

// WithCachePolicy overrides the default cache policy.
func WithCachePolicy(p CachePolicy) Option {
	return func(o *Operation) { o.CachePolicy = p }
}

// WithTags attaches invalidation tags to the operation.
func WithTags(tags ...string) Option {
	return func(o *Operation) { o.Tags = append(o.Tags, tags...) }
}

// New builds an Operation from a raw query. The query is normalized before
// validation; an empty or structurally broken query fails with ErrEmptyQuery
// or ErrInvalidQuery. CachePolicy is left empty unless set through an
// option, so a client-level default can apply; EffectivePolicy resolves the
// per-type default (cache-first for queries, network-only otherwise).
func New(typ Type, query string, variables map[string]interface{}, opts ...Option) (*Operation, error) {
	switch typ {
	case TypeQuery, TypeMutation, TypeSubscription:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	normalized := Normalize(query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if err := validateShape(normalized); err != nil {
		return nil, err
	}

	op := &Operation{
		Type:      typ,
		Query:     normalized,
		Variables: variables,
	}
	for _, opt := range opts {
		opt(op)
	}

	key, err := Fingerprint(normalized, variables)
	if err != nil {
		return nil, err
	}
	op.Key = key

	return op, nil
}

// EffectivePolicy returns the policy actually applied at dispatch time.
// Mutations and subscriptions are forced to network-only.
func (o *Operation) EffectivePolicy() CachePolicy {
	if o.Type != TypeQuery {
		return NetworkOnly
	}
	if o.CachePolicy == "" {
		return CacheFirst
	}
	return o.CachePolicy
}

// validateShape performs a light structural check on a normalized query:
// it must contain at least one selection set with balanced braces. Braces
// inside string literals are content, not structure.
func validateShape(query string) error {
	var t stringTracker
	depth := 0
	seen := false
	for _, r := range query {
		if t.literal(r) {
			continue
		}
		switch r {
		case '{':
			depth++
			seen = true
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced braces", ErrInvalidQuery)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced braces", ErrInvalidQuery)
	}
	if !seen {
		return fmt.Errorf("%w: missing selection set", ErrInvalidQuery)
	}
	return nil
}
