package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jbaubree/villus/internal/cache"
	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

func mustOp(t *testing.T, typ operation.Type, query string, opts ...operation.Option) *operation.Operation {
	t.Helper()
	op, err := operation.New(typ, query, nil, opts...)
	if err != nil {
		t.Fatalf("building operation: %v", err)
	}
	return op
}

// newTestClient builds a client over an in-memory store and a counting fetch.
func newTestClient(t *testing.T, cfg Config) (*Client, *int) {
	t.Helper()
	calls := 0
	if cfg.Fetch == nil {
		cfg.Fetch = func(_ context.Context, _ *operation.Operation) (*operation.Result, error) {
			calls++
			return &operation.Result{Data: "fresh"}, nil
		}
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return c, &calls
}

func TestNewRequiresFetch(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoFetch) {
		t.Errorf("expected ErrNoFetch, got %v", err)
	}
}

func TestNewValidatesDefaultPolicy(t *testing.T) {
	_, err := New(Config{
		Fetch:              func(context.Context, *operation.Operation) (*operation.Result, error) { return nil, nil },
		DefaultCachePolicy: operation.CachePolicy("cache-last"),
	})
	if !errors.Is(err, operation.ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestExecuteRejectsSubscriptions(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeSubscription, `subscription { ticks }`)

	if _, err := c.Execute(context.Background(), op); !errors.Is(err, ErrIsSubscription) {
		t.Errorf("expected ErrIsSubscription, got %v", err)
	}
}

func TestExecuteCacheFirstServedFromCacheOnRepeat(t *testing.T) {
	c, calls := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeQuery, `{ posts }`)

	first, err := c.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *calls != 1 {
		t.Errorf("expected one network call across two executions, got %d", *calls)
	}
	if first.Data != "fresh" || second.Data != "fresh" {
		t.Errorf("unexpected results: %v, %v", first.Data, second.Data)
	}
}

func TestExecuteDefaultPolicyAppliesWithoutMutatingOperation(t *testing.T) {
	c, calls := newTestClient(t, Config{DefaultCachePolicy: operation.NetworkOnly})
	op := mustOp(t, operation.TypeQuery, `{ posts }`)

	c.Execute(context.Background(), op)
	c.Execute(context.Background(), op)

	if *calls != 2 {
		t.Errorf("expected the client default to force the network each time, got %d calls", *calls)
	}
	if op.CachePolicy != "" {
		t.Errorf("expected the caller's operation untouched, got policy %q", op.CachePolicy)
	}
}

func TestExecuteExplicitPolicyBeatsClientDefault(t *testing.T) {
	c, calls := newTestClient(t, Config{DefaultCachePolicy: operation.NetworkOnly})
	op := mustOp(t, operation.TypeQuery, `{ posts }`, operation.WithCachePolicy(operation.CacheFirst))

	c.Execute(context.Background(), op)
	c.Execute(context.Background(), op)

	if *calls != 1 {
		t.Errorf("expected the explicit cache-first policy to win, got %d calls", *calls)
	}
}

func TestExecutePropagatesFetchError(t *testing.T) {
	wantErr := errors.New("upstream down")
	c, _ := newTestClient(t, Config{
		Fetch: func(context.Context, *operation.Operation) (*operation.Result, error) {
			return nil, wantErr
		},
	})

	_, err := c.Execute(context.Background(), mustOp(t, operation.TypeQuery, `{ posts }`))
	if !errors.Is(err, wantErr) {
		t.Errorf("expected fetch error, got %v", err)
	}
}

func TestObserveEmitsCachedThenFresh(t *testing.T) {
	store := cache.NewMemoryStore()
	c, _ := newTestClient(t, Config{Store: store})
	op := mustOp(t, operation.TypeQuery, `{ posts }`, operation.WithCachePolicy(operation.CacheAndNetwork))

	store.Set(context.Background(), op.Key, &operation.Result{Data: "stale"}, nil)

	src, err := c.Observe(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := make(chan interface{}, 4)
	done := make(chan struct{})
	src.Subscribe(plugin.Observer{
		Next:     func(res *operation.Result) { values <- res.Data },
		Error:    func(err error) { t.Errorf("unexpected stream error: %v", err); close(done) },
		Complete: func() { close(done) },
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	close(values)

	var got []interface{}
	for v := range values {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "stale" || got[1] != "fresh" {
		t.Errorf("expected cached emission strictly before network emission, got %v", got)
	}
}

func TestObserveSingleEmissionForCacheFirst(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeQuery, `{ posts }`)

	src, err := c.Observe(context.Background(), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := make(chan interface{}, 4)
	done := make(chan struct{})
	src.Subscribe(plugin.Observer{
		Next:     func(res *operation.Result) { values <- res.Data },
		Complete: func() { close(done) },
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	close(values)

	var got []interface{}
	for v := range values {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("expected a single emission, got %v", got)
	}
}

func TestObserveDeliversChainError(t *testing.T) {
	wantErr := errors.New("upstream down")
	c, _ := newTestClient(t, Config{
		Fetch: func(context.Context, *operation.Operation) (*operation.Result, error) {
			return nil, wantErr
		},
	})

	src, err := c.Observe(context.Background(), mustOp(t, operation.TypeQuery, `{ posts }`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errs := make(chan error, 1)
	src.Subscribe(plugin.Observer{
		Next:  func(res *operation.Result) { t.Errorf("unexpected emission: %+v", res) },
		Error: func(err error) { errs <- err },
	})

	select {
	case err := <-errs:
		if !errors.Is(err, wantErr) {
			t.Errorf("expected fetch error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error delivery")
	}
}

func TestObserveRejectsSubscriptions(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeSubscription, `subscription { ticks }`)

	if _, err := c.Observe(context.Background(), op); !errors.Is(err, ErrIsSubscription) {
		t.Errorf("expected ErrIsSubscription, got %v", err)
	}
}

func TestDispatchStateTransitions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, _ := newTestClient(t, Config{Logger: logger})
	op := mustOp(t, operation.TypeQuery, `{ posts }`)

	c.Execute(context.Background(), op)
	if out := buf.String(); !strings.Contains(out, "to=in_flight") {
		t.Errorf("expected a network dispatch to pass through in_flight, got:\n%s", out)
	}

	// A pure cache hit goes pending -> cached -> resolved.
	buf.Reset()
	c.Execute(context.Background(), op)
	out := buf.String()
	if strings.Contains(out, "to=in_flight") {
		t.Errorf("expected a cache hit to skip in_flight, got:\n%s", out)
	}
	if !strings.Contains(out, "to=cached") {
		t.Errorf("expected a cache hit to enter cached, got:\n%s", out)
	}
}

func TestDispatchStateCacheOnlyMissSkipsInFlight(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, calls := newTestClient(t, Config{Logger: logger})
	op := mustOp(t, operation.TypeQuery, `{ posts }`, operation.WithCachePolicy(operation.CacheOnly))

	c.Execute(context.Background(), op)
	if *calls != 0 {
		t.Fatalf("cache-only must never reach the network, got %d calls", *calls)
	}
	if out := buf.String(); strings.Contains(out, "to=in_flight") {
		t.Errorf("expected cache-only to skip in_flight, got:\n%s", out)
	}
}

func TestClearTagsForcesRefetch(t *testing.T) {
	c, calls := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeQuery, `{ posts }`, operation.WithTags("posts"))

	c.Execute(context.Background(), op)
	c.Execute(context.Background(), op)
	if *calls != 1 {
		t.Fatalf("expected cache hit before invalidation, got %d calls", *calls)
	}

	if err := c.ClearTags(context.Background(), "posts"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Execute(context.Background(), op)
	if *calls != 2 {
		t.Errorf("expected refetch after invalidation, got %d calls", *calls)
	}
}

func TestClearCache(t *testing.T) {
	c, calls := newTestClient(t, Config{})
	op := mustOp(t, operation.TypeQuery, `{ posts }`)

	c.Execute(context.Background(), op)
	if err := c.ClearCache(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Execute(context.Background(), op)

	if *calls != 2 {
		t.Errorf("expected refetch after clear, got %d calls", *calls)
	}
}
