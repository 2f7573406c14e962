package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scrape renders the registry through the HTTP handler.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scraping metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.OperationStarted()
	m.RecordOperation("query", "cache-first", 25*time.Millisecond, nil)
	m.RecordOperation("mutation", "network-only", 40*time.Millisecond, errors.New("boom"))
	m.OperationFinished()

	m.RecordCacheHit("cache-first")
	m.RecordCacheMiss("cache-and-network")
	m.RecordCacheInvalidation()

	m.SubscriptionStarted()
	m.RecordSubscriptionMessage()
	m.SubscriptionEnded()

	m.RecordDedupCoalesced()

	body := scrape(t, m)
	for _, want := range []string{
		`villus_operations_total{policy="cache-first",type="query"} 1`,
		`villus_operations_total{policy="network-only",type="mutation"} 1`,
		`villus_operation_errors_total{type="mutation"} 1`,
		`villus_cache_hits_total{policy="cache-first"} 1`,
		`villus_cache_misses_total{policy="cache-and-network"} 1`,
		`villus_cache_invalidations_total 1`,
		`villus_subscription_messages_total 1`,
		`villus_dedup_coalesced_total 1`,
		`villus_active_subscriptions 0`,
		`villus_inflight_operations 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide: each holds its own registry.
	a := New()
	b := New()

	a.RecordCacheHit("cache-first")
	if body := scrape(t, b); strings.Contains(body, `villus_cache_hits_total{policy="cache-first"} 1`) {
		t.Error("expected registries to be isolated")
	}
}
