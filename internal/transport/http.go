// Package transport provides the built-in terminal transports: an HTTP
// fetcher for queries and mutations, and a WebSocket forwarder speaking
// graphql-transport-ws for subscriptions. Both satisfy the pluggable
// contracts in the plugin package; callers may substitute their own.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

// Common errors.
var (
	ErrTransport  = errors.New("transport failure")
	ErrMissingURL = errors.New("endpoint URL is required")
)

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	// URL is the GraphQL endpoint.
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds each request (default: 30s). Ignored when Client is set.
	Timeout time.Duration
	// Client overrides the underlying HTTP client.
	Client *http.Client
	// Logger for transport events.
	Logger *slog.Logger
}

// httpRequest is the POST body of a GraphQL request.
type httpRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// httpResponse is the GraphQL response envelope.
type httpResponse struct {
	Data   interface{}       `json:"data"`
	Errors []operation.Error `json:"errors,omitempty"`
}

// NewHTTPFetcher builds the terminal network function. Transport-level
// failures (connection errors, non-2xx statuses, malformed bodies) surface
// as errors wrapping ErrTransport; a well-formed response carrying a
// GraphQL errors array resolves as a normal result with Errors populated.
func NewHTTPFetcher(cfg HTTPConfig) (plugin.FetchFunc, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return func(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
		body, err := json.Marshal(httpRequest{
			Query:     op.Query,
			Variables: op.Variables,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", ErrTransport, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
		}

		var envelope httpResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}

		cfg.Logger.Debug("fetched operation",
			"key", op.Key,
			"status", resp.StatusCode,
			"errors", len(envelope.Errors),
			"duration", time.Since(start),
		)

		return &operation.Result{
			Data:   envelope.Data,
			Errors: envelope.Errors,
			Raw:    raw,
		}, nil
	}, nil
}
