// Villus is a GraphQL client: it executes queries and mutations against an
// HTTP endpoint with response caching, and streams subscriptions over
// graphql-transport-ws.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jbaubree/villus/internal/cache"
	"github.com/jbaubree/villus/internal/client"
	"github.com/jbaubree/villus/internal/config"
	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
	"github.com/jbaubree/villus/internal/transport"
)

var (
	configPath = flag.String("config", "villus.yaml", "Path to configuration file")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	opType     = flag.String("type", "query", "Operation type (query, mutation, subscription)")
	queryText  = flag.String("query", "", "GraphQL operation text")
	queryFile  = flag.String("query-file", "", "File containing the operation text")
	varsJSON   = flag.String("vars", "", "Operation variables as JSON")
	policy     = flag.String("policy", "", "Cache policy override (cache-first, network-only, cache-and-network, cache-only)")
	tags       = flag.String("tags", "", "Comma-separated cache tags")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("villus error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if operation.Type(*opType) == operation.TypeSubscription {
		return streamSubscription(ctx, logger)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	op, err := buildOperation(cfg)
	if err != nil {
		return err
	}

	c, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	res, err := c.Execute(ctx, op)
	if err != nil {
		return err
	}
	return printResult(res)
}

func buildOperation(cfg *config.Config) (*operation.Operation, error) {
	text := *queryText
	if text == "" && *queryFile != "" {
		data, err := os.ReadFile(*queryFile)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}

	var variables map[string]interface{}
	if *varsJSON != "" {
		if err := json.Unmarshal([]byte(*varsJSON), &variables); err != nil {
			return nil, fmt.Errorf("parsing -vars: %w", err)
		}
	}

	var opts []operation.Option
	if *policy != "" {
		p, err := operation.ParsePolicy(*policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, operation.WithCachePolicy(p))
	} else if cfg.CachePolicy != "" {
		p, _ := operation.ParsePolicy(cfg.CachePolicy)
		opts = append(opts, operation.WithCachePolicy(p))
	}
	if *tags != "" {
		opts = append(opts, operation.WithTags(strings.Split(*tags, ",")...))
	}

	return operation.New(operation.Type(*opType), text, variables, opts...)
}

func buildClient(cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	fetch, err := transport.NewHTTPFetcher(transport.HTTPConfig{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Timeout: cfg.RequestTimeout(0),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	var forwarder plugin.Forwarder
	if cfg.SubscriptionURL != "" {
		forwarder, err = transport.NewWSForwarder(transport.WSConfig{
			URL:    cfg.SubscriptionURL,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	var defaultPolicy operation.CachePolicy
	if cfg.CachePolicy != "" {
		defaultPolicy, _ = operation.ParsePolicy(cfg.CachePolicy)
	}

	return client.New(client.Config{
		Fetch:              fetch,
		Forwarder:          forwarder,
		Store:              store,
		Dedup:              cfg.Dedup,
		DefaultCachePolicy: defaultPolicy,
		Logger:             logger,
	})
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewRedisStore(cache.RedisConfig{
		Address:   cfg.Cache.Redis.Address,
		Password:  cfg.Cache.Redis.Password,
		DB:        cfg.Cache.Redis.DB,
		KeyPrefix: cfg.Cache.Redis.KeyPrefix,
	})
}

// streamSubscription prints each incoming message until interrupted. The
// configuration file is watched for the lifetime of the stream; a change
// tears the current subscription down and resubscribes with a fresh client.
func streamSubscription(ctx context.Context, logger *slog.Logger) error {
	manager, err := config.NewManager(*configPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	subscribe := func(cfg *config.Config) (*client.Subscription, error) {
		op, err := buildOperation(cfg)
		if err != nil {
			return nil, err
		}
		c, err := buildClient(cfg, logger)
		if err != nil {
			return nil, err
		}

		latest := func(_ interface{}, msg *operation.Result) interface{} { return msg }
		return c.Subscribe(ctx, op, latest, client.WithUpdateFunc(func(v interface{}) {
			if res, ok := v.(*operation.Result); ok {
				printResult(res)
			}
		}))
	}

	sub, err := subscribe(manager.Get())
	if err != nil {
		return err
	}
	defer func() { sub.Unsubscribe() }()

	reloaded := make(chan *config.Config, 1)
	manager.OnChange(func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reloaded:
			logger.Info("configuration changed, resubscribing")
			next, err := subscribe(cfg)
			if err != nil {
				logger.Error("resubscribe failed, keeping current subscription", "error", err)
				continue
			}
			sub.Unsubscribe()
			sub = next
		}
	}
}

func printResult(res *operation.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
