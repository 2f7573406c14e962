package plugin

import (
	"log/slog"
	"time"

	"github.com/jbaubree/villus/internal/operation"
)

// Logging records each dispatch at debug level: operation type, key, how the
// result was produced, GraphQL error count, and duration. It is a pure
// observer and always delegates.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates the logging plugin.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

// Name implements Plugin.
func (p *Logging) Name() string { return "logging" }

// Handle implements Plugin.
func (p *Logging) Handle(c *Context, next Next) error {
	op := c.Operation()
	start := time.Now()

	c.OnResult(func(res *operation.Result) {
		p.logger.Debug("operation resolved",
			"type", op.Type,
			"key", op.Key,
			"from_cache", c.ServedFromCache(),
			"errors", len(res.Errors),
			"duration", time.Since(start),
		)
	})

	err := next()
	if err != nil {
		p.logger.Debug("operation failed",
			"type", op.Type,
			"key", op.Key,
			"error", err,
			"duration", time.Since(start),
		)
	}
	return err
}
