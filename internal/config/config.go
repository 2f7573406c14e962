// Package config provides client configuration loading and hot-reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jbaubree/villus/internal/operation"
)

// Config represents the complete client configuration.
type Config struct {
	// URL is the HTTP GraphQL endpoint.
	URL string `yaml:"url"`
	// SubscriptionURL is the ws:// or wss:// endpoint for subscriptions.
	SubscriptionURL string `yaml:"subscription_url,omitempty"`
	// CachePolicy is the default policy for queries without an explicit one.
	CachePolicy string `yaml:"cache_policy,omitempty"`
	// Timeout is the per-request timeout (e.g. "30s").
	Timeout string `yaml:"timeout,omitempty"`
	// Headers are sent with every HTTP request.
	Headers map[string]string `yaml:"headers,omitempty"`
	// Dedup enables in-flight deduplication of identical queries.
	Dedup bool `yaml:"dedup,omitempty"`
	// Cache selects and configures the cache backend.
	Cache CacheConfig `yaml:"cache,omitempty"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend,omitempty"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Load reads, env-overrides, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets VILLUS_* environment variables win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VILLUS_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("VILLUS_SUBSCRIPTION_URL"); v != "" {
		cfg.SubscriptionURL = v
	}
	if v := os.Getenv("VILLUS_CACHE_POLICY"); v != "" {
		cfg.CachePolicy = v
	}
	if v := os.Getenv("VILLUS_REDIS_ADDRESS"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.Redis.Address = v
	}
	if v := os.Getenv("VILLUS_DEDUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dedup = b
		}
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.CachePolicy != "" {
		if _, err := operation.ParsePolicy(c.CachePolicy); err != nil {
			return err
		}
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
	}
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("cache.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// RequestTimeout returns the parsed timeout with a fallback.
func (c *Config) RequestTimeout(fallback time.Duration) time.Duration {
	return ParseDuration(c.Timeout, fallback)
}

// ParseDuration parses a duration string with default fallback.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// Manager handles configuration loading and hot-reload.
type Manager struct {
	configPath string
	config     *Config
	watcher    *fsnotify.Watcher
	callbacks  []func(*Config)
	mu         sync.RWMutex
	stopCh     chan struct{}
}

// NewManager creates a manager that loads the file immediately and reloads
// it on change.
func NewManager(configPath string) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	m := &Manager{
		configPath: configPath,
		watcher:    watcher,
		stopCh:     make(chan struct{}),
	}

	if err := m.load(); err != nil {
		watcher.Close()
		return nil, err
	}

	go m.watchChanges()

	return m, nil
}

func (m *Manager) load() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// watchChanges monitors the config file for changes, debounced.
func (m *Manager) watchChanges() {
	dir := filepath.Dir(m.configPath)
	if err := m.watcher.Add(dir); err != nil {
		return
	}

	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-m.stopCh:
			return
		case event := <-m.watcher.Events:
			if event.Name == m.configPath && (event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0) {
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			if err := m.load(); err != nil {
				continue
			}
			m.notifyCallbacks()
		case <-m.watcher.Errors:
			// Keep watching.
		}
	}
}

func (m *Manager) notifyCallbacks() {
	m.mu.RLock()
	cfg := m.config
	callbacks := m.callbacks
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for configuration changes.
func (m *Manager) OnChange(cb func(*Config)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// Close stops the manager.
func (m *Manager) Close() error {
	close(m.stopCh)
	return m.watcher.Close()
}
