// Package cache provides the response-shaped result store used by the
// client: one entry per operation fingerprint, with tag-scoped eviction.
// Entries are process-lifetime; there is no TTL and no size-based eviction —
// callers control lifetime by clearing explicitly or by tag.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbaubree/villus/internal/operation"
)

// Common errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// Entry holds the last successful result stored under an operation key,
// together with the union of tags of every operation that produced it.
type Entry struct {
	Result   *operation.Result
	Tags     []string
	StoredAt time.Time
}

// Store maps operation fingerprints to prior results. Set is additive for
// tags: storing the same key twice unions the tag sets rather than replacing
// them, so a query later tagged differently than its first execution still
// participates in both tag scopes.
//
// Results are shared, not copied: a Result passed to Set or returned from
// Get must be treated as immutable by every party, the same contract the
// plugin chain applies to results it produces.
type Store interface {
	// Get returns the entry for a key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores a result under a key, unioning tags with any prior entry.
	Set(ctx context.Context, key string, result *operation.Result, tags []string) error
	// Delete removes a single entry.
	Delete(ctx context.Context, key string) error
	// ClearTags removes every entry whose tag set intersects the given tags.
	ClearTags(ctx context.Context, tags []string) error
	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// Stats tracks store activity.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Writes        uint64
	Invalidations uint64
}

// MemoryStore is the default in-process Store. All access is serialized
// through a single mutex; mutation is overwrite-by-key plus tag unioning,
// never read-modify-in-place.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	byTag   map[string]map[string]struct{} // tag -> keys
	stats   Stats
}

type memoryEntry struct {
	result   *operation.Result
	tags     map[string]struct{}
	storedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

// Get returns the entry for a key, or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&s.stats.Misses, 1)
		return nil, ErrCacheMiss
	}

	atomic.AddUint64(&s.stats.Hits, 1)
	return &Entry{
		Result:   entry.result,
		Tags:     tagList(entry.tags),
		StoredAt: entry.storedAt,
	}, nil
}

// Set stores a result under a key. Tags union with any existing entry.
func (s *MemoryStore) Set(_ context.Context, key string, result *operation.Result, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{tags: make(map[string]struct{})}
		s.entries[key] = entry
	}
	entry.result = result
	entry.storedAt = time.Now()

	for _, tag := range tags {
		entry.tags[tag] = struct{}{}
		keys, ok := s.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}

	atomic.AddUint64(&s.stats.Writes, 1)
	return nil
}

// Delete removes a single entry and its tag index references.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	return nil
}

// ClearTags deletes every entry whose tag set intersects the given tags.
func (s *MemoryStore) ClearTags(_ context.Context, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := uint64(0)
	for _, tag := range tags {
		for key := range s.byTag[tag] {
			s.deleteLocked(key)
			cleared++
		}
	}

	atomic.AddUint64(&s.stats.Invalidations, cleared)
	return nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.AddUint64(&s.stats.Invalidations, uint64(len(s.entries)))
	s.entries = make(map[string]*memoryEntry)
	s.byTag = make(map[string]map[string]struct{})
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetStats returns a snapshot of store activity counters.
func (s *MemoryStore) GetStats() Stats {
	return Stats{
		Hits:          atomic.LoadUint64(&s.stats.Hits),
		Misses:        atomic.LoadUint64(&s.stats.Misses),
		Writes:        atomic.LoadUint64(&s.stats.Writes),
		Invalidations: atomic.LoadUint64(&s.stats.Invalidations),
	}
}

// deleteLocked removes an entry and unlinks it from the tag index.
// Caller must hold the write lock.
func (s *MemoryStore) deleteLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	for tag := range entry.tags {
		delete(s.byTag[tag], key)
		if len(s.byTag[tag]) == 0 {
			delete(s.byTag, tag)
		}
	}
	delete(s.entries, key)
}

func tagList(tags map[string]struct{}) []string {
	if len(tags) == 0 {
		return nil
	}
	list := make([]string, 0, len(tags))
	for tag := range tags {
		list = append(list, tag)
	}
	return list
}
