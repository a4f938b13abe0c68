// Package cache keeps check outcomes keyed by normalized URL for a bounded
// lifetime, on top of a pluggable byte store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/link-weaver/internal/link"
)

// Store persists encoded cache entries
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Reset() error
	Close() error
}

// Entry is one cached outcome
type Entry struct {
	Result    link.Result `json:"result"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Cache stores outcomes with an expiry
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *logrus.Entry
}

// New creates a cache over store. Entries live for ttl.
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   logrus.WithField("component", "cache"),
	}
}

// NewMemory creates a cache over an in-memory bigcache store
func NewMemory(ttl time.Duration) (*Cache, error) {
	store, err := NewMemoryStore(ttl)
	if err != nil {
		return nil, err
	}
	return New(store, ttl), nil
}

// Get returns the live outcome cached for key
func (c *Cache) Get(key string) (link.Result, bool) {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		c.log.Warnf("Failed to read cache entry %s: %v", key, err)
		return link.Result{}, false
	}
	if !ok {
		return link.Result{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log.Warnf("Discarding corrupt cache entry %s: %v", key, err)
		return link.Result{}, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		return link.Result{}, false
	}
	return entry.Result, true
}

// Set stores an outcome for key
func (c *Cache) Set(key string, result link.Result) {
	raw, err := json.Marshal(Entry{Result: result, ExpiresAt: c.now().Add(c.ttl)})
	if err != nil {
		c.log.Warnf("Failed to encode cache entry %s: %v", key, err)
		return
	}
	if err := c.store.Set(key, raw); err != nil {
		c.log.Warnf("Failed to write cache entry %s: %v", key, err)
	}
}

// Clear drops every cached outcome
func (c *Cache) Clear() error {
	if err := c.store.Reset(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Close releases the underlying store
func (c *Cache) Close() error {
	return c.store.Close()
}

// MemoryStore keeps entries in a bigcache instance
type MemoryStore struct {
	cache *bigcache.BigCache
}

// NewMemoryStore creates a bigcache store evicting entries older than ttl
func NewMemoryStore(ttl time.Duration) (*MemoryStore, error) {
	// bigcache counts in whole seconds, expiry itself is checked on Entry
	lifeWindow := ttl
	if lifeWindow < time.Second {
		lifeWindow = time.Second
	}
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.Verbose = false
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10000

	bc, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryStore{cache: bc}, nil
}

// Get returns the raw entry for key
func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	raw, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores the raw entry for key
func (s *MemoryStore) Set(key string, value []byte) error {
	return s.cache.Set(key, value)
}

// Reset drops every entry
func (s *MemoryStore) Reset() error {
	return s.cache.Reset()
}

// Close stops the bigcache cleanup goroutine
func (s *MemoryStore) Close() error {
	return s.cache.Close()
}
