// Package schema memoizes provider-specific translations of tool schemas and
// hosts the declarative per-backend normalization ruleset applied before
// translation.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// DefaultCacheSize bounds the cache when no explicit cap is configured.
const DefaultCacheSize = 64

// Cache memoizes translated tool-schema documents keyed by a content hash of
// the normalized schema set plus the backend name. It is safe for concurrent
// use; two racing first-use translations of the same key may both compute the
// value and the second store is a harmless overwrite. Entries are evicted
// oldest-first once the cap is reached.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	order   []string
	cap     int
}

// NewCache creates a bounded schema cache. A non-positive cap falls back to
// DefaultCacheSize.
func NewCache(cap int) *Cache {
	if cap <= 0 {
		cap = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]any, cap),
		cap:     cap,
	}
}

// Key derives the cache key for a tool-schema set translated for a backend.
// The hash covers the normalized parameter documents, so two schema sets that
// normalize identically share one translation.
func Key(backend string, schemas []chat.ToolSchema) (string, error) {
	h := sha256.New()
	h.Write([]byte(backend))
	for _, s := range schemas {
		// json.Marshal of a map sorts keys, giving a canonical encoding.
		doc, err := canonicalParameters(s.Parameters)
		if err != nil {
			return "", fmt.Errorf("canonicalize schema %q: %w", s.Name, err)
		}
		h.Write([]byte{0})
		h.Write([]byte(s.Name))
		h.Write([]byte{0})
		h.Write([]byte(s.Description))
		h.Write([]byte{0})
		h.Write(doc)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalParameters(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// GetOrBuild returns the cached translation for key, building and storing it
// on first use.
func (c *Cache) GetOrBuild(key string, build func() (any, error)) (any, error) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		metrics.SchemaCacheHits.Inc()
		return v, nil
	}

	metrics.SchemaCacheMisses.Inc()
	v, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		// Lost the race; the earlier store wins.
		return existing, nil
	}
	for len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		metrics.SchemaCacheEvictions.Inc()
	}
	c.entries[key] = v
	c.order = append(c.order, key)
	return v, nil
}

// Len reports the number of cached translations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
