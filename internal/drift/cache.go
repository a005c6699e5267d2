// Package drift detects edits to specification sections without invoking
// the agent. Each section's body is hashed and compared against a cached
// copy captured earlier.
package drift

import (
	"sort"
	"sync"
	"time"
)

// CachedSection is the last known content of one section of a document.
type CachedSection struct {
	DocumentID string    `json:"document_id"`
	Header     string    `json:"header"`
	Content    string    `json:"content"`
	Hash       string    `json:"hash"`
	CapturedAt time.Time `json:"captured_at"`
}

// Cache stores captured sections keyed by (document id, header).
type Cache interface {
	Get(documentID, header string) (CachedSection, bool)
	Put(section CachedSection)
	// Sections returns every cached section of a document ordered by header.
	Sections(documentID string) []CachedSection
	// Forget drops all sections of a document.
	Forget(documentID string)
}

type cacheKey struct {
	doc    string
	header string
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu       sync.RWMutex
	sections map[cacheKey]CachedSection
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sections: map[cacheKey]CachedSection{}}
}

func (c *MemoryCache) Get(documentID, header string) (CachedSection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sections[cacheKey{documentID, header}]
	return s, ok
}

func (c *MemoryCache) Put(section CachedSection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections[cacheKey{section.DocumentID, section.Header}] = section
}

func (c *MemoryCache) Sections(documentID string) []CachedSection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []CachedSection
	for k, s := range c.sections {
		if k.doc == documentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header < out[j].Header })
	return out
}

func (c *MemoryCache) Forget(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.sections {
		if k.doc == documentID {
			delete(c.sections, k)
		}
	}
}
