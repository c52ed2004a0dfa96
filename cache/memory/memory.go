// Package memory provides an in-process cache storage.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/meigma/offline/cache"
)

// Storage implements cache.Storage with maps guarded by a mutex.
type Storage struct {
	mu     sync.RWMutex
	caches map[string]*Cache
}

// New creates an empty storage.
func New() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Interface compliance.
var (
	_ cache.Storage = (*Storage)(nil)
	_ cache.Cache   = (*Cache)(nil)
)

// Open returns the named cache, creating it if needed.
func (s *Storage) Open(_ context.Context, name string) (cache.Cache, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &Cache{name: name, entries: make(map[cache.Key]*cache.Response)}
	s.caches[name] = c
	return c, nil
}

// Has reports whether the named cache exists.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Names returns all cache names in sorted order.
func (s *Storage) Names(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes the named cache.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	return true, nil
}

// Cache is a single named in-memory cache.
type Cache struct {
	name    string
	mu      sync.RWMutex
	entries map[cache.Key]*cache.Response
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Match returns a copy of the stored response for key.
func (c *Cache) Match(_ context.Context, key cache.Key) (*cache.Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

// Put stores a copy of resp under key.
func (c *Cache) Put(_ context.Context, key cache.Key, resp *cache.Response) error {
	if err := key.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp.Clone()
	return nil
}

// Keys returns all keys in sorted order.
func (c *Cache) Keys(context.Context) ([]cache.Key, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]cache.Key, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(_ context.Context, key cache.Key) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}

func compareKeys(a, b cache.Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
