// Package valkey provides a cache storage backed by a Valkey or Redis server.
//
// Cache names are kept in a set and each cache is a hash whose fields are
// request keys and whose values are digest-verified response records.
// Several server instances can share one storage this way.
package valkey

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/meigma/offline/cache"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "offline"

// Store implements cache.Storage on a Valkey client.
type Store struct {
	vk     valkey.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Defaults to [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Interface compliance.
var (
	_ cache.Storage = (*Store)(nil)
	_ cache.Cache   = (*Cache)(nil)
)

// New wraps an existing Valkey client.
func New(vk valkey.Client, opts ...Option) *Store {
	s := &Store{vk: vk, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the given addresses and returns a Store that owns the client.
func Dial(addrs []string, opts ...Option) (*Store, error) {
	vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: addrs})
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return New(vk, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	s.vk.Close()
	return nil
}

func (s *Store) namesKey() string {
	return s.prefix + ":caches"
}

func (s *Store) cacheKey(name string) string {
	return s.prefix + ":cache:" + name
}

// Open returns the named cache and records its name.
func (s *Store) Open(ctx context.Context, name string) (cache.Cache, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	cmd := s.vk.B().Sadd().Key(s.namesKey()).Member(name).Build()
	if err := s.vk.Do(ctx, cmd).Error(); err != nil {
		return nil, fmt.Errorf("register cache %q: %w", name, err)
	}
	return &Cache{name: name, key: s.cacheKey(name), vk: s.vk}, nil
}

// Has reports whether the named cache is registered.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	cmd := s.vk.B().Sismember().Key(s.namesKey()).Member(name).Build()
	ok, err := s.vk.Do(ctx, cmd).AsBool()
	if err != nil {
		return false, fmt.Errorf("lookup cache %q: %w", name, err)
	}
	return ok, nil
}

// Names returns the registered cache names in sorted order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	cmd := s.vk.B().Smembers().Key(s.namesKey()).Build()
	names, err := s.vk.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// Delete unregisters the named cache and removes its hash.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	results := s.vk.DoMulti(ctx,
		s.vk.B().Srem().Key(s.namesKey()).Member(name).Build(),
		s.vk.B().Del().Key(s.cacheKey(name)).Build(),
	)
	removed, err := results[0].AsInt64()
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	if err := results[1].Error(); err != nil {
		return false, fmt.Errorf("delete cache %q entries: %w", name, err)
	}
	return removed > 0, nil
}

// Cache is a single named cache stored as a hash.
type Cache struct {
	name string
	key  string
	vk   valkey.Client
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Match returns the stored response for key.
// Records that fail verification are removed.
func (c *Cache) Match(ctx context.Context, key cache.Key) (*cache.Response, bool, error) {
	cmd := c.vk.B().Hget().Key(c.key).Field(field(key)).Build()
	data, err := c.vk.Do(ctx, cmd).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}
	gotKey, resp, err := cache.Unmarshal(data)
	if err != nil || gotKey != key {
		_, _ = c.Delete(ctx, key)
		if err == nil {
			err = fmt.Errorf("%w: key mismatch for %s", cache.ErrCorrupt, key)
		}
		return nil, false, err
	}
	return resp, true, nil
}

// Put stores the record for key, replacing any previous one.
func (c *Cache) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	data, err := cache.Marshal(key, resp)
	if err != nil {
		return err
	}
	cmd := c.vk.B().Hset().Key(c.key).FieldValue().FieldValue(field(key), valkey.BinaryString(data)).Build()
	if err := c.vk.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys in sorted order.
func (c *Cache) Keys(ctx context.Context) ([]cache.Key, error) {
	cmd := c.vk.B().Hkeys().Key(c.key).Build()
	fields, err := c.vk.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := make([]cache.Key, 0, len(fields))
	for _, f := range fields {
		key, ok := parseField(f)
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b cache.Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return keys, nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) (bool, error) {
	cmd := c.vk.B().Hdel().Key(c.key).Field(field(key)).Build()
	n, err := c.vk.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n > 0, nil
}

func field(key cache.Key) string {
	return key.String()
}

func parseField(f string) (cache.Key, bool) {
	method, rawURL, ok := strings.Cut(f, " ")
	if !ok || method == "" || rawURL == "" {
		return cache.Key{}, false
	}
	return cache.Key{Method: method, URL: rawURL}, true
}
