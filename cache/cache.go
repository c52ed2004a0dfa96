// Package cache defines the named, versioned response stores used by the
// offline cache manager.
//
// A [Storage] holds any number of named caches. Each [Cache] maps a request
// identity ([Key]) to a [Response] snapshot. Keys are unique within a cache:
// writing an existing key replaces the previous snapshot.
//
// Implementations live in subpackages:
//   - memory: process-local maps, useful for tests and short-lived servers
//   - disk: sharded files with compressed, digest-verified bodies
//   - sqlite: a single SQLite database file
//   - valkey: a Valkey (or Redis) server shared between instances
package cache

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrCorrupt is returned when a stored entry fails integrity checks.
	ErrCorrupt = errors.New("cache: corrupt entry")

	// ErrInvalidName is returned for empty or malformed cache names.
	ErrInvalidName = errors.New("cache: invalid name")

	// ErrInvalidKey is returned for keys without a method or URL.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// Storage enumerates and manages named caches.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the cache with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)

	// Has reports whether a cache with the given name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Names returns the names of all existing caches in sorted order.
	Names(ctx context.Context) ([]string, error)

	// Delete removes a cache and every entry in it.
	// It reports whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache stores response snapshots keyed by request identity.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Name returns the cache name.
	Name() string

	// Match returns the stored response for key.
	// Returns nil, false, nil when no entry exists.
	Match(ctx context.Context, key Key) (*Response, bool, error)

	// Put stores resp under key, replacing any existing entry.
	Put(ctx context.Context, key Key, resp *Response) error

	// Keys returns every key in the cache in sorted order.
	Keys(ctx context.Context) ([]Key, error)

	// Delete removes the entry for key and reports whether it existed.
	Delete(ctx context.Context, key Key) (bool, error)
}

// Key identifies a cached request.
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey builds a key from a method and an absolute URL.
// The fragment is dropped; it is never sent to a server.
func NewKey(method string, u *url.URL) Key {
	if method == "" {
		method = "GET"
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return Key{Method: strings.ToUpper(method), URL: clean.String()}
}

// Validate checks that the key has a method and a URL.
func (k Key) Validate() error {
	if k.Method == "" || k.URL == "" {
		return ErrInvalidKey
	}
	return nil
}

// String returns the key in "METHOD URL" form.
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Path returns the URL path of the key, or the raw URL when it cannot be
// parsed.
func (k Key) Path() string {
	u, err := url.Parse(k.URL)
	if err != nil {
		return k.URL
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// Less orders keys by URL, then method.
func (k Key) Less(other Key) bool {
	if k.URL != other.URL {
		return k.URL < other.URL
	}
	return k.Method < other.Method
}

// ValidateName checks a cache name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}
