// Package disk provides a filesystem-backed cache storage.
//
// Each named cache is a directory below the storage root. Entries are
// sharded by the SHA256 of their key and written atomically through a
// temporary file and rename. Bodies are zstd-compressed by default and
// carry a digest that is verified on every read; entries that fail
// verification are removed.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/offline/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tempPrefix            = "tmp-"
)

// Storage implements cache.Storage on the local filesystem.
type Storage struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	compress       bool

	enc *zstd.Encoder
	dec *zstd.Decoder

	bytes   atomic.Int64
	pruneMu sync.Mutex
}

// Option configures a disk storage.
type Option func(*Storage)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Storage) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Storage) {
		s.dirPerm = mode
	}
}

// WithMaxBytes sets the maximum storage size in bytes across all caches.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Storage) {
		s.maxBytes = n
	}
}

// WithCompression enables or disables zstd compression of bodies.
// Enabled by default. Existing entries remain readable either way.
func WithCompression(enabled bool) Option {
	return func(s *Storage) {
		s.compress = enabled
	}
}

// New creates a disk-backed storage rooted at dir.
func New(dir string, opts ...Option) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Storage{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		compress:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if s.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	s.enc = enc
	s.dec = dec

	size, err := dirSize(dir)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.bytes.Store(size)
	return s, nil
}

// Interface compliance.
var (
	_ cache.Storage = (*Storage)(nil)
	_ cache.Cache   = (*Cache)(nil)
)

// Close releases the compression resources.
func (s *Storage) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}

// Open returns the named cache, creating its directory if needed.
func (s *Storage) Open(_ context.Context, name string) (cache.Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, name), s.dirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{name: name, storage: s}, nil
}

// Has reports whether the named cache directory exists.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Names returns the names of all cache directories in sorted order.
func (s *Storage) Names(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes a cache directory and all of its entries.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, nil
	}
	path := filepath.Join(s.dir, name)
	size, err := dirSize(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(path); err != nil {
		return false, err
	}
	s.bytes.Add(-size)
	return true, nil
}

// MaxBytes returns the configured size limit (0 = unlimited).
func (s *Storage) MaxBytes() int64 {
	return s.maxBytes
}

// SizeBytes returns the current storage size in bytes.
func (s *Storage) SizeBytes() int64 {
	return s.bytes.Load()
}

// Prune removes the oldest entries until the storage is at or below
// targetBytes. It returns the number of bytes freed.
func (s *Storage) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	freed, remaining, err := pruneDir(s.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	s.bytes.Store(remaining)
	return freed, nil
}

func (s *Storage) ensureCapacity(need int64) (bool, error) {
	if s.maxBytes <= 0 {
		return true, nil
	}
	if need > s.maxBytes {
		return false, nil
	}
	if s.SizeBytes()+need <= s.maxBytes {
		return true, nil
	}
	if _, err := s.Prune(s.maxBytes - need); err != nil {
		return false, err
	}
	return s.SizeBytes()+need <= s.maxBytes, nil
}

func validateName(name string) error {
	if err := cache.ValidateName(name); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return cache.ErrInvalidName
	}
	return nil
}
