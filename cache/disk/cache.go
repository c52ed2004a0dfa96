package disk

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/offline/cache"
)

// Cache is a single named cache stored in its own directory.
type Cache struct {
	name    string
	storage *Storage
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Match reads and verifies the entry for key.
//
// Corrupted entries are deleted and reported with an error wrapping
// cache.ErrCorrupt.
func (c *Cache) Match(_ context.Context, key cache.Key) (*cache.Response, bool, error) {
	root, err := c.openRoot()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer root.Close()

	path := c.path(key)
	data, err := root.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	gotKey, resp, err := c.storage.decodeEntry(data)
	if err != nil {
		_ = c.deleteByPath(root, path)
		return nil, false, err
	}
	if gotKey != key {
		// SHA256 collision or a foreign file; treat as a miss.
		return nil, false, nil
	}
	return resp, true, nil
}

// Put writes the entry for key, replacing any existing entry.
// Entries larger than the storage limit are skipped silently.
func (c *Cache) Put(_ context.Context, key cache.Key, resp *cache.Response) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := c.storage.encodeEntry(key, resp)
	if err != nil {
		return err
	}

	root, err := c.openRoot()
	if err != nil {
		return fmt.Errorf("open cache root: %w", err)
	}
	defer root.Close()

	path := c.path(key)
	var previous int64
	if info, err := root.Stat(path); err == nil {
		previous = info.Size()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat cache entry: %w", err)
	}

	written := int64(len(data))
	if ok, err := c.storage.ensureCapacity(written - previous); err != nil {
		return err
	} else if !ok {
		return nil // Cache full, skip silently
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := root.MkdirAll(dir, c.storage.dirPerm); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	tmp, tmpPath, err := createTemp(root, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("close cache file: %w", err)
	}

	// A prune may have removed the previous entry in the meantime.
	if info, err := root.Stat(path); err == nil {
		previous = info.Size()
	} else {
		previous = 0
	}
	if err := root.Rename(tmpPath, path); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}

	c.storage.bytes.Add(written - previous)
	return nil
}

// Keys returns the keys of all readable entries in sorted order.
func (c *Cache) Keys(_ context.Context) ([]cache.Key, error) {
	base := filepath.Join(c.storage.dir, c.name)
	var keys []cache.Key
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		key, err := readEntryKey(path)
		if err != nil {
			// Unreadable entries are cleaned up on the next Match.
			return nil //nolint:nilerr // skip damaged entries
		}
		keys = append(keys, key)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
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
func (c *Cache) Delete(_ context.Context, key cache.Key) (bool, error) {
	root, err := c.openRoot()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer root.Close()

	path := c.path(key)
	if _, err := root.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := c.deleteByPath(root, path); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) openRoot() (*os.Root, error) {
	return os.OpenRoot(filepath.Join(c.storage.dir, c.name))
}

func (c *Cache) path(key cache.Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	hexHash := hex.EncodeToString(sum[:])
	if c.storage.shardPrefixLen <= 0 {
		return hexHash
	}
	prefixLen := min(c.storage.shardPrefixLen, len(hexHash))
	return filepath.Join(hexHash[:prefixLen], hexHash)
}

func (c *Cache) deleteByPath(root *os.Root, path string) error {
	info, err := root.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := root.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	c.storage.bytes.Add(-info.Size())
	return nil
}

func createTemp(root *os.Root, dir, pattern string) (*os.File, string, error) {
	if dir == "" {
		dir = "."
	}
	for range 10000 {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		path := filepath.Join(dir, name)
		f, err := root.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
