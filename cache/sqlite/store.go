// Package sqlite provides a cache storage backed by a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meigma/offline/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS caches (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	cache_name TEXT    NOT NULL REFERENCES caches(name) ON DELETE CASCADE,
	method     TEXT    NOT NULL,
	url        TEXT    NOT NULL,
	status     INTEGER NOT NULL,
	header     TEXT    NOT NULL,
	body       BLOB    NOT NULL,
	digest     TEXT    NOT NULL,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (cache_name, method, url)
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements cache.Storage on SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Interface compliance.
var (
	_ cache.Storage = (*Store)(nil)
	_ cache.Cache   = (*Cache)(nil)
)

// Open opens (or creates) a SQLite store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open returns the named cache, creating its row if needed.
func (s *Store) Open(ctx context.Context, name string) (cache.Cache, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("create cache %q: %w", name, err)
	}
	return &Cache{name: name, db: s.sqlDB}, nil
}

// Has reports whether the named cache exists.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM caches WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup cache %q: %w", name, err)
	}
	return true, nil
}

// Names returns all cache names in sorted order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes the named cache and, through the foreign key, its entries.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cache is a named cache stored as rows of the entries table.
type Cache struct {
	name string
	db   *sql.DB
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Match returns the stored response for key.
func (c *Cache) Match(ctx context.Context, key cache.Key) (*cache.Response, bool, error) {
	var (
		status   int
		header   string
		body     []byte
		dgst     string
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, digest, stored_at FROM entries
		 WHERE cache_name = ? AND method = ? AND url = ?`,
		c.name, key.Method, key.URL,
	).Scan(&status, &header, &body, &dgst, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}
	if err := cache.VerifyDigest(dgst, body); err != nil {
		_, _ = c.Delete(ctx, key)
		return nil, false, err
	}
	var hdr map[string][]string
	if err := json.Unmarshal([]byte(header), &hdr); err != nil {
		_, _ = c.Delete(ctx, key)
		return nil, false, fmt.Errorf("%w: decode header: %v", cache.ErrCorrupt, err)
	}
	resp := cache.NewResponse(status, hdr, body)
	resp.StoredAt = fromMillis(storedAt)
	return resp, true, nil
}

// Put upserts the entry for key.
func (c *Cache) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	if err := key.Validate(); err != nil {
		return err
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entries (cache_name, method, url, status, header, body, digest, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_name, method, url) DO UPDATE SET
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   digest = excluded.digest,
		   stored_at = excluded.stored_at`,
		c.name, key.Method, key.URL, resp.Status, string(header), body, cache.Digest(body), toMillis(resp.StoredAt),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys in URL, method order.
func (c *Cache) Keys(ctx context.Context) ([]cache.Key, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT method, url FROM entries WHERE cache_name = ? ORDER BY url, method`, c.name)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []cache.Key
	for rows.Next() {
		var key cache.Key
		if err := rows.Scan(&key.Method, &key.URL); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM entries WHERE cache_name = ? AND method = ? AND url = ?`,
		c.name, key.Method, key.URL)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
