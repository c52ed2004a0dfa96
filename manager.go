package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/offline/cache"
)

// Network performs outbound requests. *http.Client and the Client in
// package github.com/meigma/offline/http both satisfy it.
type Network interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager owns one version of the offline cache: it installs the assets,
// cleans up older versions on activation and answers requests.
//
// A Manager is safe for concurrent use.
type Manager struct {
	id      string
	cfg     Config
	origin  *url.URL
	static  map[string]struct{}
	assets  []cache.Key
	offline cache.Key

	storage cache.Storage
	network Network
	settings

	mu            sync.Mutex
	state         State
	skipWaiting   bool
	onSkipWaiting func()

	refresh singleflight.Group
	bg      sync.WaitGroup
}

// New creates a Manager for cfg. The configuration is validated and copied.
func New(cfg Config, storage cache.Storage, network Network, opts ...Option) (*Manager, error) {
	if storage == nil {
		return nil, errors.New("offline: storage is required")
	}
	if network == nil {
		return nil, errors.New("offline: network is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()
	origin, err := parseOrigin(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m := &Manager{
		id:       uuid.NewString(),
		cfg:      cfg,
		origin:   origin,
		static:   extensions(cfg.StaticExtensions),
		storage:  storage,
		network:  network,
		settings: newSettings(opts),
	}

	seen := make(map[cache.Key]struct{}, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		u, err := resolve(origin, asset)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		key := cache.NewKey(http.MethodGet, u)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		m.assets = append(m.assets, key)
	}
	doc, err := resolve(origin, cfg.OfflineDocument)
	if err != nil {
		return nil, fmt.Errorf("%w: offline document: %w", ErrInvalidConfig, err)
	}
	m.offline = cache.NewKey(http.MethodGet, doc)

	m.logger = m.logger.With(slog.String("cache", cfg.CacheName), slog.String("worker", m.id))
	m.metrics.state(cfg.CacheName, StateParsed)
	return m, nil
}

// ID returns the unique worker ID.
func (m *Manager) ID() string { return m.id }

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() Config { return m.cfg.clone() }

// Origin returns the parsed origin URL.
func (m *Manager) Origin() *url.URL {
	u := *m.origin
	return &u
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	m.state = to
	m.mu.Unlock()

	m.metrics.state(m.cfg.CacheName, to)
	m.logger.Debug("state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}

// markRedundant retires the manager. It keeps answering requests it
// already holds but will not be activated again.
func (m *Manager) markRedundant() {
	if err := m.transition(StateRedundant); err == nil {
		m.logger.Info("worker retired")
	}
}

// SkipWaiting asks to be activated without waiting for connected clients
// to go away.
func (m *Manager) SkipWaiting() {
	m.mu.Lock()
	m.skipWaiting = true
	hook := m.onSkipWaiting
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// SkipWaitingRequested reports whether SkipWaiting was called.
func (m *Manager) SkipWaitingRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipWaiting
}

func (m *Manager) setSkipWaitingHook(hook func()) {
	m.mu.Lock()
	m.onSkipWaiting = hook
	m.mu.Unlock()
}

// Install opens the cache and stores every configured asset.
//
// Assets are fetched concurrently; only 2xx responses are stored. Assets
// that fail are reported in the returned error, which wraps
// ErrInstallIncomplete, but the manager is installed regardless and the
// stored assets stay in place. When every asset is stored the manager
// requests to skip waiting.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition(StateInstalling); err != nil {
		return err
	}
	err := m.install(ctx)
	if terr := m.transition(StateInstalled); terr != nil {
		return terr
	}
	if err != nil {
		m.logger.Warn("install incomplete", slog.Any("error", err))
		return err
	}
	m.logger.Info("install complete", slog.Int("assets", len(m.assets)))
	m.SkipWaiting()
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	c, err := m.storage.Open(ctx, m.cfg.CacheName)
	if err != nil {
		return fmt.Errorf("%w: open cache: %w", ErrInstallIncomplete, err)
	}

	errs := make([]error, len(m.assets))
	var g errgroup.Group
	if m.installConcurrency > 0 {
		g.SetLimit(m.installConcurrency)
	}
	for i, key := range m.assets {
		g.Go(func() error {
			errs[i] = m.installAsset(ctx, c, key)
			if errs[i] != nil {
				m.metrics.installAsset(m.cfg.CacheName, "failed")
			} else {
				m.metrics.installAsset(m.cfg.CacheName, "stored")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallIncomplete, err)
	}
	return nil
}

func (m *Manager) installAsset(ctx context.Context, c cache.Cache, key cache.Key) error {
	req, err := http.NewRequestWithContext(ctx, key.Method, key.URL, nil)
	if err != nil {
		return fmt.Errorf("asset %s: %w", key.URL, err)
	}
	resp, err := m.do(req)
	if err != nil {
		return fmt.Errorf("asset %s: %w", key.URL, err)
	}
	if !resp.OK() {
		return fmt.Errorf("asset %s: status %d", key.URL, resp.Status)
	}
	if err := c.Put(ctx, key, resp); err != nil {
		return fmt.Errorf("asset %s: store: %w", key.URL, err)
	}
	return nil
}

// Activate deletes outdated caches and marks the manager active.
// Deletion failures are logged and skipped.
func (m *Manager) Activate(ctx context.Context) error {
	if err := m.transition(StateActivating); err != nil {
		return err
	}
	if _, err := m.PurgeOutdated(ctx); err != nil {
		m.logger.Warn("purge outdated caches", slog.Any("error", err))
	}
	return m.transition(StateActivated)
}

// Outdated reports whether Activate deletes the cache called name: its
// name differs from CacheName and starts with CachePrefix. With an empty
// prefix every other cache is outdated.
func (m *Manager) Outdated(name string) bool {
	return name != m.cfg.CacheName && strings.HasPrefix(name, m.cfg.CachePrefix)
}

// PurgeOutdated deletes every Outdated cache and returns the deleted
// names. Individual failures do not stop the purge and are joined into the
// returned error.
func (m *Manager) PurgeOutdated(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if !m.Outdated(name) {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			m.logger.Warn("delete outdated cache", slog.String("name", name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		m.metrics.cacheDeleted()
		m.logger.Info("deleted outdated cache", slog.String("name", name))
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// Wait blocks until all background refreshes have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// do sends req and snapshots the response.
func (m *Manager) do(req *http.Request) (*cache.Response, error) {
	resp, err := m.network.Do(req)
	if err != nil {
		return nil, err
	}
	snap, err := cache.FromHTTP(resp, m.maxBodyBytes)
	if err != nil {
		return nil, err
	}
	snap.StoredAt = m.now()
	return snap, nil
}

// open returns the manager's cache, or nil when it does not exist. Only
// Install creates the cache, so a purged cache stays purged.
func (m *Manager) open(ctx context.Context) (cache.Cache, error) {
	ok, err := m.storage.Has(ctx, m.cfg.CacheName)
	if err != nil || !ok {
		return nil, err
	}
	return m.storage.Open(ctx, m.cfg.CacheName)
}
