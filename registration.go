package offline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/meigma/offline/cache"
)

// Registration hosts the managers of one app: it installs new versions,
// keeps at most one waiting, activates it when allowed and routes requests
// to the active one.
//
// A new version is activated right after install when no version is
// active, when it requested to skip waiting, or when no clients are
// connected. Otherwise it waits until the last client disconnects or a
// SKIP_WAITING message arrives.
type Registration struct {
	storage cache.Storage
	network Network
	opts    []Option
	logger  *slog.Logger
	maxBody int64

	mu      sync.Mutex
	active  *Manager
	waiting *Manager
	retired []*Manager
	clients map[string]*Client
}

// Client is a page controlled by the registration.
type Client struct {
	ID string

	reg        *Registration
	controller *Manager
}

// Controller returns the manager controlling the client, or nil.
func (c *Client) Controller() *Manager {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.controller
}

// NewRegistration creates an empty registration. opts apply to every
// manager it creates.
func NewRegistration(storage cache.Storage, network Network, opts ...Option) *Registration {
	s := newSettings(opts)
	return &Registration{
		storage: storage,
		network: network,
		opts:    opts,
		logger:  s.logger,
		maxBody: s.maxBodyBytes,
		clients: make(map[string]*Client),
	}
}

// Register installs cfg as a new version and returns its manager.
//
// Registering the cache name that is already active is a no-op. An
// incomplete install is logged; the version is still installed.
func (r *Registration) Register(ctx context.Context, cfg Config) (*Manager, error) {
	r.mu.Lock()
	if r.active != nil && r.active.cfg.CacheName == cfg.CacheName {
		active := r.active
		r.mu.Unlock()
		return active, nil
	}
	r.mu.Unlock()

	m, err := New(cfg, r.storage, r.network, r.opts...)
	if err != nil {
		return nil, err
	}
	m.setSkipWaitingHook(func() { r.promote(context.WithoutCancel(ctx), m) })

	if err := m.Install(ctx); err != nil {
		if !errors.Is(err, ErrInstallIncomplete) {
			return nil, err
		}
		r.logger.Warn("registered with incomplete install", slog.String("cache", cfg.CacheName), slog.Any("error", err))
	}

	r.mu.Lock()
	if prev := r.waiting; prev != nil {
		r.retired = append(r.retired, prev)
		defer prev.markRedundant()
	}
	r.waiting = m
	activate := r.active == nil || len(r.clients) == 0 || m.SkipWaitingRequested()
	r.mu.Unlock()

	if activate {
		r.promote(ctx, m)
	} else {
		r.logger.Info("new version waiting", slog.String("cache", cfg.CacheName))
	}
	return m, nil
}

// promote activates m if it is the waiting manager, retires the previous
// active manager and claims every client.
func (r *Registration) promote(ctx context.Context, m *Manager) {
	r.mu.Lock()
	if r.waiting != m {
		r.mu.Unlock()
		return
	}
	r.waiting = nil
	prev := r.active
	r.active = m
	if prev != nil {
		r.retired = append(r.retired, prev)
	}
	r.mu.Unlock()

	if prev != nil {
		prev.markRedundant()
	}
	if err := m.Activate(ctx); err != nil {
		r.logger.Warn("activate", slog.String("cache", m.cfg.CacheName), slog.Any("error", err))
	}

	r.mu.Lock()
	for _, c := range r.clients {
		c.controller = m
	}
	n := len(r.clients)
	r.mu.Unlock()
	r.logger.Info("version activated", slog.String("cache", m.cfg.CacheName), slog.Int("clients", n))
}

// Active returns the active manager, or nil.
func (r *Registration) Active() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed manager waiting for activation, or nil.
func (r *Registration) Waiting() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Connect adds a client controlled by the active manager.
func (r *Registration) Connect() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Client{ID: uuid.NewString(), reg: r, controller: r.active}
	r.clients[c.ID] = c
	return c
}

// Disconnect removes a client. When the last client leaves, a waiting
// manager is activated.
func (r *Registration) Disconnect(ctx context.Context, c *Client) {
	r.mu.Lock()
	delete(r.clients, c.ID)
	waiting := r.waiting
	promote := len(r.clients) == 0 && waiting != nil
	r.mu.Unlock()

	if promote {
		r.promote(ctx, waiting)
	}
}

// Lookup returns the connected client with the given ID.
func (r *Registration) Lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Clients returns the number of connected clients.
func (r *Registration) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Fetch answers req with the active manager. Without one, the request goes
// straight to the network.
func (r *Registration) Fetch(req *http.Request) *Result {
	if m := r.Active(); m != nil {
		return m.Fetch(req)
	}
	resp, err := r.network.Do(req)
	if err == nil {
		var snap *cache.Response
		snap, err = cache.FromHTTP(resp, r.maxBody)
		if err == nil {
			return &Result{Response: snap, Strategy: StrategyNetworkOnly, Source: SourceNetwork}
		}
	}
	r.logger.Warn("network request failed", slog.String("url", req.URL.Redacted()), slog.Any("error", err))
	return &Result{Response: unavailableResponse(), Strategy: StrategyNetworkOnly, Source: SourceFallback}
}

// HandleMessage routes a control message. SKIP_WAITING goes to the waiting
// manager when there is one; everything else goes to the active manager.
func (r *Registration) HandleMessage(ctx context.Context, msg Message) error {
	r.mu.Lock()
	target := r.active
	if msg.Type == MessageSkipWaiting && r.waiting != nil {
		target = r.waiting
	}
	r.mu.Unlock()

	if target == nil {
		if msg.Type == MessageSkipWaiting || msg.Type == MessageGetCacheStatus {
			return nil
		}
		return ErrUnknownMessage
	}
	return target.HandleMessage(ctx, msg)
}

// Wait drains background work of the active, waiting and retired
// managers. Retired managers are forgotten once drained.
func (r *Registration) Wait() {
	r.mu.Lock()
	retired := slices.Clone(r.retired)
	managers := append([]*Manager{r.active, r.waiting}, retired...)
	r.mu.Unlock()
	for _, m := range managers {
		if m != nil {
			m.Wait()
		}
	}

	r.mu.Lock()
	r.retired = slices.DeleteFunc(r.retired, func(m *Manager) bool {
		return slices.Contains(retired, m)
	})
	r.mu.Unlock()
}
