package offline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/meigma/offline/cache"
)

// Result is the answer to a fetched request.
type Result struct {
	Response *cache.Response
	Strategy Strategy
	Source   Source
}

// Fetch answers r. It never fails: when neither the cache nor the network
// can answer, a fallback response is synthesized.
//
// r.URL must be absolute. The request context bounds the network fetch but
// not the background refresh of a served cache entry.
func (m *Manager) Fetch(r *http.Request) *Result {
	strategy := m.classify(r)
	var res *Result
	switch strategy {
	case StrategyStatic:
		res = m.cacheFirst(r, true)
	case StrategyImage:
		res = m.cacheFirst(r, false)
	default:
		res = m.networkOnly(r)
	}
	res.Strategy = strategy
	m.metrics.fetch(strategy, res.Source)
	m.logger.Debug("fetch",
		slog.String("method", r.Method),
		slog.String("url", r.URL.Redacted()),
		slog.String("strategy", strategy.String()),
		slog.String("source", res.Source.String()),
		slog.Int("status", res.Response.Status),
	)
	return res
}

func (m *Manager) networkOnly(r *http.Request) *Result {
	resp, err := m.do(r)
	if err != nil {
		m.logger.Warn("network request failed", slog.String("url", r.URL.Redacted()), slog.Any("error", err))
		return &Result{Response: unavailableResponse(), Source: SourceFallback}
	}
	return &Result{Response: resp, Source: SourceNetwork}
}

// cacheFirst serves from the cache, falling back to the network and then
// to an offline response. revalidate refreshes a served entry in the
// background.
func (m *Manager) cacheFirst(r *http.Request, revalidate bool) *Result {
	ctx := r.Context()
	key := cache.NewKey(r.Method, r.URL)

	c, err := m.open(ctx)
	if err != nil {
		m.logger.Warn("open cache", slog.Any("error", err))
	}
	if c != nil {
		cached, ok, err := c.Match(ctx, key)
		if err != nil {
			m.logger.Warn("cache lookup", slog.String("key", key.String()), slog.Any("error", err))
		}
		if ok {
			if revalidate {
				m.revalidate(r, key)
			}
			return &Result{Response: cached, Source: SourceCache}
		}
	}

	resp, err := m.do(r)
	if err != nil {
		m.logger.Debug("network unavailable", slog.String("url", r.URL.Redacted()), slog.Any("error", err))
		return m.fallback(r, revalidate)
	}
	if resp.OK() && c != nil && m.State() != StateRedundant {
		if err := c.Put(ctx, key, resp.Clone()); err != nil {
			m.logger.Warn("cache store", slog.String("key", key.String()), slog.Any("error", err))
		}
	}
	return &Result{Response: resp, Source: SourceNetwork}
}

// revalidate refreshes key from the network without blocking the caller.
// Concurrent refreshes of one key share a single request; the refresh is
// registered before revalidate returns so a later hit always joins it.
func (m *Manager) revalidate(r *http.Request, key cache.Key) {
	if m.State() == StateRedundant {
		return
	}
	req := r.Clone(context.WithoutCancel(r.Context()))
	m.bg.Add(1)
	ch := m.refresh.DoChan(key.String(), func() (any, error) {
		m.refreshEntry(req, key)
		return nil, nil
	})
	go func() {
		defer m.bg.Done()
		<-ch
	}()
}

func (m *Manager) refreshEntry(req *http.Request, key cache.Key) {
	ctx := req.Context()
	resp, err := m.do(req)
	if err != nil {
		m.metrics.revalidation("error")
		m.logger.Debug("revalidate", slog.String("key", key.String()), slog.Any("error", err))
		return
	}
	if !resp.OK() || m.State() == StateRedundant {
		m.metrics.revalidation("skipped")
		return
	}
	c, err := m.open(ctx)
	if err == nil && c == nil {
		m.metrics.revalidation("skipped")
		return
	}
	if err == nil {
		err = c.Put(ctx, key, resp)
	}
	if err != nil {
		m.metrics.revalidation("error")
		m.logger.Warn("revalidate store", slog.String("key", key.String()), slog.Any("error", err))
		return
	}
	m.metrics.revalidation("updated")
}

// fallback answers a request that neither the cache nor the network could.
// static is true for the static strategy and false for the image strategy.
func (m *Manager) fallback(r *http.Request, static bool) *Result {
	if !static {
		return &Result{Response: placeholderResponse(), Source: SourceFallback}
	}
	if IsNavigation(r) {
		if doc := m.offlineDocument(r.Context()); doc != nil {
			return &Result{Response: doc, Source: SourceFallback}
		}
	} else if m.cfg.PlaceholderImages && isImage(r) {
		return &Result{Response: placeholderResponse(), Source: SourceFallback}
	}
	return &Result{Response: offlineTextResponse(), Source: SourceFallback}
}

func (m *Manager) offlineDocument(ctx context.Context) *cache.Response {
	c, err := m.open(ctx)
	if err != nil || c == nil {
		return nil
	}
	doc, ok, err := c.Match(ctx, m.offline)
	if err != nil {
		m.logger.Warn("offline document lookup", slog.Any("error", err))
	}
	if !ok {
		return nil
	}
	return doc
}
