package offline

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// HeaderSource reports where a response came from: network, cache or
// fallback.
const HeaderSource = "X-Offline-Source"

// Fetcher answers requests. Manager and Registration implement it.
type Fetcher interface {
	Fetch(r *http.Request) *Result
}

// Handler serves an app through a Fetcher. Incoming request paths are
// mapped beneath the origin, so a Handler mounted at "/" fronts the whole
// app.
type Handler struct {
	origin  *url.URL
	fetcher Fetcher
	logger  *slog.Logger
}

// NewHandler creates a Handler for origin. Only the logger option applies.
func NewHandler(origin string, fetcher Fetcher, opts ...Option) (*Handler, error) {
	u, err := parseOrigin(origin)
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)
	return &Handler{origin: u, fetcher: fetcher, logger: s.logger}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.URL = h.target(r.URL)
	out.Host = out.URL.Host
	out.RequestURI = ""

	res := h.fetcher.Fetch(out)
	w.Header().Set(HeaderSource, res.Source.String())
	if err := res.Response.Write(w, r.Method == http.MethodHead); err != nil {
		h.logger.Debug("write response", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func (h *Handler) target(in *url.URL) *url.URL {
	u := *h.origin
	u.Path = strings.TrimSuffix(h.origin.Path, "/") + "/" + strings.TrimPrefix(in.Path, "/")
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	return &u
}
