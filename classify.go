package offline

import (
	"net/http"
	"strings"
)

// Strategy is the serving strategy chosen for a request.
type Strategy int

// Serving strategies.
const (
	// StrategyPassthrough forwards non-GET, cross-origin and allowlisted
	// requests to the network without touching the cache.
	StrategyPassthrough Strategy = iota
	// StrategyStatic serves cache-first and refreshes in the background.
	StrategyStatic
	// StrategyImage serves cache-first and falls back to a placeholder.
	StrategyImage
	// StrategyNetworkOnly always goes to the network.
	StrategyNetworkOnly
)

// String returns the strategy name used in logs and metrics.
func (s Strategy) String() string {
	switch s {
	case StrategyPassthrough:
		return "passthrough"
	case StrategyStatic:
		return "static"
	case StrategyImage:
		return "image"
	case StrategyNetworkOnly:
		return "network-only"
	default:
		return "unknown"
	}
}

// Source says where a response came from.
type Source int

// Response sources.
const (
	SourceNetwork Source = iota
	SourceCache
	// SourceFallback marks synthesized or offline-document responses.
	SourceFallback
)

// String returns the source name, as sent in the X-Offline-Source header.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Request metadata headers sent by browsers.
const (
	headerFetchMode = "Sec-Fetch-Mode"
	headerFetchDest = "Sec-Fetch-Dest"
)

// Destination returns the request destination ("document", "image", ...)
// from Sec-Fetch-Dest, or "" when absent.
func Destination(r *http.Request) string {
	return strings.ToLower(r.Header.Get(headerFetchDest))
}

// IsNavigation reports whether r loads a full document.
func IsNavigation(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(headerFetchMode), "navigate") || Destination(r) == "document"
}

func isImage(r *http.Request) bool {
	return Destination(r) == "image"
}

// classify picks the strategy for r. Order matters: the cross-origin and
// method checks run before any extension match. Same-origin navigations
// are served like static files so extensionless pages such as "./" work
// offline.
func (m *Manager) classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet || !m.sameOrigin(r) {
		for _, rule := range m.cfg.Passthrough {
			if rule.Matches(r.URL) {
				return StrategyPassthrough
			}
		}
		if r.Method == http.MethodGet && m.cfg.PlaceholderImages && isImage(r) {
			return StrategyImage
		}
		return StrategyPassthrough
	}
	if _, ok := m.static[extension(r.URL.Path)]; ok || IsNavigation(r) {
		return StrategyStatic
	}
	if m.cfg.PlaceholderImages && isImage(r) {
		return StrategyImage
	}
	return StrategyNetworkOnly
}

func (m *Manager) sameOrigin(r *http.Request) bool {
	return strings.EqualFold(r.URL.Scheme, m.origin.Scheme) && strings.EqualFold(r.URL.Host, m.origin.Host)
}
