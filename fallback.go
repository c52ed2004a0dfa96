package offline

import (
	"net/http"

	"github.com/meigma/offline/cache"
)

// OfflineText is the body served for static requests that cannot be
// answered while offline.
const OfflineText = "Hors ligne 📴"

// PlaceholderSVG replaces images that cannot be loaded.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">` +
	`<rect width="200" height="200" fill="#222"/>` +
	`<text x="50%" y="50%" fill="#666" font-family="sans-serif" font-size="14" text-anchor="middle" dominant-baseline="middle">❌ Image indisponible</text>` +
	`</svg>`

func offlineTextResponse() *cache.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return cache.NewResponse(http.StatusServiceUnavailable, h, []byte(OfflineText))
}

func placeholderResponse() *cache.Response {
	h := make(http.Header)
	h.Set("Content-Type", "image/svg+xml")
	h.Set("Cache-Control", "no-store")
	return cache.NewResponse(http.StatusOK, h, []byte(PlaceholderSVG))
}

func unavailableResponse() *cache.Response {
	return cache.NewResponse(http.StatusServiceUnavailable, nil, nil)
}
