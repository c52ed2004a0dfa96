package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/offline/cache/memory"
	"github.com/meigma/offline/internal/testutil"
)

func TestHandlerServesFromCache(t *testing.T) {
	t.Parallel()

	m, _, network := installed(t)
	network.SetOffline(true)
	h, err := NewHandler(testOrigin, m)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/words.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get(HeaderSource))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, appAssets[testOrigin+"words.json"], rec.Body.String())
}

func TestHandlerHead(t *testing.T) {
	t.Parallel()

	m, _, _ := installed(t)
	h, err := NewHandler(testOrigin, m)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "network", rec.Header().Get(HeaderSource))
	assert.Equal(t, strconv.Itoa(len(appAssets[testOrigin+"index.html"])), rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestHandlerOfflineNavigation(t *testing.T) {
	t.Parallel()

	m, _, network := installed(t)
	network.SetOffline(true)
	h, err := NewHandler(testOrigin, m)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/play", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fallback", rec.Header().Get(HeaderSource))
	assert.Equal(t, appAssets[testOrigin+"index.html"], rec.Body.String())
}

func TestHandlerMapsPathsBeneathOrigin(t *testing.T) {
	t.Parallel()

	const origin = "https://static.example/enigma/"
	network := testutil.NewNetwork()
	network.Set(origin+"index.html", http.StatusOK, "text/html", "<html>sub</html>")
	network.Set(origin+"api/words?lang=fr", http.StatusOK, "application/json", "[]")
	m := newTestManager(t, DefaultConfig(origin), memory.New(), network)
	_ = m.Install(context.Background())

	h, err := NewHandler(origin, m)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, "<html>sub</html>", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/words?lang=fr", nil))
	assert.Equal(t, "[]", rec.Body.String())
	assert.Equal(t, "network", rec.Header().Get(HeaderSource))
}

func TestNewHandlerRejectsBadOrigin(t *testing.T) {
	t.Parallel()

	_, err := NewHandler("enigma.example", nil)
	assert.Error(t, err)
}
