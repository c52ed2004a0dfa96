//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/offline/cache/valkey"
)

// --- Valkey Container Setup ---

var (
	valkeyOnce sync.Once
	valkeyAddr string
	valkeyErr  error
)

// getValkey returns the shared Valkey address, starting the container if needed.
// The container is shared across all tests for performance.
func getValkey(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	valkeyOnce.Do(func() {
		valkeyAddr, valkeyErr = startValkeyContainer(context.Background())
	})

	if valkeyErr != nil {
		tb.Fatalf("start valkey container: %v", valkeyErr)
	}

	return valkeyAddr
}

// startValkeyContainer starts a valkey container and returns the host:port address.
func startValkeyContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "valkey/valkey:8-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start valkey container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve valkey host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve valkey port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

// newValkeyStore connects to the shared container under a namespace unique
// to the test.
func newValkeyStore(tb testing.TB) *valkey.Store {
	tb.Helper()

	store, err := valkey.Dial([]string{getValkey(tb)}, valkey.WithPrefix("test:"+tb.Name()))
	require.NoError(tb, err, "dial valkey")
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// --- App Origin ---

// appFiles is the ENIGMA app served by the test origin.
var appFiles = map[string]struct{ contentType, body string }{
	"/":              {"text/html; charset=utf-8", "<html>enigma</html>"},
	"/index.html":    {"text/html; charset=utf-8", "<html>enigma</html>"},
	"/manifest.json": {"application/json", `{"name":"ENIGMA"}`},
	"/words.json":    {"application/json", `["cipher","rotor","plugboard"]`},
	"/style.css":     {"text/css", "body{background:#111}"},
}

// origin is an httptest server for the app that can be taken down.
type origin struct {
	*httptest.Server
	down atomic.Bool
}

func newOrigin(tb testing.TB) *origin {
	tb.Helper()

	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.down.Load() {
			// Hijack and drop the connection so the client sees a network error.
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		f, ok := appFiles[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", f.contentType)
		_, _ = w.Write([]byte(f.body))
	}))
	tb.Cleanup(o.Close)
	return o
}
