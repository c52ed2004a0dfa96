package offline

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/offline/cache/memory"
	"github.com/meigma/offline/internal/testutil"
)

func versionConfig(name string) Config {
	cfg := DefaultConfig(testOrigin)
	cfg.CacheName = name
	return cfg
}

func newTestRegistration(t *testing.T) (*Registration, *memory.Storage, *testutil.Network) {
	t.Helper()
	network := testutil.NewNetwork()
	scriptApp(network)
	storage := memory.New()
	reg := NewRegistration(storage, network)
	t.Cleanup(reg.Wait)
	return reg, storage, network
}

func TestRegisterFirstVersionActivates(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistration(t)
	m, err := reg.Register(context.Background(), DefaultConfig(testOrigin))
	require.NoError(t, err)

	assert.Same(t, m, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateActivated, m.State())
}

func TestRegisterSameVersionIsNoop(t *testing.T) {
	t.Parallel()

	reg, _, network := newTestRegistration(t)
	m1, err := reg.Register(context.Background(), DefaultConfig(testOrigin))
	require.NoError(t, err)
	calls := network.Total()

	m2, err := reg.Register(context.Background(), DefaultConfig(testOrigin))
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, calls, network.Total())
}

func TestRegisterCompleteInstallSkipsWaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, storage, _ := newTestRegistration(t)
	v1, err := reg.Register(ctx, versionConfig("enigma-cache-v1"))
	require.NoError(t, err)
	client := reg.Connect()
	assert.Same(t, v1, client.Controller())

	v2, err := reg.Register(ctx, versionConfig("enigma-cache-v2"))
	require.NoError(t, err)

	assert.Same(t, v2, reg.Active())
	assert.Same(t, v2, client.Controller())
	assert.Equal(t, StateRedundant, v1.State())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v2"}, names)
}

func TestRegisterIncompleteInstallWaitsForClients(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, storage, network := newTestRegistration(t)
	v1, err := reg.Register(ctx, versionConfig("enigma-cache-v1"))
	require.NoError(t, err)
	client := reg.Connect()

	network.Set(testOrigin+"words.json", http.StatusBadGateway, "text/plain", "")
	v2, err := reg.Register(ctx, versionConfig("enigma-cache-v2"))
	require.NoError(t, err)

	assert.Same(t, v1, reg.Active())
	assert.Same(t, v2, reg.Waiting())
	assert.Equal(t, StateInstalled, v2.State())
	assert.Same(t, v1, client.Controller())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v1", "enigma-cache-v2"}, names)

	reg.Disconnect(ctx, client)
	assert.Same(t, v2, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, StateActivated, v2.State())
	assert.Equal(t, StateRedundant, v1.State())

	names, err = storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v2"}, names)
}

func TestSkipWaitingMessagePromotesWaitingVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, _, network := newTestRegistration(t)
	_, err := reg.Register(ctx, versionConfig("enigma-cache-v1"))
	require.NoError(t, err)
	a, b := reg.Connect(), reg.Connect()
	assert.NotEqual(t, a.ID, b.ID)

	network.SetOffline(true)
	v2, err := reg.Register(ctx, versionConfig("enigma-cache-v2"))
	require.NoError(t, err)
	require.Same(t, v2, reg.Waiting())

	require.NoError(t, reg.HandleMessage(ctx, Message{Type: MessageSkipWaiting}))
	assert.Same(t, v2, reg.Active())
	assert.Same(t, v2, a.Controller())
	assert.Same(t, v2, b.Controller())
	assert.Equal(t, 2, reg.Clients())
}

func TestRegisterReplacesWaitingVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, _, network := newTestRegistration(t)
	_, err := reg.Register(ctx, versionConfig("enigma-cache-v1"))
	require.NoError(t, err)
	reg.Connect()

	network.SetOffline(true)
	v2, err := reg.Register(ctx, versionConfig("enigma-cache-v2"))
	require.NoError(t, err)
	v3, err := reg.Register(ctx, versionConfig("enigma-cache-v3"))
	require.NoError(t, err)

	assert.Same(t, v3, reg.Waiting())
	assert.Equal(t, StateRedundant, v2.State())
}

func TestRetiredVersionRefreshKeepsCachePurged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network := testutil.NewNetwork()
	scriptApp(network)
	style := testOrigin + "style.css"
	network.Set(style, http.StatusOK, "text/css", "body{}")
	storage := memory.New()
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := NewRegistration(storage, network, WithMetrics(metrics))

	v1, err := reg.Register(ctx, versionConfig("enigma-cache-v1"))
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, v1.Fetch(newRequest(http.MethodGet, style)).Source)

	release := network.Block(style)
	defer release()
	require.Equal(t, SourceCache, v1.Fetch(newRequest(http.MethodGet, style)).Source)

	_, err = reg.Register(ctx, versionConfig("enigma-cache-v2"))
	require.NoError(t, err)
	require.Equal(t, StateRedundant, v1.State())

	release()
	reg.Wait()

	assert.InDelta(t, 1, promtest.ToFloat64(metrics.revalidations.WithLabelValues("skipped")), 0)
	assert.Empty(t, reg.retired)
	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v2"}, names)
}

func TestRegisterInvalidConfig(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistration(t)
	_, err := reg.Register(context.Background(), versionConfig(""))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, reg.Active())
}

func TestRegistrationFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, _, network := newTestRegistration(t)

	res := reg.Fetch(newRequest(http.MethodGet, testOrigin+"index.html"))
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, StrategyNetworkOnly, res.Strategy)

	network.SetOffline(true)
	res = reg.Fetch(newRequest(http.MethodGet, testOrigin+"index.html"))
	assert.Equal(t, http.StatusServiceUnavailable, res.Response.Status)

	network.SetOffline(false)
	_, err := reg.Register(ctx, DefaultConfig(testOrigin))
	require.NoError(t, err)
	network.SetOffline(true)

	res = reg.Fetch(newRequest(http.MethodGet, testOrigin+"index.html"))
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, appAssets[testOrigin+"index.html"], string(res.Response.Body))
}

func TestRegistrationMessagesWithoutWorker(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistration(t)
	ctx := context.Background()
	assert.NoError(t, reg.HandleMessage(ctx, Message{Type: MessageSkipWaiting}))
	assert.NoError(t, reg.HandleMessage(ctx, Message{Type: MessageGetCacheStatus}))
	assert.ErrorIs(t, reg.HandleMessage(ctx, Message{Type: "PING"}), ErrUnknownMessage)
}
