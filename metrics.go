package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the cache manager. A nil
// *Metrics records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	revalidations *prometheus.CounterVec
	installAssets *prometheus.CounterVec
	cachesDeleted prometheus.Counter
	workerState   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigma_offline_fetches_total",
				Help: "Requests answered by the cache manager",
			},
			[]string{"strategy", "source"},
		),
		revalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigma_offline_revalidations_total",
				Help: "Background refreshes of cached static assets",
			},
			[]string{"result"},
		),
		installAssets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigma_offline_install_assets_total",
				Help: "Assets fetched during install",
			},
			[]string{"cache", "result"},
		),
		cachesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "enigma_offline_caches_deleted_total",
				Help: "Outdated caches deleted on activation",
			},
		),
		workerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enigma_offline_worker_state",
				Help: "Lifecycle state of the worker owning each cache (0 parsed .. 5 redundant)",
			},
			[]string{"cache"},
		),
	}
}

func (m *Metrics) fetch(strategy Strategy, source Source) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strategy.String(), source.String()).Inc()
}

func (m *Metrics) revalidation(result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) installAsset(cacheName, result string) {
	if m == nil {
		return
	}
	m.installAssets.WithLabelValues(cacheName, result).Inc()
}

func (m *Metrics) cacheDeleted() {
	if m == nil {
		return
	}
	m.cachesDeleted.Inc()
}

func (m *Metrics) state(cacheName string, s State) {
	if m == nil {
		return
	}
	m.workerState.WithLabelValues(cacheName).Set(float64(s))
}
