package offline

import (
	"log/slog"
	"time"

	"github.com/meigma/offline/cache"
)

// DefaultInstallConcurrency bounds concurrent asset fetches during install.
const DefaultInstallConcurrency = 4

// Option configures a Manager or Registration.
type Option func(*settings)

type settings struct {
	logger             *slog.Logger
	metrics            *Metrics
	now                func() time.Time
	maxBodyBytes       int64
	installConcurrency int
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:             slog.New(slog.DiscardHandler),
		now:                time.Now,
		maxBodyBytes:       cache.DefaultMaxBodyBytes,
		installConcurrency: DefaultInstallConcurrency,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records fetch, install and lifecycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock sets the time source used to stamp stored responses.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxBodyBytes limits the size of a network response body that will be
// read. Larger responses count as network failures.
func WithMaxBodyBytes(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithInstallConcurrency bounds the number of assets fetched at once during
// install. Values < 1 mean unbounded.
func WithInstallConcurrency(n int) Option {
	return func(s *settings) {
		s.installConcurrency = n
	}
}
