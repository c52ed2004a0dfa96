package server

import (
	"fmt"

	"github.com/meigma/offline/cache"
	"github.com/meigma/offline/cache/disk"
	"github.com/meigma/offline/cache/memory"
	"github.com/meigma/offline/cache/sqlite"
	"github.com/meigma/offline/cache/valkey"
	"github.com/meigma/offline/internal/config"
)

// OpenStorage opens the configured cache backend. The returned close
// function releases it.
func OpenStorage(cfg config.Storage) (cache.Storage, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), func() error { return nil }, nil
	case config.DriverDisk:
		s, err := disk.New(cfg.Path,
			disk.WithMaxBytes(cfg.MaxBytes),
			disk.WithCompression(cfg.Compression),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open disk storage: %w", err)
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return s, s.Close, nil
	case config.DriverValkey:
		var opts []valkey.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, valkey.WithPrefix(cfg.KeyPrefix))
		}
		s, err := valkey.Dial(cfg.Addrs, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open valkey storage: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
