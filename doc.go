// Package offline keeps a web app usable without a network connection.
//
// A [Manager] owns one version of the app's offline cache. It precaches a
// fixed list of assets on install, deletes older versions on activation and
// answers requests with one of four strategies:
//   - static files: cache-first, refreshed in the background
//   - images: cache-first, with a placeholder SVG when unavailable
//   - allowlisted and cross-origin requests: straight to the network
//   - everything else: network-only
//
// When neither cache nor network can answer, navigations receive the
// cached offline document and other requests a 503.
//
// # Quick Start
//
//	storage, err := disk.New("/var/cache/enigma")
//	if err != nil {
//	    return err
//	}
//	reg := offline.NewRegistration(storage, offlinehttp.NewClient(),
//	    offline.WithLogger(logger),
//	)
//	if _, err := reg.Register(ctx, offline.DefaultConfig("https://enigma.example/")); err != nil {
//	    return err
//	}
//	h, err := offline.NewHandler("https://enigma.example/", reg)
//
// # Versions
//
// A [Registration] hosts successive versions. A new version waits while
// clients are connected unless it completed its install or receives a
// SKIP_WAITING message; activation retires the previous version and
// deletes its cache.
//
// # Storage
//
// Caches live behind [cache.Storage]; see the memory, disk, sqlite and
// valkey subpackages of package cache.
package offline
