package offline

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/meigma/offline/cache"
)

// Defaults for the ENIGMA deployment.
const (
	DefaultCacheName       = "enigma-cache-v1"
	DefaultCachePrefix     = "enigma-cache-"
	DefaultOfflineDocument = "./index.html"
)

// DefaultAssets is the asset list precached on install.
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"./words.json",
}

// DefaultStaticExtensions are the file extensions served cache-first.
var DefaultStaticExtensions = []string{
	"html", "css", "js", "json", "png", "jpg", "jpeg", "svg", "webp", "ico",
}

// PassthroughRule matches external endpoints that must always go to the
// network. Both fields are substring matches; an empty field matches
// anything.
type PassthroughRule struct {
	HostContains string `yaml:"host_contains" json:"host_contains"`
	PathContains string `yaml:"path_contains" json:"path_contains"`
}

// Matches reports whether u is covered by the rule.
func (p PassthroughRule) Matches(u *url.URL) bool {
	if p.HostContains == "" && p.PathContains == "" {
		return false
	}
	return strings.Contains(u.Host, p.HostContains) && strings.Contains(u.Path, p.PathContains)
}

// DefaultPassthrough lets web searches through untouched.
var DefaultPassthrough = []PassthroughRule{
	{HostContains: "google.com", PathContains: "/search"},
}

// Config describes one version of the offline cache.
//
// A Config is copied into the Manager at construction; later changes to the
// caller's value have no effect.
type Config struct {
	// CacheName is the version tag, e.g. "enigma-cache-v1".
	CacheName string `validate:"required"`

	// CachePrefix scopes activation cleanup: only caches whose name starts
	// with it are deleted. Empty deletes every other cache.
	CachePrefix string

	// Origin is the absolute base URL the app is served from.
	Origin string `validate:"required,url"`

	// Assets are precached on install, relative to Origin.
	Assets []string `validate:"dive,required"`

	// OfflineDocument is served to navigations when both cache and network
	// fail. It should be one of Assets.
	OfflineDocument string `validate:"required"`

	// StaticExtensions lists extensions (without the dot) served
	// cache-first with background revalidation.
	StaticExtensions []string `validate:"dive,required"`

	// Passthrough lists external endpoints that bypass the cache.
	Passthrough []PassthroughRule

	// PlaceholderImages enables the image strategy and its SVG fallback.
	PlaceholderImages bool
}

// DefaultConfig returns the ENIGMA configuration for the given origin.
func DefaultConfig(origin string) Config {
	return Config{
		CacheName:         DefaultCacheName,
		CachePrefix:       DefaultCachePrefix,
		Origin:            origin,
		Assets:            slices.Clone(DefaultAssets),
		OfflineDocument:   DefaultOfflineDocument,
		StaticExtensions:  slices.Clone(DefaultStaticExtensions),
		Passthrough:       slices.Clone(DefaultPassthrough),
		PlaceholderImages: true,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cache.ValidateName(c.CacheName); err != nil {
		return fmt.Errorf("%w: cache name %q: %w", ErrInvalidConfig, c.CacheName, err)
	}
	if _, err := parseOrigin(c.Origin); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) clone() Config {
	c.Assets = slices.Clone(c.Assets)
	c.StaticExtensions = slices.Clone(c.StaticExtensions)
	c.Passthrough = slices.Clone(c.Passthrough)
	return c
}

// parseOrigin parses an absolute http(s) base URL. The path always ends in
// a slash so relative assets resolve beneath it.
func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q: missing host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	return u, nil
}

// resolve maps a relative asset path onto the origin.
func resolve(origin *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("asset %q: %w", ref, err)
	}
	return origin.ResolveReference(r), nil
}

// extensions normalizes an extension list into a lookup set.
func extensions(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, ext := range list {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return set
}

// extension returns the lowercase extension of a URL path without the dot.
func extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}
