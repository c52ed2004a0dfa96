// Package config loads the enigma-offline server configuration from a YAML
// file, .env files and ENIGMA_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meigma/offline"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENIGMA_"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverDisk   = "disk"
	DriverSQLite = "sqlite"
	DriverValkey = "valkey"
)

// Config is the server configuration.
type Config struct {
	Listen   string `yaml:"listen" env:"LISTEN" validate:"required"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Metrics  bool   `yaml:"metrics" env:"METRICS"`

	Origin            string                    `yaml:"origin" env:"ORIGIN" validate:"required,url"`
	CacheName         string                    `yaml:"cache_name" env:"CACHE_NAME" validate:"required,excludesall=/"`
	CachePrefix       string                    `yaml:"cache_prefix" env:"CACHE_PREFIX"`
	Assets            []string                  `yaml:"assets" env:"ASSETS" envSeparator:"," validate:"dive,required"`
	OfflineDocument   string                    `yaml:"offline_document" env:"OFFLINE_DOCUMENT" validate:"required"`
	StaticExtensions  []string                  `yaml:"static_extensions" env:"STATIC_EXTENSIONS" envSeparator:","`
	Passthrough       []offline.PassthroughRule `yaml:"passthrough"`
	PlaceholderImages bool                      `yaml:"placeholder_images" env:"PLACEHOLDER_IMAGES"`

	Storage Storage `yaml:"storage" envPrefix:"STORAGE_"`
	Network Network `yaml:"network" envPrefix:"NETWORK_"`
}

// Storage selects and configures the cache backend.
type Storage struct {
	Driver      string   `yaml:"driver" env:"DRIVER" validate:"oneof=memory disk sqlite valkey"`
	Path        string   `yaml:"path" env:"PATH"`
	MaxBytes    int64    `yaml:"max_bytes" env:"MAX_BYTES" validate:"gte=0"`
	Compression bool     `yaml:"compression" env:"COMPRESSION"`
	Addrs       []string `yaml:"addrs" env:"ADDRS" envSeparator:","`
	KeyPrefix   string   `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// Network configures outbound requests.
type Network struct {
	Timeout   time.Duration     `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	UserAgent string            `yaml:"user_agent" env:"USER_AGENT"`
	Headers   map[string]string `yaml:"headers" env:"HEADERS"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	d := offline.DefaultConfig("http://localhost:8000/")
	return Config{
		Listen:            ":8080",
		LogLevel:          "info",
		Origin:            d.Origin,
		CacheName:         d.CacheName,
		CachePrefix:       d.CachePrefix,
		Assets:            d.Assets,
		OfflineDocument:   d.OfflineDocument,
		StaticExtensions:  d.StaticExtensions,
		Passthrough:       d.Passthrough,
		PlaceholderImages: d.PlaceholderImages,
		Storage: Storage{
			Driver:      DriverDisk,
			Path:        "enigma-cache",
			Compression: true,
		},
		Network: Network{
			Timeout:   30 * time.Second,
			UserAgent: "enigma-offline",
		},
	}
}

// LoadEnvFiles loads .env files into the process environment. A leading ~
// expands to the home directory. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if strings.HasPrefix(file, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			file = strings.Replace(file, "~", home, 1)
		}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (optional) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read file: %w", err)
		}
		if err := Decode(bytes.NewReader(content), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg. ${VAR} references are expanded from
// the environment; unknown fields are rejected.
func Decode(r io.Reader, cfg *Config) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(content))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config file: %w", err)
	}
	return nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Storage.Driver {
	case DriverDisk, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("invalid config: storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverValkey:
		if len(c.Storage.Addrs) == 0 {
			return errors.New("invalid config: storage.addrs is required for driver \"valkey\"")
		}
	}
	return c.Offline().Validate()
}

// Offline returns the cache manager configuration.
func (c Config) Offline() offline.Config {
	return offline.Config{
		CacheName:         c.CacheName,
		CachePrefix:       c.CachePrefix,
		Origin:            c.Origin,
		Assets:            c.Assets,
		OfflineDocument:   c.OfflineDocument,
		StaticExtensions:  c.StaticExtensions,
		Passthrough:       c.Passthrough,
		PlaceholderImages: c.PlaceholderImages,
	}
}
