// Package config loads apm's layered configuration.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. the user file, $XDG_CONFIG_HOME/apm/config.toml
//  3. the project file, .apmrc.toml in the project directory
//  4. APM_* environment variables
//  5. command-line flags the user set explicitly
//
// Environment variables map to keys by lowercasing and dropping the prefix;
// a double underscore separates nested keys (APM_CACHE__TTL=1h sets
// cache.ttl). A few common nested keys also have flat aliases such as
// APM_CACHE_DIR and APM_REDIS_ADDR.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/matzehuels/apm/pkg/cache"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/integrations/npm"
	"github.com/matzehuels/apm/pkg/store"
)

const (
	EnvPrefix       = "APM_"
	ProjectFileName = ".apmrc.toml"
	UserFileName    = "config.toml"
	AppName         = "apm"

	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Config is the effective configuration.
type Config struct {
	Registry     string            `koanf:"registry"`
	Scopes       map[string]string `koanf:"scopes"`
	Token        string            `koanf:"token"`
	Cache        CacheConfig       `koanf:"cache"`
	Redis        RedisConfig       `koanf:"redis"`
	FetchTimeout time.Duration     `koanf:"fetch_timeout"`
	Jobs         int               `koanf:"jobs"`
	LogLevel     string            `koanf:"loglevel"`
	Prefix       string            `koanf:"prefix"`
}

// CacheConfig locates the archive store and the metadata cache.
type CacheConfig struct {
	Dir     string        `koanf:"dir"`
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
}

// RedisConfig is used when cache.backend is "redis".
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// envAliases maps flat environment names to nested keys.
var envAliases = map[string]string{
	"cache_dir":      "cache.dir",
	"cache_backend":  "cache.backend",
	"cache_ttl":      "cache.ttl",
	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
}

// flagKeys maps command-line flags to configuration keys. Flags not listed
// here are command options, not configuration.
var flagKeys = map[string]string{
	"registry":  "registry",
	"token":     "token",
	"cache-dir": "cache.dir",
	"jobs":      "jobs",
	"loglevel":  "loglevel",
	"prefix":    "prefix",
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"registry": npm.DefaultRegistry,
		"cache": map[string]any{
			"dir":     defaultCacheDir(),
			"backend": BackendFile,
			"ttl":     5 * time.Minute,
		},
		"redis": map[string]any{
			"addr": "localhost:6379",
			"db":   0,
		},
		"fetch_timeout": 30 * time.Second,
		"jobs":          8,
		"loglevel":      "info",
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

// UserFile returns the path of the per-user configuration file.
func UserFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, UserFileName)
}

// Load builds the configuration for a project rooted at dir. flags may be
// nil.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	for _, path := range []string{UserFile(), filepath.Join(dir, ProjectFileName)} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "load %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, "__", ".")
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	backends := []string{BackendFile, BackendRedis, BackendNone}
	if !slices.Contains(backends, c.Cache.Backend) {
		return errors.New(errors.ErrCodeInvalidInput, "unknown cache backend %q (want %s)", c.Cache.Backend, strings.Join(backends, ", "))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "unknown log level %q", c.LogLevel)
	}
	if c.Jobs < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "jobs must be at least 1, got %d", c.Jobs)
	}
	if c.Registry == "" {
		return errors.New(errors.ErrCodeInvalidInput, "registry must not be empty")
	}
	return nil
}

// StoreDir is where verified archives are kept.
func (c *Config) StoreDir() string { return filepath.Join(c.Cache.Dir, "archives") }

// MetadataDir is where the file backend keeps registry metadata.
func (c *Config) MetadataDir() string { return filepath.Join(c.Cache.Dir, "metadata") }

// OpenStore opens the archive store.
func (c *Config) OpenStore() (*store.Store, error) {
	return store.New(c.StoreDir())
}

// OpenCache opens the metadata cache for the configured backend.
func (c *Config) OpenCache(ctx context.Context) (cache.Cache, error) {
	switch c.Cache.Backend {
	case BackendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   AppName + ":",
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	case BackendNone:
		return cache.NewNullCache(), nil
	default:
		fc, err := cache.NewFileCache(c.MetadataDir())
		if err != nil {
			return nil, err
		}
		return fc, nil
	}
}

// NewRegistryClient builds the registry client described by c.
func (c *Config) NewRegistryClient(meta cache.Cache, userAgent string) *npm.Client {
	return npm.NewClient(npm.Options{
		Registry:  c.Registry,
		Scopes:    c.Scopes,
		Token:     c.Token,
		Timeout:   c.FetchTimeout,
		Cache:     meta,
		TTL:       c.Cache.TTL,
		UserAgent: userAgent,
	})
}
