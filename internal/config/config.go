// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	ierrors "incr/internal/errors"
	"incr/internal/fingerprint"
	"incr/internal/snapshot"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix = "INCR"

	DefaultStateDir    = ".incr"
	DefaultLogLevel    = "info"
	DefaultCacheSize   = 4096
	DefaultCompression = true
	DefaultDebounce    = 500 * time.Millisecond
)

type Config struct {
	StateDir    string `mapstructure:"state_dir"`
	LogLevel    string `mapstructure:"log_level"` // debug, info, warn, error
	Hash        string `mapstructure:"hash"`      // xxh3, sha256
	CacheSize   int    `mapstructure:"cache_size"`
	Compression bool   `mapstructure:"compression"`

	Journal struct {
		Path string `mapstructure:"path"` // Empty disables the journal
	} `mapstructure:"journal"`

	Metrics struct {
		File string `mapstructure:"file"` // Textfile written after each run, empty disables
	} `mapstructure:"metrics"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`
}

// ConfigPath returns the per-environment config file, selected by INCR_ENV.
func ConfigPath() string {
	env := os.Getenv("INCR_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("incr.%s.json", env)
}

// Load reads the config file at path, applies INCR_ environment overrides
// and fills in defaults. With an empty path the file from ConfigPath is
// used if it exists; no file at all is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(ConfigPath()); err == nil {
			path = ConfigPath()
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, ierrors.ConfigError(fmt.Sprintf("config file %s not found", path))
			}
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("hash", fingerprint.XXH3)
	v.SetDefault("cache_size", DefaultCacheSize)
	v.SetDefault("compression", DefaultCompression)
	v.SetDefault("journal.path", "")
	v.SetDefault("metrics.file", "")
	v.SetDefault("watch.debounce", DefaultDebounce)
}

// Validate reports the first invalid setting as a CONFIG error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return ierrors.ConfigError("state_dir cannot be empty")
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return ierrors.ConfigError(fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	if _, err := fingerprint.New(c.Hash); err != nil {
		return ierrors.ConfigError(fmt.Sprintf("unknown hash algorithm %q, want one of %s",
			c.Hash, strings.Join(fingerprint.Algorithms(), ", ")))
	}
	if c.CacheSize < 0 {
		return ierrors.ConfigError("cache_size cannot be negative")
	}
	if c.Watch.Debounce <= 0 {
		return ierrors.ConfigError("watch.debounce must be positive")
	}
	return nil
}

// NewStore builds the snapshot store described by the config.
func (c *Config) NewStore(logger *zap.Logger) (*snapshot.Store, error) {
	hasher, err := fingerprint.New(c.Hash)
	if err != nil {
		return nil, err
	}
	return snapshot.NewStore(snapshot.Options{
		Hasher:    hasher,
		Compress:  c.Compression,
		CacheSize: c.CacheSize,
		Logger:    logger,
	})
}
