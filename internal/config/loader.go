package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. BULKUPLOAD_ARCHIVE_SECRET_KEY
const EnvPrefix = "BULKUPLOAD"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "bulkupload"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "bulkupload"))
		paths = append(paths, filepath.Join(homeDir, ".bulkupload"))
	}

	return paths
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("transport", TransportArchive)

	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.metadata_url", "https://archive.org")
	v.SetDefault("archive.upload_url", "https://s3.us.archive.org")
	v.SetDefault("archive.retries", 5)
	v.SetDefault("archive.retry_wait", 2*time.Second)
	v.SetDefault("archive.retry_max_wait", 30*time.Second)
	v.SetDefault("archive.timeout", time.Duration(0))
	v.SetDefault("archive.queue_derive", false)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.path_style", false)

	v.SetDefault("gdrive.client_id", "")
	v.SetDefault("gdrive.client_secret", "")
	v.SetDefault("gdrive.token_file", "")
	v.SetDefault("gdrive.root", "bulkupload")

	v.SetDefault("local.root", "")
	v.SetDefault("local.hash", string(checksum.MD5))

	v.SetDefault("sync.verify", true)
	v.SetDefault("sync.hash_workers", 0)
	v.SetDefault("sync.lock_stale_timeout", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads and parses a configuration file.
// If path is empty, default locations are searched for config.yaml; when
// none exists the defaults and environment overrides are used. An explicit
// path that does not exist yields domain.ErrConfigNotFound.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		// Use specific file
		v.SetConfigFile(ExpandPath(path))
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		switch {
		case missing && path != "":
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		case missing:
			// defaults and environment only
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.Local.Root != "" {
		cfg.Local.Root = ExpandPath(cfg.Local.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
