package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
)

// Transport names
const (
	TransportArchive = "archive"
	TransportS3      = "s3"
	TransportLocal   = "local"
	TransportGDrive  = "gdrive"
)

// Config represents the complete configuration for bulkupload
type Config struct {
	// DataDir holds the ledger database, identifier memory, locks and logs
	DataDir string `mapstructure:"data_dir"`

	// Transport selects the remote store: archive, s3, gdrive or local
	Transport string `mapstructure:"transport"`

	Archive ArchiveConfig `mapstructure:"archive"`
	S3      S3Config      `mapstructure:"s3"`
	GDrive  GDriveConfig  `mapstructure:"gdrive"`
	Local   LocalConfig   `mapstructure:"local"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`

	// ConfigFile is the file the configuration was read from, if any
	ConfigFile string `mapstructure:"-"`
}

// ArchiveConfig configures the Internet Archive transport
type ArchiveConfig struct {
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	MetadataURL  string        `mapstructure:"metadata_url"`
	UploadURL    string        `mapstructure:"upload_url"`
	Retries      int           `mapstructure:"retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait time.Duration `mapstructure:"retry_max_wait"`
	Timeout      time.Duration `mapstructure:"timeout"`
	QueueDerive  bool          `mapstructure:"queue_derive"`
}

// S3Config configures the S3 transport
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// GDriveConfig configures the Google Drive transport. Items are folders
// below Root.
type GDriveConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// TokenFile defaults to gdrive-token.json in the data directory
	TokenFile string `mapstructure:"token_file"`
	Root      string `mapstructure:"root"`
}

// TokenPath returns the OAuth token file for the gdrive transport
func (c *Config) TokenPath() string {
	if c.GDrive.TokenFile != "" {
		return ExpandPath(c.GDrive.TokenFile)
	}
	return filepath.Join(c.DataDir, "gdrive-token.json")
}

// LocalConfig configures the local mirror transport
type LocalConfig struct {
	Root string `mapstructure:"root"`
	Hash string `mapstructure:"hash"`
}

// SyncConfig controls a run
type SyncConfig struct {
	// Verify runs the verification pass after transfers
	Verify bool `mapstructure:"verify"`

	// HashWorkers bounds parallel hashing during verification; 0 = CPUs
	HashWorkers int `mapstructure:"hash_workers"`

	LockStaleTimeout time.Duration `mapstructure:"lock_stale_timeout"`
}

// LogConfig controls logging
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig controls the rotated log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", domain.ErrConfigInvalid)
	}

	// credentials are checked by the transport constructors
	switch c.Transport {
	case TransportArchive, TransportS3, TransportGDrive, TransportLocal:
	default:
		return fmt.Errorf("%w: %q", domain.ErrTransportNotFound, c.Transport)
	}

	if c.Archive.Retries < 0 {
		return fmt.Errorf("%w: archive.retries cannot be negative", domain.ErrConfigInvalid)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("%w: s3.access_key and s3.secret_key must be set together", domain.ErrConfigInvalid)
	}
	if !checksum.IsSupported(checksum.Algorithm(c.Local.Hash)) {
		return fmt.Errorf("%w: unsupported local.hash %q", domain.ErrConfigInvalid, c.Local.Hash)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", domain.ErrConfigInvalid, err)
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: log.format: %v", domain.ErrConfigInvalid, err)
	}

	if c.Sync.HashWorkers < 0 {
		return fmt.Errorf("%w: sync.hash_workers cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Sync.LockStaleTimeout < 0 {
		return fmt.Errorf("%w: sync.lock_stale_timeout cannot be negative", domain.ErrConfigInvalid)
	}
	return nil
}

// LockDir returns the directory holding per-identifier run locks
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// LoggerConfig converts the log section into a logger configuration.
// Values are checked by Validate; unknown ones fall back to info/text.
func (c *Config) LoggerConfig() logger.Config {
	level, _ := logger.ParseLevel(c.Log.Level)
	format, _ := logger.ParseFormat(c.Log.Format)

	lc := logger.Config{
		Level:   level,
		Format:  format,
		Console: os.Stderr,
	}
	if c.Log.File.Enabled {
		path := c.Log.File.Path
		if path == "" {
			path = filepath.Join(c.DataDir, "logs", "bulkupload.log")
		}
		lc.File = logger.FileConfig{
			Path:       ExpandPath(path),
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			MaxBackups: c.Log.File.MaxBackups,
			Compress:   c.Log.File.Compress,
		}
	}
	return lc
}

// DefaultDataDir returns ~/.bulkupload, or a relative directory when the
// home directory is unknown
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".bulkupload")
	}
	return ".bulkupload"
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
