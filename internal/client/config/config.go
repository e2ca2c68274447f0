package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ProviderLocalFS = "localfs"
	ProviderS3      = "s3"
)

// Config holds runtime settings for the gophvault CLI.
type Config struct {
	DatabasePath string
	CacheDir     string

	Provider   string
	RemoteRoot string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string

	Workers       int
	RetryInterval time.Duration

	LogFile  string
	LogLevel string

	MetricsAddr string
	Watch       bool
}

// LoadDefaults populates c with defaults rooted in the user's config
// directory.
func (c *Config) LoadDefaults() {
	base := defaultBase()
	c.DatabasePath = filepath.Join(base, "vault.db")
	c.CacheDir = filepath.Join(base, "cache")
	c.Provider = ProviderLocalFS
	c.RemoteRoot = filepath.Join(base, "remote")
	c.S3Region = "us-east-1"
	c.Workers = 4
	c.RetryInterval = time.Minute
	c.LogLevel = "info"
}

func defaultBase() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gophvault")
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocalFS:
		if c.RemoteRoot == "" {
			return fmt.Errorf("provider %s needs remote_root", c.Provider)
		}
	case ProviderS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("provider %s needs s3_bucket", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive, got %s", c.RetryInterval)
	}
	return nil
}
