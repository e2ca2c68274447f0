package config

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/flagx"
	"github.com/spf13/pflag"
)

// Loader owns the configuration flags of a command.
type Loader struct {
	configPath string
	overlay    *flagx.Overlay[Config]
}

// BindFlags registers the configuration flags on fs. Flag defaults
// mirror LoadDefaults so help output shows them.
func BindFlags(fs *pflag.FlagSet) *Loader {
	var d Config
	d.LoadDefaults()

	l := &Loader{overlay: flagx.NewOverlay[Config](fs)}
	fs.StringVarP(&l.configPath, "config", "c", "", "path to JSON config file")

	o := l.overlay
	o.String("db", "", d.DatabasePath, "path of the local vault cache database", func(c *Config) *string { return &c.DatabasePath })
	o.String("cache-dir", "", d.CacheDir, "directory holding local copies", func(c *Config) *string { return &c.CacheDir })
	o.String("provider", "p", d.Provider, "remote provider: localfs or s3", func(c *Config) *string { return &c.Provider })
	o.String("remote-root", "r", d.RemoteRoot, "root directory of the localfs provider", func(c *Config) *string { return &c.RemoteRoot })
	o.String("s3-bucket", "", d.S3Bucket, "S3 bucket", func(c *Config) *string { return &c.S3Bucket })
	o.String("s3-region", "", d.S3Region, "S3 region", func(c *Config) *string { return &c.S3Region })
	o.String("s3-endpoint", "", d.S3Endpoint, "custom S3 endpoint, e.g. MinIO", func(c *Config) *string { return &c.S3Endpoint })
	o.String("s3-access-key", "", d.S3AccessKey, "S3 access key", func(c *Config) *string { return &c.S3AccessKey })
	o.String("s3-secret-key", "", d.S3SecretKey, "S3 secret key", func(c *Config) *string { return &c.S3SecretKey })
	o.String("s3-prefix", "", d.S3Prefix, "key prefix of the vault inside the bucket", func(c *Config) *string { return &c.S3Prefix })
	o.Int("workers", "w", d.Workers, "number of concurrent remote operations", func(c *Config) *int { return &c.Workers })
	o.Duration("retry-interval", "i", d.RetryInterval, "interval between retries of failed work", func(c *Config) *time.Duration { return &c.RetryInterval })
	o.String("log-file", "", d.LogFile, "write logs to this file instead of stderr", func(c *Config) *string { return &c.LogFile })
	o.String("log-level", "", d.LogLevel, "debug, info, warn or error", func(c *Config) *string { return &c.LogLevel })
	o.String("metrics-addr", "", d.MetricsAddr, "serve prometheus metrics on this address", func(c *Config) *string { return &c.MetricsAddr })
	o.Bool("watch", "", d.Watch, "upload local copies when they change", func(c *Config) *bool { return &c.Watch })
	return l
}

// Load applies defaults, then the JSON file given with -c/--config, then
// flags set on the command line. Later sources take precedence.
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if l.configPath != "" {
		if err := parseJson(l.configPath, cfg); err != nil {
			return nil, err
		}
	}
	l.overlay.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
