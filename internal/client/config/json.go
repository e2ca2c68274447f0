package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent
// keys leave the corresponding Config field untouched.
type JsonConfig struct {
	DatabasePath  *string         `json:"database_path"`
	CacheDir      *string         `json:"cache_dir"`
	Provider      *string         `json:"provider"`
	RemoteRoot    *string         `json:"remote_root"`
	S3Bucket      *string         `json:"s3_bucket"`
	S3Region      *string         `json:"s3_region"`
	S3Endpoint    *string         `json:"s3_endpoint"`
	S3AccessKey   *string         `json:"s3_access_key"`
	S3SecretKey   *string         `json:"s3_secret_key"`
	S3Prefix      *string         `json:"s3_prefix"`
	Workers       *int            `json:"workers"`
	RetryInterval *timex.Duration `json:"retry_interval"`
	LogFile       *string         `json:"log_file"`
	LogLevel      *string         `json:"log_level"`
	MetricsAddr   *string         `json:"metrics_addr"`
	Watch         *bool           `json:"watch"`
}

// parseJson overlays cfg with the values found in the file at path.
func parseJson(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set(&cfg.DatabasePath, jc.DatabasePath)
	set(&cfg.CacheDir, jc.CacheDir)
	set(&cfg.Provider, jc.Provider)
	set(&cfg.RemoteRoot, jc.RemoteRoot)
	set(&cfg.S3Bucket, jc.S3Bucket)
	set(&cfg.S3Region, jc.S3Region)
	set(&cfg.S3Endpoint, jc.S3Endpoint)
	set(&cfg.S3AccessKey, jc.S3AccessKey)
	set(&cfg.S3SecretKey, jc.S3SecretKey)
	set(&cfg.S3Prefix, jc.S3Prefix)
	set(&cfg.Workers, jc.Workers)
	if jc.RetryInterval != nil {
		cfg.RetryInterval = jc.RetryInterval.Duration
	}
	set(&cfg.LogFile, jc.LogFile)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.MetricsAddr, jc.MetricsAddr)
	set(&cfg.Watch, jc.Watch)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
