// Package config loads runtime configuration for the gophvault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config.
//  3. Command-line flags, which override earlier values. Only flags that
//     were actually passed take part.
//
// # JSON schema
//
// Intervals use timex.Duration, so they can be strings like "30s" or
// integer nanoseconds:
//
//	{
//	  "database_path": "/home/me/.config/gophvault/vault.db",
//	  "cache_dir": "/home/me/.config/gophvault/cache",
//	  "provider": "s3",
//	  "s3_bucket": "vault",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "workers": 4,
//	  "retry_interval": "1m",
//	  "log_file": "/var/log/gophvault.log",
//	  "watch": true
//	}
//
// Environment variables are not read; use the JSON file or flags.
package config
