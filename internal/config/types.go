// Package config contains all configuration types and loading logic.
package config

import "time"

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSize    int    `toml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `toml:"max_age" mapstructure:"max_age"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ProbeConfig controls how the CPU is probed.
type ProbeConfig struct {
	// PerCPU probes every logical CPU with its thread pinned.
	PerCPU bool `toml:"per_cpu" mapstructure:"per_cpu"`
	// Workers bounds the per-CPU probe pool; 0 means one per CPU.
	Workers int `toml:"workers" mapstructure:"workers"`
	// CrossCheck compares CPUID with the OS and other detectors.
	CrossCheck bool `toml:"crosscheck" mapstructure:"crosscheck"`
	// CacheTTL enables the opt-in snapshot cache used by the HTTP
	// endpoints.  Zero disables caching.
	CacheTTL time.Duration `toml:"cache_ttl" mapstructure:"cache_ttl"`
}

// MetricsConfig holds the Prometheus exporter configuration.
type MetricsConfig struct {
	Enabled       bool   `toml:"enabled" mapstructure:"enabled"`
	ListenAddress string `toml:"listen_address" mapstructure:"listen_address"`
	Textfile      string `toml:"textfile" mapstructure:"textfile"`
	CORSOrigin    string `toml:"cors_origin" mapstructure:"cors_origin"`
}

// HistoryConfig holds the SQLite probe history configuration.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
	Keep    int    `toml:"keep" mapstructure:"keep"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	Addr      string        `toml:"addr" mapstructure:"addr"`
	Password  string        `toml:"password" mapstructure:"password"`
	DB        int           `toml:"db" mapstructure:"db"`
	KeyPrefix string        `toml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `toml:"ttl" mapstructure:"ttl"`
}

// TimeoutConfig holds timeout configuration.
type TimeoutConfig struct {
	Read     time.Duration `toml:"read" mapstructure:"read"`
	Write    time.Duration `toml:"write" mapstructure:"write"`
	Idle     time.Duration `toml:"idle" mapstructure:"idle"`
	Shutdown time.Duration `toml:"shutdown" mapstructure:"shutdown"`
	Redis    time.Duration `toml:"redis" mapstructure:"redis"`
}

// WorkloadConfig declares a stress workload and the CPU features it needs.
type WorkloadConfig struct {
	Name        string   `toml:"name" mapstructure:"name"`
	Requires    []string `toml:"requires" mapstructure:"requires"`
	AnyOf       bool     `toml:"any_of" mapstructure:"any_of"`
	Description string   `toml:"description" mapstructure:"description"`
}

// BuildConfig holds build metadata.
type BuildConfig struct {
	Version string `toml:"version" mapstructure:"version"`
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig    `toml:"logging" mapstructure:"logging"`
	Probe     ProbeConfig      `toml:"probe" mapstructure:"probe"`
	Metrics   MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig    `toml:"history" mapstructure:"history"`
	Redis     RedisConfig      `toml:"redis" mapstructure:"redis"`
	Timeouts  TimeoutConfig    `toml:"timeouts" mapstructure:"timeouts"`
	Workloads []WorkloadConfig `toml:"workloads" mapstructure:"workloads"`
	Build     BuildConfig      `toml:"build" mapstructure:"build"`
}
