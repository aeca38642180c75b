package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// EnvPrefix prefixes environment overrides, e.g. CPUPROBE_PROBE_PER_CPU=true.
const EnvPrefix = "CPUPROBE"

// LoadConfig loads configuration from a TOML file using viper.  An empty
// configFile yields defaults plus environment overrides; a named file that
// does not exist is an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if !fileExists(configFile) {
			return nil, fmt.Errorf("configuration file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&conf)

	if configFile != "" {
		log.Infof("Configuration loaded from %s", configFile)
	} else {
		log.Debug("No configuration file given, using defaults")
	}
	return &conf, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	conf := &Config{}
	applyDefaults(conf)
	return conf
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", false)

	v.SetDefault("probe.per_cpu", false)
	v.SetDefault("probe.workers", 0)
	v.SetDefault("probe.crosscheck", false)
	v.SetDefault("probe.cache_ttl", "0s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", ":9412")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.cors_origin", "")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "/var/lib/cpuprobe/history.db")
	v.SetDefault("history.keep", 100)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "cpuprobe")
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("timeouts.read", "10s")
	v.SetDefault("timeouts.write", "10s")
	v.SetDefault("timeouts.idle", "60s")
	v.SetDefault("timeouts.shutdown", "15s")
	v.SetDefault("timeouts.redis", "5s")

	v.SetDefault("build.version", "1.0.0")
}

func applyDefaults(conf *Config) {
	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	if conf.Logging.Format == "" {
		conf.Logging.Format = "text"
	}
	if conf.Logging.MaxSize == 0 {
		conf.Logging.MaxSize = 100
	}
	if conf.Logging.MaxBackups == 0 {
		conf.Logging.MaxBackups = 7
	}
	if conf.Logging.MaxAge == 0 {
		conf.Logging.MaxAge = 30
	}

	if conf.Metrics.ListenAddress == "" {
		conf.Metrics.ListenAddress = ":9412"
	}

	if conf.History.Path == "" {
		conf.History.Path = "/var/lib/cpuprobe/history.db"
	}
	if conf.History.Keep == 0 {
		conf.History.Keep = 100
	}

	if conf.Redis.Addr == "" {
		conf.Redis.Addr = "localhost:6379"
	}
	if conf.Redis.KeyPrefix == "" {
		conf.Redis.KeyPrefix = "cpuprobe"
	}

	if conf.Timeouts.Read == 0 {
		conf.Timeouts.Read = 10 * time.Second
	}
	if conf.Timeouts.Write == 0 {
		conf.Timeouts.Write = 10 * time.Second
	}
	if conf.Timeouts.Idle == 0 {
		conf.Timeouts.Idle = 60 * time.Second
	}
	if conf.Timeouts.Shutdown == 0 {
		conf.Timeouts.Shutdown = 15 * time.Second
	}
	if conf.Timeouts.Redis == 0 {
		conf.Timeouts.Redis = 5 * time.Second
	}

	if conf.Build.Version == "" {
		conf.Build.Version = "1.0.0"
	}
}

// ValidateConfig performs basic configuration validation.
func ValidateConfig(c *Config) error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	if c.Probe.Workers < 0 {
		return errors.New("probe.workers must not be negative")
	}
	if c.Probe.CacheTTL < 0 {
		return errors.New("probe.cache_ttl must not be negative")
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.ListenAddress) == "" {
		return errors.New("metrics.listen_address is required when metrics.enabled is true")
	}

	if c.History.Enabled {
		if strings.TrimSpace(c.History.Path) == "" {
			return errors.New("history.path is required when history.enabled is true")
		}
		if c.History.Keep < 0 {
			return errors.New("history.keep must not be negative")
		}
	}

	if c.Redis.Enabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr is required when redis.enabled is true")
		}
		if c.Redis.TTL < 0 {
			return errors.New("redis.ttl must not be negative")
		}
	}

	seen := make(map[string]bool, len(c.Workloads))
	for i, w := range c.Workloads {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return fmt.Errorf("workloads[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("workloads[%d]: duplicate workload %q", i, name)
		}
		seen[name] = true
		if len(w.Requires) == 0 {
			return fmt.Errorf("workload %q: requires must list at least one feature", name)
		}
		for _, req := range w.Requires {
			if _, err := cpufeatures.ParseFeature(req); err != nil {
				return fmt.Errorf("workload %q: %w", name, err)
			}
		}
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GenerateMinimalConfig returns a minimal example configuration string.
func GenerateMinimalConfig() string {
	return `# cpuprobe - Minimal Configuration

[logging]
level = "info"
format = "text"
file = ""
max_size = 100
max_backups = 7
max_age = 30
compress = false

[probe]
per_cpu = false
workers = 0
crosscheck = true
cache_ttl = "0s"

[metrics]
enabled = false
listen_address = ":9412"
textfile = ""
cors_origin = ""

[history]
enabled = false
path = "/var/lib/cpuprobe/history.db"
keep = 100

[redis]
enabled = false
addr = "localhost:6379"
db = 0
key_prefix = "cpuprobe"
ttl = "24h"

[timeouts]
read = "10s"
write = "10s"
idle = "60s"
shutdown = "15s"
redis = "5s"

# Replaces the built-in workload catalog when present.
# [[workloads]]
# name = "rdrand"
# requires = ["RDRAND"]
# description = "RDRAND throughput"
`
}

// CreateMinimalConfig writes a minimal configuration to path.
func CreateMinimalConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprint(w, GenerateMinimalConfig()); err != nil {
		return err
	}
	return w.Flush()
}
