package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir    string          `mapstructure:"data_dir"`
	VolumesDir string          `mapstructure:"volumes_dir"`
	Log        LogConfig       `mapstructure:"log"`
	Orchestra  OrchestraConfig `mapstructure:"orchestra"`
	Volumes    VolumesConfig   `mapstructure:"volumes"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// OrchestraConfig holds lifecycle timing configuration.
type OrchestraConfig struct {
	// ReadyTimeout bounds the readiness wait for services without their
	// own timeout.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`

	// StopTimeout is the SIGTERM grace period per service.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// ProbeInterval is the default readiness polling interval.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// VolumesConfig holds volume provisioning configuration.
type VolumesConfig struct {
	// Retries is the number of backend retry attempts per volume operation.
	Retries uint64 `mapstructure:"retries"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from an optional file and the environment.
// Environment variables use the STACKD_ prefix with underscores, e.g.
// STACKD_LOG_LEVEL overrides log.level.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("data_dir", "/var/lib/stackd")
	v.SetDefault("volumes_dir", "/var/lib/stackd/volumes")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("orchestra.ready_timeout", "60s")
	v.SetDefault("orchestra.stop_timeout", "10s")
	v.SetDefault("orchestra.probe_interval", "250ms")
	v.SetDefault("volumes.retries", 3)
	v.SetDefault("metrics.addr", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only a parse error is fatal; a missing file means defaults.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("STACKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
