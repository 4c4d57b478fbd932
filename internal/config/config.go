package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "POLICYLEDGER"

type Config struct {
	Ledger LedgerConfig `mapstructure:"ledger"`
	Server ServerConfig `mapstructure:"server"`
	Alerts AlertsConfig `mapstructure:"alerts"`
	Log    LogConfig    `mapstructure:"log"`
}

type LedgerConfig struct {
	File    string `mapstructure:"file"`
	DataDir string `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.file", "insurance_ledger.json")
	v.SetDefault("ledger.data_dir", ".policyledger")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.slack_webhook", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configPath when it exists and layers environment variables on
// top. A missing file is not an error: defaults and env still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Ledger.File == "" {
		return fmt.Errorf("ledger.file is required")
	}
	if c.Ledger.DataDir == "" {
		return fmt.Errorf("ledger.data_dir is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid server.shutdown_timeout %q: %w", c.Server.ShutdownTimeout, err)
	}

	if c.Alerts.Enabled && c.Alerts.SlackWebhook == "" {
		return fmt.Errorf("alerts.slack_webhook is required when alerts are enabled")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (valid options: debug, info, warn, error)", c.Log.Level)
	}

	return nil
}

// CheckpointDBPath is where the checkpoint database lives inside the data directory.
func (l *LedgerConfig) CheckpointDBPath() string {
	return filepath.Join(l.DataDir, "policyledger.db")
}

// ShutdownDuration is ShutdownTimeout parsed. Validate guarantees it parses.
func (s *ServerConfig) ShutdownDuration() time.Duration {
	d, _ := time.ParseDuration(s.ShutdownTimeout)
	return d
}
