// Package config loads confsync configuration for a sync root.
//
// Settings resolve in order: defaults, then .confsync.yaml in the sync
// root, then CONFSYNC_* environment variables. Credentials can also come
// from a .env file in the sync root, loaded before the environment pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the sync root.
const FileName = ".confsync.yaml"

// Config holds all confsync settings.
type Config struct {
	// Remote connection
	ConfluenceURL string `mapstructure:"confluence_url"`
	SpaceKey      string `mapstructure:"space_key"`
	Username      string `mapstructure:"username"`
	APIToken      string `mapstructure:"api_token"`

	// Sync behavior
	MaxConcurrent int `mapstructure:"max_concurrent"`
	DebounceMs    int `mapstructure:"debounce_ms"`

	// Watch-mode retry
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`

	// Watch-mode extras
	DashboardPort int    `mapstructure:"dashboard_port"`
	LogFile       string `mapstructure:"log_file"`
}

// Debounce returns the debounce interval as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// RetryBaseDelay returns the retry seed delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// Validate checks that the settings needed to reach the remote are set.
func (c *Config) Validate() error {
	if c.ConfluenceURL == "" {
		return fmt.Errorf("confluence_url is required (config file or CONFSYNC_CONFLUENCE_URL)")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required (config file or CONFSYNC_USERNAME)")
	}
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required (config file or CONFSYNC_API_TOKEN)")
	}
	return nil
}

// Load reads configuration for the given sync root.
//
// A missing config file is not an error; defaults and the environment
// still apply. A malformed config file is.
func Load(root string) (*Config, error) {
	// .env holds credentials that should not live in the yaml file
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(root, FileName))
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CONFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("confluence_url", "")
	v.SetDefault("space_key", "")
	v.SetDefault("username", "")
	v.SetDefault("api_token", "")
	v.SetDefault("max_concurrent", 3)
	v.SetDefault("debounce_ms", 1000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_base_delay_ms", 1000)
	v.SetDefault("dashboard_port", 8780)
	v.SetDefault("log_file", "")
}

// WriteStarter writes a commented starter config file to the sync root.
// It refuses to overwrite an existing file.
func WriteStarter(root string) (string, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	starter := `# confsync configuration
confluence_url: https://your-instance.atlassian.net/wiki
space_key: DOCS

# Credentials are better kept in .env (CONFSYNC_USERNAME, CONFSYNC_API_TOKEN)
username: ""
api_token: ""

max_concurrent: 3
debounce_ms: 1000
max_retries: 3
retry_base_delay_ms: 1000
dashboard_port: 8780

# Rotating log file for watch mode; empty means stderr only
log_file: ""
`
	if err := os.WriteFile(path, []byte(starter), 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
