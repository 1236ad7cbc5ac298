// Package config loads the bot's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration.
type Config struct {
	// Upstream service connection and bot account.
	Site SiteConfig `yaml:"site"`

	// Wiki pages the rule documents are read from.
	Wiki WikiConfig `yaml:"wiki"`

	// Queue polling behavior.
	Poll PollConfig `yaml:"poll"`

	// SQLite database location.
	DatabasePath string `yaml:"database_path"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SiteConfig configures the connection to the upstream service.
type SiteConfig struct {
	BaseURL   string `yaml:"base_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`

	// Owner is the operator account allowed to issue sleep commands and
	// named in permission-error replies.
	Owner string `yaml:"owner"`

	// Disclaimer is appended to every comment and private message the bot
	// posts.
	Disclaimer string `yaml:"disclaimer"`
}

// WikiConfig configures which wiki pages hold the rule documents.
type WikiConfig struct {
	// Page is the per-community rules page name.
	Page string `yaml:"page"`

	// StandardsPage and StandardsCommunity locate the shared standard
	// condition definitions.
	StandardsPage      string `yaml:"standards_page"`
	StandardsCommunity string `yaml:"standards_community"`
}

// PollConfig configures queue polling.
type PollConfig struct {
	// ReportBacklogHours bounds how far back the report queue is walked.
	ReportBacklogHours int `yaml:"report_backlog_hours"`

	// ReportsCheckPeriodMins is how often the report queue is checked; the
	// other queues are checked every cycle.
	ReportsCheckPeriodMins int `yaml:"reports_check_period_mins"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:   "http://localhost:8080",
			UserAgent: "automod",
			Timeout:   "30s",
		},
		Wiki: WikiConfig{
			Page:               "automod",
			StandardsPage:      "automod_standards",
			StandardsCommunity: "automod",
		},
		Poll: PollConfig{
			ReportBacklogHours:     48,
			ReportsCheckPeriodMins: 15,
		},
		DatabasePath: "data/automod.db",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// anything unset. A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads the bot credentials from the environment when set,
// so they can be kept out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AUTOMOD_USERNAME"); v != "" {
		c.Site.Username = v
	}
	if v := os.Getenv("AUTOMOD_PASSWORD"); v != "" {
		c.Site.Password = v
	}
}

func (c *Config) validate() error {
	if c.Site.Timeout != "" {
		if _, err := time.ParseDuration(c.Site.Timeout); err != nil {
			return fmt.Errorf("invalid site.timeout: %w", err)
		}
	}
	if c.Poll.ReportBacklogHours < 1 {
		return fmt.Errorf("poll.report_backlog_hours must be at least 1")
	}
	if c.Poll.ReportsCheckPeriodMins < 1 {
		return fmt.Errorf("poll.reports_check_period_mins must be at least 1")
	}
	return nil
}

// SiteTimeout returns the parsed request timeout.
func (c *Config) SiteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Site.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
