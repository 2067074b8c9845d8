package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

// Config is the runtime configuration. Every field has a working default;
// a missing config file is not an error.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Log       LogConfig       `yaml:"log"`
	Bus       BusConfig       `yaml:"bus"`
	Health    HealthConfig    `yaml:"health"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Router    RouterConfig    `yaml:"router"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type BusConfig struct {
	// Retention is a duration string; acknowledged messages older than
	// this are swept.
	Retention string `yaml:"retention"`
}

type HealthConfig struct {
	// Window is the roll-up window as a duration string.
	Window         string `yaml:"window"`
	AlertRecipient string `yaml:"alert_recipient"`
}

type WorkflowConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

type SchedulerConfig struct {
	// Timezone applies to calendar cron expressions, process-wide.
	Timezone string `yaml:"timezone"`
}

type WebhookConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

type RouterConfig struct {
	DefaultAgent string `yaml:"default_agent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Log:     LogConfig{Level: "info"},
		Bus:     BusConfig{Retention: "168h"},
		Health:  HealthConfig{Window: "24h", AlertRecipient: "system"},
		Scheduler: SchedulerConfig{
			Timezone: "UTC",
		},
		Webhook: WebhookConfig{
			Addr:   "127.0.0.1:7420",
			Prefix: "/hooks",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return home + "/.hearth"
}

// Load reads a YAML config file over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errdefs.Wrap(errdefs.KindUsage, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "bad config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and parseability of duration and
// timezone strings.
func (c *Config) Validate() error {
	if _, err := c.BusRetention(); err != nil {
		return err
	}
	if _, err := c.HealthWindow(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Workflow.Workers < 0 || c.Workflow.QueueDepth < 0 {
		return errdefs.New(errdefs.KindUsage, "workflow workers and queue_depth must not be negative")
	}
	return nil
}

// BusRetention parses the message retention duration.
func (c *Config) BusRetention() (time.Duration, error) {
	return parseDuration("bus.retention", c.Bus.Retention)
}

// HealthWindow parses the health roll-up window.
func (c *Config) HealthWindow() (time.Duration, error) {
	return parseDuration("health.window", c.Health.Window)
}

// Location resolves the configured scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "bad timezone %q: %v", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errdefs.New(errdefs.KindUsage, "bad %s %q: %v", field, value, err)
	}
	if d < 0 {
		return 0, errdefs.New(errdefs.KindUsage, "%s must not be negative", field)
	}
	return d, nil
}
