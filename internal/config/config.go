package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Profile     string   `yaml:"profile"`
	LogLevel    string   `yaml:"log_level"`
	Checkpoint  string   `yaml:"checkpoint"`
	History     string   `yaml:"history"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Transfer    Transfer `yaml:"transfer"`
}

// Transfer holds transfer-specific configuration.
type Transfer struct {
	MaxRetries        int      `yaml:"max_retries"`
	RetryBackoffMs    int      `yaml:"retry_backoff_ms"`
	RetryBackoffCapMs int      `yaml:"retry_backoff_cap_ms"`
	Verify            bool     `yaml:"verify"`
	Include           []string `yaml:"include"`
	Exclude           []string `yaml:"exclude"`
	Resume            bool     `yaml:"resume"`
	DryRun            bool     `yaml:"dry_run"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// command line flag overrides, then validates it.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		Profile:    "default",
		LogLevel:   "info",
		Checkpoint: defaultStatePath("state.json"),
		History:    defaultStatePath("history.db"),
		Transfer: Transfer{
			MaxRetries:        3,
			RetryBackoffMs:    1000,
			RetryBackoffCapMs: 60000,
			Resume:            true,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		loadFromFlags(cfg, flags)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("profile") {
		cfg.Profile, _ = flags.GetString("profile")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("checkpoint") {
		cfg.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("history") {
		cfg.History, _ = flags.GetString("history")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("max-retries") {
		cfg.Transfer.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Transfer.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("retry-backoff-cap-ms") {
		cfg.Transfer.RetryBackoffCapMs, _ = flags.GetInt("retry-backoff-cap-ms")
	}
	if flags.Changed("verify") {
		cfg.Transfer.Verify, _ = flags.GetBool("verify")
	}
	if flags.Changed("include") {
		cfg.Transfer.Include, _ = flags.GetStringArray("include")
	}
	if flags.Changed("exclude") {
		cfg.Transfer.Exclude, _ = flags.GetStringArray("exclude")
	}
	if flags.Changed("no-resume") {
		noResume, _ := flags.GetBool("no-resume")
		cfg.Transfer.Resume = !noResume
	}
	if flags.Changed("dry-run") {
		cfg.Transfer.DryRun, _ = flags.GetBool("dry-run")
	}
}

func (c *Config) validate() error {
	if c.Transfer.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.Transfer.RetryBackoffMs <= 0 {
		return fmt.Errorf("retry backoff must be positive")
	}
	if c.Transfer.RetryBackoffCapMs < c.Transfer.RetryBackoffMs {
		return fmt.Errorf("retry backoff cap must be at least the initial backoff")
	}
	if c.Checkpoint == "" {
		return fmt.Errorf("checkpoint path is required")
	}
	for _, p := range append(append([]string{}, c.Transfer.Include...), c.Transfer.Exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".s3mover", name)
	}
	return filepath.Join(home, ".s3mover", name)
}
