// Package config loads and validates the relforge pipeline configuration.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from the specified file, expanding environment
// variables in the document and applying defaults.
func Load(configPath string) (*Config, error) {
	// Load .env if present; existing process env wins.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment variables from .env")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero values with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Project.TrunkBranch == "" {
		cfg.Project.TrunkBranch = "master"
	}
	if cfg.Project.BaseVersion == "" {
		cfg.Project.BaseVersion = "0.0.0"
	}
	if cfg.Build.Timeout == "" {
		cfg.Build.Timeout = "20m"
	}
	if cfg.Publish.Retention == "" {
		cfg.Publish.Retention = "168h"
	}
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":8441"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "relforge.runs"
	}
	if len(cfg.Triggers.PushBranches) == 0 {
		cfg.Triggers.PushBranches = []string{cfg.Project.TrunkBranch}
	}
}

// Validate checks invariants that would otherwise surface mid-pipeline.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if strings.ContainsAny(c.Project.Name, " /\\") {
		return fmt.Errorf("project.name %q must not contain spaces or path separators", c.Project.Name)
	}
	if c.Project.Remote == "" {
		return fmt.Errorf("project.remote is required")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("at least one variant is required")
	}
	seen := make(map[string]bool, len(c.Variants))
	defaults := 0
	for _, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant name is required")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
		if v.Default {
			defaults++
		}
		for _, p := range append(append([]string{}, v.Include...), v.Exclude...) {
			if _, err := path.Match(strings.ReplaceAll(p, "**", "*"), "probe"); err != nil {
				return fmt.Errorf("variant %q: bad pattern %q: %w", v.Name, p, err)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one variant may be marked default")
	}
	// Empty durations fall back to their documented defaults.
	if c.Build.Timeout != "" {
		if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
			return fmt.Errorf("build.timeout: %w", err)
		}
	}
	if c.Publish.Retention != "" {
		if _, err := time.ParseDuration(c.Publish.Retention); err != nil {
			return fmt.Errorf("publish.retention: %w", err)
		}
	}
	for _, s := range c.Triggers.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedule name is required")
		}
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			return fmt.Errorf("schedule %q: invalid interval %q", s.Name, s.Interval)
		}
	}
	if c.Publish.Enabled {
		if c.Publish.Endpoint == "" || c.Publish.Bucket == "" {
			return fmt.Errorf("publish.endpoint and publish.bucket are required when publish.enabled")
		}
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events.enabled")
	}
	return nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Project: ProjectConfig{
			Name:        "tracker",
			Remote:      "https://github.com/example/tracker.git",
			TrunkBranch: "master",
		},
		Variants: []Variant{
			{Name: "dev", Default: true},
			{Name: "skinny", Exclude: []string{"vendor/**", "ui/**"}, InstallSubpath: "packages/skinny"},
			{Name: "tracing", Include: []string{"core/**", "tracing/**", "README.md"}, InstallSubpath: "packages/tracing"},
		},
		Assets: AssetsConfig{
			Command: []string{"npm", "run", "build"},
			Dir:     "ui",
			Output:  "ui/dist",
		},
		Triggers: TriggersConfig{
			PushBranches: []string{"master", "release/*"},
			PullRequests: true,
		},
		Publish: PublishConfig{
			Endpoint:  "minio.example.com:9000",
			Bucket:    "relforge-artifacts",
			AccessKey: "${RELFORGE_S3_ACCESS_KEY}",
			SecretKey: "${RELFORGE_S3_SECRET_KEY}",
			UseSSL:    true,
		},
		Store: StoreConfig{Path: "relforge.db"},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
