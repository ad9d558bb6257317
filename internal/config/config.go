// Package config loads and validates the forumsync configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given on the command line.
const DefaultPath = "forumsync.yaml"

const (
	defaultSyncEnabled  = true
	defaultSyncInterval = 10 // seconds
)

// SyncPolicy controls whether and how often a project is reconciled.
// A nil Enabled or zero IntervalSeconds falls back to the global policy,
// and ultimately to the built-in defaults.
type SyncPolicy struct {
	Enabled         *bool `yaml:"enabled"`
	IntervalSeconds uint  `yaml:"interval_seconds"`
}

// Project pairs one Discord forum channel with one GitHub repository.
// Identity is (github_owner, github_repo, discord_forum_id); the registry
// rejects duplicates.
type Project struct {
	Name           string      `yaml:"name"`
	DiscordGuildID string      `yaml:"discord_guild_id"`
	DiscordForumID string      `yaml:"discord_forum_id"`
	GithubOwner    string      `yaml:"github_owner"`
	GithubRepo     string      `yaml:"github_repo"`
	AllowedRoleID  string      `yaml:"allowed_role_id"`
	Sync           *SyncPolicy `yaml:"sync"`
}

// Config is the root of the configuration file.
type Config struct {
	LogLevel string     `yaml:"log_level"`
	LogFile  string     `yaml:"log_file"`
	Sync     SyncPolicy `yaml:"sync"`
	Projects []Project  `yaml:"projects"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the config for structural problems. It is called by Load
// but exported so the validate subcommand can report on hand-built configs.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		switch c.LogLevel {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("invalid log_level %q", c.LogLevel)
		}
	}

	if len(c.Projects) == 0 {
		return fmt.Errorf("no projects configured")
	}

	seen := make(map[string]int)
	for i, p := range c.Projects {
		if err := p.validate(); err != nil {
			return fmt.Errorf("project %d (%s): %w", i+1, p.DisplayName(), err)
		}
		key := p.GithubOwner + "/" + p.GithubRepo + "#" + p.DiscordForumID
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("project %d duplicates project %d: %s", i+1, prev+1, key)
		}
		seen[key] = i
	}

	return nil
}

func (p *Project) validate() error {
	if p.GithubOwner == "" || p.GithubRepo == "" {
		return fmt.Errorf("github_owner and github_repo are required")
	}
	if _, err := parseSnowflake(p.DiscordGuildID); err != nil {
		return fmt.Errorf("discord_guild_id: %w", err)
	}
	if _, err := parseSnowflake(p.DiscordForumID); err != nil {
		return fmt.Errorf("discord_forum_id: %w", err)
	}
	if p.AllowedRoleID != "" {
		if _, err := parseSnowflake(p.AllowedRoleID); err != nil {
			return fmt.Errorf("allowed_role_id: %w", err)
		}
	}
	return nil
}

func parseSnowflake(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing id")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid snowflake %q", s)
	}
	return id, nil
}

// DisplayName returns the project name, or a repo-based fallback for
// unnamed projects.
func (p *Project) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.GithubOwner != "" && p.GithubRepo != "" {
		return p.GithubOwner + "/" + p.GithubRepo
	}
	return "unnamed"
}

// GuildID returns the Discord guild id as an integer. The config is
// validated at load time, so this only fails on hand-built projects.
func (p *Project) GuildID() (uint64, error) {
	return parseSnowflake(p.DiscordGuildID)
}

// ForumID returns the Discord forum channel id as an integer.
func (p *Project) ForumID() (uint64, error) {
	return parseSnowflake(p.DiscordForumID)
}

// SyncEnabled reports whether the project should be reconciled, applying
// the project override, then the global policy, then the default.
func (c *Config) SyncEnabled(p *Project) bool {
	if p.Sync != nil && p.Sync.Enabled != nil {
		return *p.Sync.Enabled
	}
	if c.Sync.Enabled != nil {
		return *c.Sync.Enabled
	}
	return defaultSyncEnabled
}

// SyncInterval returns the reconciliation interval for the project,
// applying the same override chain as SyncEnabled.
func (c *Config) SyncInterval(p *Project) time.Duration {
	if p.Sync != nil && p.Sync.IntervalSeconds > 0 {
		return time.Duration(p.Sync.IntervalSeconds) * time.Second
	}
	if c.Sync.IntervalSeconds > 0 {
		return time.Duration(c.Sync.IntervalSeconds) * time.Second
	}
	return defaultSyncInterval * time.Second
}

// FindProject looks a project up by name.
func (c *Config) FindProject(name string) (*Project, bool) {
	for i := range c.Projects {
		if c.Projects[i].Name == name {
			return &c.Projects[i], true
		}
	}
	return nil, false
}
