package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forumsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
log_level: debug
sync:
  enabled: true
  interval_seconds: 30
projects:
  - name: widget
    discord_guild_id: "111111111111111111"
    discord_forum_id: "222222222222222222"
    github_owner: acme
    github_repo: widget
    allowed_role_id: "333333333333333333"
  - name: gadget
    discord_guild_id: "111111111111111111"
    discord_forum_id: "444444444444444444"
    github_owner: acme
    github_repo: gadget
    sync:
      enabled: false
      interval_seconds: 5
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if len(cfg.Projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(cfg.Projects))
	}

	p := &cfg.Projects[0]
	if p.DisplayName() != "widget" {
		t.Errorf("DisplayName = %q, want widget", p.DisplayName())
	}
	guild, err := p.GuildID()
	if err != nil {
		t.Fatalf("GuildID failed: %v", err)
	}
	if guild != 111111111111111111 {
		t.Errorf("GuildID = %d", guild)
	}
}

func TestPolicyOverrideChain(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	widget, gadget := &cfg.Projects[0], &cfg.Projects[1]

	if !cfg.SyncEnabled(widget) {
		t.Error("widget should inherit global enabled=true")
	}
	if cfg.SyncEnabled(gadget) {
		t.Error("gadget override enabled=false should win")
	}
	if got := cfg.SyncInterval(widget); got != 30*time.Second {
		t.Errorf("widget interval = %v, want 30s", got)
	}
	if got := cfg.SyncInterval(gadget); got != 5*time.Second {
		t.Errorf("gadget interval = %v, want 5s", got)
	}
}

func TestDefaultPolicy(t *testing.T) {
	cfg := &Config{Projects: []Project{{
		DiscordGuildID: "1",
		DiscordForumID: "2",
		GithubOwner:    "acme",
		GithubRepo:     "widget",
	}}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	p := &cfg.Projects[0]
	if !cfg.SyncEnabled(p) {
		t.Error("sync should default to enabled")
	}
	if got := cfg.SyncInterval(p); got != 10*time.Second {
		t.Errorf("interval = %v, want default 10s", got)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIn  string
	}{
		{
			name:    "no projects",
			content: "projects: []\n",
			wantIn:  "no projects",
		},
		{
			name: "missing repo",
			content: `
projects:
  - discord_guild_id: "1"
    discord_forum_id: "2"
    github_owner: acme
`,
			wantIn: "github_owner and github_repo",
		},
		{
			name: "bad guild id",
			content: `
projects:
  - discord_guild_id: "not-a-number"
    discord_forum_id: "2"
    github_owner: acme
    github_repo: widget
`,
			wantIn: "discord_guild_id",
		},
		{
			name: "zero forum id",
			content: `
projects:
  - discord_guild_id: "1"
    discord_forum_id: "0"
    github_owner: acme
    github_repo: widget
`,
			wantIn: "discord_forum_id",
		},
		{
			name: "duplicate identity",
			content: `
projects:
  - discord_guild_id: "1"
    discord_forum_id: "2"
    github_owner: acme
    github_repo: widget
  - discord_guild_id: "1"
    discord_forum_id: "2"
    github_owner: acme
    github_repo: widget
`,
			wantIn: "duplicates",
		},
		{
			name: "bad log level",
			content: `
log_level: loud
projects:
  - discord_guild_id: "1"
    discord_forum_id: "2"
    github_owner: acme
    github_repo: widget
`,
			wantIn: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err, tt.wantIn)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFindProject(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p, ok := cfg.FindProject("gadget"); !ok || p.GithubRepo != "gadget" {
		t.Errorf("FindProject(gadget) = %v, %v", p, ok)
	}
	if _, ok := cfg.FindProject("nope"); ok {
		t.Error("FindProject(nope) should not match")
	}
}
