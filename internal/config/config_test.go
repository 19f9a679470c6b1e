package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/talk/internal/backoff"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Poll.ActiveInterval = Duration{1500 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Poll.ActiveInterval.Duration != 1500*time.Millisecond {
		t.Errorf("ActiveInterval = %s, want 1.5s", loaded.Poll.ActiveInterval)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_session = "work"

[server]
url = "https://cloud.example.com"
user = "alice"

[poll]
active_interval = "1s"

[backoff]
curve = "linear"
max = "45s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poll.ActiveInterval.Duration != time.Second {
		t.Errorf("active_interval = %s, want 1s", cfg.Poll.ActiveInterval)
	}
	if cfg.Poll.BackgroundInterval.Duration != 30*time.Second {
		t.Errorf("background_interval = %s, want default 30s", cfg.Poll.BackgroundInterval)
	}
	policy := cfg.BackoffPolicy()
	if policy.Curve != backoff.Linear || policy.Max != 45*time.Second || policy.Base != 2*time.Second {
		t.Errorf("backoff policy = %+v", policy)
	}
	if cfg.Server.User != "alice" || cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unparseable duration", "[poll]\nactive_interval = \"soon\"\n"},
		{"zero interval", "[poll]\nbackground_interval = \"0s\"\n"},
		{"unknown curve", "[backoff]\ncurve = \"cubic\"\n"},
		{"max below base", "[backoff]\nbase = \"10s\"\nmax = \"1s\"\n"},
		{"no attempts", "[outbox]\nmax_attempts = 0\n"},
		{"long poll exceeds timeout", "[poll]\nlong_poll = \"2m\"\nfetch_timeout = \"1m\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestCredentialsPath(t *testing.T) {
	cfg := Default()
	if got := cfg.CredentialsPath("/home/u/.talk"); got != "/home/u/.talk/credentials" {
		t.Errorf("CredentialsPath = %q", got)
	}
	cfg.Server.CredentialsFile = "/etc/talk/secret"
	if got := cfg.CredentialsPath("/home/u/.talk"); got != "/etc/talk/secret" {
		t.Errorf("CredentialsPath = %q", got)
	}
}
