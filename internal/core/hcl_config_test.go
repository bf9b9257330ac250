package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `# Test configuration
event_source_url = "https://smee.io/abcdef"
webhook_secret   = "s3cret"
branch           = "main"
start_script     = "serve"
once_script      = "migrate"
production       = true
verbose          = 1
sync_command     = "git pull --ff-only"

child {
  pty          = true
  history_size = 50
  kill_grace   = "3s"
}

status {
  listen = "127.0.0.1:9477"
}
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load HCL config: %v", err)
	}

	if config.Dir != filepath.Dir(path) {
		t.Errorf("Expected dir %s, got %s", filepath.Dir(path), config.Dir)
	}
	if config.EventSourceURL != "https://smee.io/abcdef" {
		t.Errorf("Unexpected event source %q", config.EventSourceURL)
	}
	if config.WebhookSecret != "s3cret" || config.Branch != "main" {
		t.Errorf("Unexpected secret/branch %q/%q", config.WebhookSecret, config.Branch)
	}
	if config.StartScript != "serve" || config.OnceScript != "migrate" {
		t.Errorf("Unexpected scripts %q/%q", config.StartScript, config.OnceScript)
	}
	if !config.Production || config.Verbose != 1 {
		t.Errorf("Expected production and verbose=1, got %v/%d", config.Production, config.Verbose)
	}
	if config.SyncCommand != "git pull --ff-only" {
		t.Errorf("Unexpected sync command %q", config.SyncCommand)
	}
	if !config.PTY || config.HistorySize != 50 || config.KillGrace != 3*time.Second {
		t.Errorf("Unexpected child settings pty=%v history=%d grace=%s", config.PTY, config.HistorySize, config.KillGrace)
	}
	if config.StatusListen != "127.0.0.1:9477" {
		t.Errorf("Unexpected status listen %q", config.StatusListen)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `branch = "main"`))
	if err != nil {
		t.Fatalf("Failed to load HCL config: %v", err)
	}

	if config.StartScript != DefaultStartScript {
		t.Errorf("Expected default start script, got %q", config.StartScript)
	}
	if config.SyncCommand != DefaultSyncCommand {
		t.Errorf("Expected default sync command, got %q", config.SyncCommand)
	}
	if config.KillGrace != DefaultKillGrace || config.HistorySize != DefaultHistorySize {
		t.Errorf("Unexpected defaults grace=%s history=%d", config.KillGrace, config.HistorySize)
	}
	if config.Production || config.PTY || config.StatusListen != "" {
		t.Error("Expected production, pty and status server off by default")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", `branch = `},
		{"unknown attribute", `colour = "blue"`},
		{"bad kill grace", "child {\n  kill_grace = \"soon\"\n}"},
		{"negative kill grace", "child {\n  kill_grace = \"-1s\"\n}"},
		{"negative history", "child {\n  history_size = -1\n}"},
		{"status without listen", "status {\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadProjectConfigWithoutFile(t *testing.T) {
	dir := t.TempDir()
	config, err := LoadProjectConfig(dir)
	if err != nil {
		t.Fatalf("Expected defaults without a config file, got %v", err)
	}
	if config.Dir != dir || config.StartScript != DefaultStartScript {
		t.Errorf("Unexpected config %+v", config)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvEventSourceURL: " https://smee.io/xyz ",
		EnvWebhookSecret:  "from-env",
		EnvBranch:         "release",
		EnvOnceScript:     "seed",
		EnvStartScript:    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	config := NewConfiguration(t.TempDir())
	config.Branch = "main"
	config.ApplyEnv(lookup)

	if config.EventSourceURL != "https://smee.io/xyz" {
		t.Errorf("Expected trimmed URL, got %q", config.EventSourceURL)
	}
	if config.WebhookSecret != "from-env" || config.Branch != "release" || config.OnceScript != "seed" {
		t.Errorf("Unexpected config %+v", config)
	}
	if config.StartScript != DefaultStartScript {
		t.Errorf("Empty START_SCRIPT must keep the default, got %q", config.StartScript)
	}
}

func TestValidateReportsMissingSettings(t *testing.T) {
	config := NewConfiguration(t.TempDir())
	config.Branch = "main"

	err := config.Validate()
	if !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("Expected ErrMissingSetting, got %v", err)
	}
	for _, name := range []string{EnvEventSourceURL, EnvWebhookSecret} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Expected %s in %v", name, err)
		}
	}
	if strings.Contains(err.Error(), EnvBranch) {
		t.Errorf("Branch is set and must not be reported: %v", err)
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	config := NewConfiguration(t.TempDir())
	config.EventSourceURL = "https://smee.io/abc"
	config.WebhookSecret = "not-written"
	config.Branch = "main"
	config.OnceScript = "migrate"
	config.Production = true

	if err := config.WriteConfig(); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	data, err := os.ReadFile(ConfigFilePath(config.Dir))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "not-written") {
		t.Error("Secret must not be written to the config file")
	}

	loaded, err := LoadConfig(ConfigFilePath(config.Dir))
	if err != nil {
		t.Fatalf("Failed to load written config: %v", err)
	}
	if loaded.EventSourceURL != config.EventSourceURL || loaded.Branch != "main" ||
		loaded.OnceScript != "migrate" || !loaded.Production {
		t.Errorf("Round trip lost settings: %+v", loaded)
	}
}
