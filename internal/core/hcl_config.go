package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// ConfigFileName is the per-project configuration file. Touching it also
// fires the once script.
const ConfigFileName = ".relaunch.hcl"

const (
	DefaultStartScript = "start"
	DefaultSyncCommand = "git pull"
	DefaultKillGrace   = time.Second
	DefaultHistorySize = 200
)

// ErrMissingSetting is wrapped by Validate for each required setting that is empty
var ErrMissingSetting = errors.New("missing required setting")

// Configuration is everything the supervisor needs for one project
type Configuration struct {
	Dir            string        // Project directory, where commands run
	EventSourceURL string        // Relay channel address
	WebhookSecret  string        // Shared secret for webhook signatures
	Branch         string        // Branch whose pushes trigger a restart
	StartScript    string        // package.json script for the application
	OnceScript     string        // package.json script run once when the config file changes
	Production     bool          // Install with NODE_ENV=production
	Verbose        int           // Verbosity level
	SyncCommand    string        // Command that updates the working tree
	InstallCommand string        // Command that installs dependencies, empty means "<pm> install"
	KillGrace      time.Duration // How long a terminated child may take to exit
	PTY            bool          // Run the application under a pseudo terminal
	HistorySize    int           // Output lines kept for the status server
	StatusListen   string        // Status server address, empty disables it
}

// HCL parsing structs

type hclConfig struct {
	EventSourceURL string     `hcl:"event_source_url,optional"`
	WebhookSecret  string     `hcl:"webhook_secret,optional"`
	Branch         string     `hcl:"branch,optional"`
	StartScript    string     `hcl:"start_script,optional"`
	OnceScript     string     `hcl:"once_script,optional"`
	Production     *bool      `hcl:"production,optional"`
	Verbose        int        `hcl:"verbose,optional"`
	SyncCommand    string     `hcl:"sync_command,optional"`
	InstallCommand string     `hcl:"install_command,optional"`
	Child          *hclChild  `hcl:"child,block"`
	Status         *hclStatus `hcl:"status,block"`
}

type hclChild struct {
	PTY         *bool  `hcl:"pty,optional"`
	HistorySize int    `hcl:"history_size,optional"`
	KillGrace   string `hcl:"kill_grace,optional"`
}

type hclStatus struct {
	Listen string `hcl:"listen"`
}

// NewConfiguration returns a configuration for dir with every default applied
func NewConfiguration(dir string) *Configuration {
	return &Configuration{
		Dir:         dir,
		StartScript: DefaultStartScript,
		SyncCommand: DefaultSyncCommand,
		KillGrace:   DefaultKillGrace,
		HistorySize: DefaultHistorySize,
	}
}

// ConfigFilePath returns the path of the configuration file for dir
func ConfigFilePath(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// LoadConfig loads the HCL configuration file over the defaults for the
// directory containing it
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", filename, err)
	}
	cfg := NewConfiguration(filepath.Dir(abs))

	cfg.EventSourceURL = strings.TrimSpace(hclCfg.EventSourceURL)
	cfg.WebhookSecret = strings.TrimSpace(hclCfg.WebhookSecret)
	cfg.Branch = strings.TrimSpace(hclCfg.Branch)
	cfg.OnceScript = hclCfg.OnceScript
	cfg.Verbose = hclCfg.Verbose
	cfg.InstallCommand = hclCfg.InstallCommand
	if hclCfg.StartScript != "" {
		cfg.StartScript = hclCfg.StartScript
	}
	if hclCfg.SyncCommand != "" {
		cfg.SyncCommand = hclCfg.SyncCommand
	}
	if hclCfg.Production != nil {
		cfg.Production = *hclCfg.Production
	}

	if hclCfg.Child != nil {
		if hclCfg.Child.PTY != nil {
			cfg.PTY = *hclCfg.Child.PTY
		}
		if hclCfg.Child.HistorySize < 0 {
			return nil, fmt.Errorf("child.history_size must not be negative, got %d", hclCfg.Child.HistorySize)
		}
		if hclCfg.Child.HistorySize > 0 {
			cfg.HistorySize = hclCfg.Child.HistorySize
		}
		if hclCfg.Child.KillGrace != "" {
			grace, err := time.ParseDuration(hclCfg.Child.KillGrace)
			if err != nil {
				return nil, fmt.Errorf("invalid child.kill_grace %q: %w", hclCfg.Child.KillGrace, err)
			}
			if grace <= 0 {
				return nil, fmt.Errorf("child.kill_grace must be positive, got %s", grace)
			}
			cfg.KillGrace = grace
		}
	}

	if hclCfg.Status != nil {
		cfg.StatusListen = hclCfg.Status.Listen
	}

	return cfg, nil
}

// LoadProjectConfig loads the configuration file in dir, falling back to
// defaults when there is none
func LoadProjectConfig(dir string) (*Configuration, error) {
	path := ConfigFilePath(dir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return NewConfiguration(dir), nil
	}
	return LoadConfig(path)
}

// Environment variables read in --envs mode
const (
	EnvEventSourceURL = "EVENT_SOURCE_URL"
	EnvWebhookSecret  = "GITHUB_WEBHOOK_SECRET"
	EnvBranch         = "MAIN_BRANCH_NAME"
	EnvStartScript    = "START_SCRIPT"
	EnvOnceScript     = "ONCE_SCRIPT"

	envDeprecatedSmeeID        = "SMEE_ID"
	envDeprecatedProjectSecret = "GITHUB_PROJECT_SECRET"
)

// ApplyEnv overlays the environment variables returned by lookup. Deprecated
// variables are reported but not used.
func (c *Configuration) ApplyEnv(lookup func(string) (string, bool)) {
	if _, ok := lookup(envDeprecatedSmeeID); ok {
		slog.Warn("Environment variable is superseded", "variable", envDeprecatedSmeeID, "use", EnvEventSourceURL)
	}
	if _, ok := lookup(envDeprecatedProjectSecret); ok {
		slog.Warn("Environment variable is superseded", "variable", envDeprecatedProjectSecret, "use", EnvWebhookSecret)
	}

	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvEventSourceURL, &c.EventSourceURL)
	set(EnvWebhookSecret, &c.WebhookSecret)
	set(EnvBranch, &c.Branch)
	set(EnvStartScript, &c.StartScript)
	set(EnvOnceScript, &c.OnceScript)
}

// Missing returns the names of required settings that are empty
func (c *Configuration) Missing() []string {
	var missing []string
	if c.EventSourceURL == "" {
		missing = append(missing, EnvEventSourceURL)
	}
	if c.WebhookSecret == "" {
		missing = append(missing, EnvWebhookSecret)
	}
	if c.Branch == "" {
		missing = append(missing, EnvBranch)
	}
	if c.StartScript == "" {
		missing = append(missing, EnvStartScript)
	}
	return missing
}

// Validate checks that every required setting is present
func (c *Configuration) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	if c.KillGrace <= 0 {
		return fmt.Errorf("kill grace must be positive, got %s", c.KillGrace)
	}
	return nil
}

// WriteConfig saves the non-secret settings to the configuration file in
// c.Dir. The webhook secret belongs in the keyring.
func (c *Configuration) WriteConfig() error {
	var b strings.Builder
	fmt.Fprintf(&b, "event_source_url = %q\n", c.EventSourceURL)
	fmt.Fprintf(&b, "branch           = %q\n", c.Branch)
	fmt.Fprintf(&b, "start_script     = %q\n", c.StartScript)
	if c.OnceScript != "" {
		fmt.Fprintf(&b, "once_script      = %q\n", c.OnceScript)
	}
	if c.Production {
		b.WriteString("production       = true\n")
	}

	path := ConfigFilePath(c.Dir)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
