package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/relaunch/internal/core"
	"go.olrik.dev/relaunch/internal/keyring"
	"go.olrik.dev/relaunch/internal/relay"
	"go.olrik.dev/relaunch/internal/supervisor"
)

// ExitError tells main which exit code to use. Err has already been logged.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type rootOptions struct {
	dir          string
	envs         bool
	prod         bool
	verbose      int
	statusListen string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "relaunch",
		Short: "relaunch - restart your application on every push",
		Long: `relaunch keeps a Node.js application up to date with its repository.

It listens to a webhook relay channel, and for every signed push to the
configured branch it stops the application, pulls the latest changes,
installs dependencies and starts the application again.

Settings are read from .relaunch.hcl in the project directory. Missing
settings are asked for interactively, or read from the environment when
--envs is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	rootCmd.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "more output, repeat for even more")
	rootCmd.Flags().BoolVarP(&opts.envs, "envs", "e", false, "read settings from environment variables instead of prompting")
	rootCmd.Flags().BoolVarP(&opts.prod, "prod", "p", false, "install dependencies with NODE_ENV=production")
	rootCmd.Flags().StringVar(&opts.statusListen, "status", "", "serve status and metrics on this address, e.g. 127.0.0.1:9090")

	rootCmd.AddCommand(
		NewSecretCommand(&opts.dir),
		NewChannelCommand(),
		NewWebhookCommand(&opts.dir),
		NewVersionCommand(),
	)

	return rootCmd
}

// runSupervisor runs relaunch in the foreground until a signal or a fatal error
func runSupervisor(opts *rootOptions) error {
	config, err := resolveConfig(opts, os.LookupEnv, keyring.IsInteractive())
	if err != nil {
		slog.Error(fmt.Sprintf("Invalid configuration: %v", err))
		return &ExitError{Code: 1, Err: err}
	}
	if config.Verbose > opts.verbose {
		setupLogging(config.Verbose)
	}

	s, err := supervisor.New(config)
	if err != nil {
		slog.Error(fmt.Sprintf("Failed to start: %v", err))
		return &ExitError{Code: 1, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Value
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("Received signal, stopping application", "signal", sig)
			received.Store(sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("Starting relaunch", "version", core.FormatVersion(core.Version), "dir", config.Dir, "branch", config.Branch)
	err = s.Run(ctx)

	if sig, ok := received.Load().(os.Signal); ok {
		return &ExitError{Code: signalExitCode(sig)}
	}
	if err != nil {
		slog.Error(fmt.Sprintf("Fatal: %v", err))
		return &ExitError{Code: 1, Err: err}
	}
	return nil
}

// signalExitCode follows the shell convention of 128 plus the signal number
func signalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// resolveConfig merges the project file, the environment, the keyring and,
// when allowed, interactive answers into one configuration
func resolveConfig(opts *rootOptions, lookup func(string) (string, bool), interactive bool) (*core.Configuration, error) {
	dir, err := filepath.Abs(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", opts.dir, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project directory %s does not exist", dir)
	}

	config, err := core.LoadProjectConfig(dir)
	if err != nil {
		return nil, err
	}
	if opts.envs {
		config.ApplyEnv(lookup)
	}
	if opts.prod {
		config.Production = true
	}
	config.Verbose = max(config.Verbose, opts.verbose)
	if opts.statusListen != "" {
		config.StatusListen = opts.statusListen
	}

	if config.WebhookSecret == "" {
		secret, err := keyring.GetSecret(dir)
		switch {
		case err == nil:
			slog.Debug("Using webhook secret from keyring")
			config.WebhookSecret = secret
		case !errors.Is(err, keyring.ErrNoSecret):
			slog.Debug("Keyring unavailable", "error", err)
		}
	}

	if len(config.Missing()) > 0 && !opts.envs && interactive {
		if err := promptConfig(config); err != nil {
			return nil, err
		}
	}

	return config, config.Validate()
}

// promptConfig asks for every missing setting and offers to save the answers
func promptConfig(config *core.Configuration) error {
	fmt.Fprintf(os.Stderr, "Some settings are missing from %s, please provide them.\n", core.ConfigFileName)

	if config.EventSourceURL == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		initial, err := relay.NewChannel(ctx, relay.DefaultChannelBase)
		cancel()
		if err != nil {
			slog.Debug("Could not create a relay channel", "error", err)
		}
		if config.EventSourceURL, err = keyring.PromptLine("Event source URL", initial); err != nil {
			return err
		}
	}

	promptedSecret := false
	if config.WebhookSecret == "" {
		secret, err := keyring.PromptAndConfirmSecret("Webhook secret")
		if err != nil {
			return err
		}
		config.WebhookSecret = secret
		promptedSecret = true
	}

	var err error
	if config.Branch == "" {
		if config.Branch, err = keyring.PromptLine("Branch", "main"); err != nil {
			return err
		}
	}
	if config.StartScript == "" {
		if config.StartScript, err = keyring.PromptLine("Start script", core.DefaultStartScript); err != nil {
			return err
		}
	}
	if err := config.Validate(); err != nil {
		return err
	}

	if save, err := keyring.Confirm("Save settings to "+core.ConfigFileName, true); err == nil && save {
		if err := config.WriteConfig(); err != nil {
			return err
		}
		slog.Info(fmt.Sprintf("Settings saved to %s", core.ConfigFilePath(config.Dir)))
	}

	if promptedSecret {
		if store, err := keyring.Confirm("Store webhook secret in the system keyring", true); err == nil && store {
			if err := keyring.SetSecret(config.Dir, config.WebhookSecret); err != nil {
				slog.Warn(fmt.Sprintf("Failed to store webhook secret: %v", err))
			} else {
				slog.Info("Webhook secret stored in keyring")
			}
		}
	}
	return nil
}
