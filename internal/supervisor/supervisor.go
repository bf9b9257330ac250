package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/shlex"
	"golang.org/x/sync/errgroup"

	"go.olrik.dev/relaunch/internal/core"
	"go.olrik.dev/relaunch/internal/metrics"
	"go.olrik.dev/relaunch/internal/process"
	"go.olrik.dev/relaunch/internal/relay"
	"go.olrik.dev/relaunch/internal/sleep"
	"go.olrik.dev/relaunch/internal/status"
	"go.olrik.dev/relaunch/internal/watch"
	"go.olrik.dev/relaunch/internal/webhook"
)

// ErrMissingExecutable is returned by Preflight when a command is not on PATH
var ErrMissingExecutable = errors.New("executable not found")

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithRelayOptions passes options through to the relay client
func WithRelayOptions(opts ...relay.Option) Option {
	return func(s *Supervisor) { s.relayOpts = append(s.relayOpts, opts...) }
}

// WithOutput sets where child output is mirrored
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) { s.stdout, s.stderr = stdout, stderr }
}

// WithOnStateChange observes orchestrator transitions
func WithOnStateChange(fn func(from, to State)) Option {
	return func(s *Supervisor) { s.onStateChange = fn }
}

// Supervisor wires the relay, the webhook router and the restart
// orchestrator for one project
type Supervisor struct {
	config        *core.Configuration
	logger        *slog.Logger
	relayOpts     []relay.Option
	stdout        io.Writer
	stderr        io.Writer
	onStateChange func(from, to State)

	orchestrator *Orchestrator
	router       *webhook.Router
	env          map[string]string

	// fatal carries panics recovered outside the orchestrator
	fatal chan error

	mu      sync.Mutex
	client  *relay.Client
	once    *process.Handle
	monitor sleepState
}

// sleepState is the part of the sleep monitor reported in the status
type sleepState interface {
	IsSleeping() bool
	LastWake() time.Time
}

// New creates a supervisor for the project described by config
func New(config *core.Configuration, opts ...Option) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		config: config,
		logger: slog.Default(),
		stdout: os.Stdout,
		stderr: os.Stderr,
		fatal:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	install := config.InstallCommand
	if install == "" {
		pm, err := core.DetectPackageManager(config.Dir)
		if err != nil {
			return nil, err
		}
		install = pm.InstallCommand()
		s.logger.Debug("Detected package manager", "manager", pm)
	}
	s.env = core.ScriptEnv(config.Dir)

	s.orchestrator = NewOrchestrator(OrchestratorConfig{
		Dir:            config.Dir,
		SyncCommand:    config.SyncCommand,
		InstallCommand: install,
		StartCommand: func() (string, error) {
			return core.ScriptCommand(config.Dir, config.StartScript)
		},
		Production:    config.Production,
		Env:           s.env,
		KillGrace:     config.KillGrace,
		PTY:           config.PTY,
		HistorySize:   config.HistorySize,
		Stdout:        s.stdout,
		Stderr:        s.stderr,
		OnStateChange: s.onStateChange,
		Logger:        s.logger,
	})

	s.router = webhook.NewRouter(config.WebhookSecret, config.Branch, config.Verbose > 0, func() {
		s.orchestrator.Trigger()
	}).WithLogger(s.logger.With("component", "webhook"))

	return s, nil
}

// Orchestrator returns the restart orchestrator
func (s *Supervisor) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// Preflight checks that the sync and install executables are on PATH
func (s *Supervisor) Preflight() error {
	for _, command := range []string{s.config.SyncCommand, s.orchestrator.config.InstallCommand} {
		parts, err := shlex.Split(command)
		if err != nil || len(parts) == 0 {
			return fmt.Errorf("invalid command %q", command)
		}
		if _, err := exec.LookPath(parts[0]); err != nil {
			return fmt.Errorf("%w: %s (needed for %q)", ErrMissingExecutable, parts[0], command)
		}
	}
	return nil
}

// Run connects to the relay, starts the first cycle and supervises until
// ctx is cancelled or a fatal error occurs. The application's process tree
// is killed before Run returns.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if shutdownErr := s.shutdown(); shutdownErr != nil {
			s.logger.Warn("Failed to stop application cleanly", "error", shutdownErr)
		}
	}()

	if err := s.Preflight(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	client, err := s.connect(gctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	monitor := sleep.NewMonitor(s.logger, nil, func() {
		s.logger.Info("Reconnecting relay after wake")
		client.Reconnect()
	})
	monitor.Start(gctx)
	s.mu.Lock()
	s.monitor = monitor
	s.mu.Unlock()

	g.Go(func() error {
		client.Wait()
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-s.orchestrator.Errors():
			return err
		case err := <-s.fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	if s.config.OnceScript != "" {
		g.Go(func() error {
			return s.runOnce(gctx)
		})
	}

	if s.config.StatusListen != "" {
		srv := status.NewServer(s, s.logger.With("component", "status"))
		g.Go(func() error {
			return srv.Run(gctx, s.config.StatusListen)
		})
	}

	s.orchestrator.Trigger()

	return g.Wait()
}

func (s *Supervisor) connect(ctx context.Context) (*relay.Client, error) {
	logger := s.logger.With("component", "relay")
	opts := append([]relay.Option{
		relay.WithLogger(logger),
		relay.WithUserAgent(core.UserAgent()),
	}, s.relayOpts...)

	var connectedOnce bool
	client, err := relay.Connect(ctx, s.config.EventSourceURL, relay.Callbacks{
		OnConnecting: func(address string) {
			logger.Info("Connecting to relay", "address", address)
		},
		OnConnected: func() {
			metrics.RelayConnected.Set(1)
			if connectedOnce {
				metrics.RelayReconnects.Inc()
				logger.Info("Reconnected to relay")
				return
			}
			connectedOnce = true
			logger.Info("Connected to relay")
		},
		OnDisconnected: func(err error) {
			metrics.RelayConnected.Set(0)
		},
		OnError: func(err error) {
			logger.Error("Relay connection failed", "error", err)
		},
		OnEvent: s.handleEvent,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay failed: %w", err)
	}
	return client, nil
}

// handleEvent routes one relay event. A panic in routing is fatal.
func (s *Supervisor) handleEvent(headers map[string]string, body string) {
	defer func() {
		if r := recover(); r != nil {
			s.reportFatal(fmt.Errorf("panic while handling webhook: %v", r))
		}
	}()
	s.router.Handle(headers, body)
}

func (s *Supervisor) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// runOnce waits for the configuration file to change and then runs the
// once script a single time
func (s *Supervisor) runOnce(ctx context.Context) error {
	path := core.ConfigFilePath(s.config.Dir)
	s.logger.Debug("Waiting for file change to run once script", "file", path, "script", s.config.OnceScript)

	return watch.Once(ctx, path, func() {
		s.logger.Debug("Triggering once script", "script", s.config.OnceScript)

		command, err := core.ScriptCommand(s.config.Dir, s.config.OnceScript)
		if err != nil {
			s.reportFatal(fmt.Errorf("failed to resolve once script: %w", err))
			return
		}
		s.logger.Info("Running once script", "command", command)

		h, err := process.Spawn(command, process.Options{
			Label:        "once",
			Dir:          s.config.Dir,
			Env:          s.env,
			Shell:        true,
			MirrorOutput: true,
			Stdout:       s.stdout,
			Stderr:       s.stderr,
			Logger:       s.logger,
		})
		if err != nil {
			s.reportFatal(fmt.Errorf("failed to start once script: %w", err))
			return
		}
		s.mu.Lock()
		s.once = h
		s.mu.Unlock()
		s.logger.Info("Once script running", "pid", h.Pid())
	})
}

func (s *Supervisor) shutdown() error {
	err := s.orchestrator.Shutdown(s.config.KillGrace)

	s.mu.Lock()
	once := s.once
	s.mu.Unlock()
	if once != nil {
		if killErr := once.Kill(s.config.KillGrace); killErr != nil {
			err = errors.Join(err, killErr)
		}
	}
	metrics.RelayConnected.Set(0)
	return err
}

// Status implements status.Source
func (s *Supervisor) Status() status.Snapshot {
	snap := status.Snapshot{
		Version: core.FormatVersion(core.Version),
		State:   string(s.orchestrator.State()),
		Relay:   string(relay.StateConnecting),
		Branch:  s.config.Branch,
	}

	s.mu.Lock()
	if s.client != nil {
		snap.Relay = string(s.client.State())
	}
	if s.monitor != nil {
		snap.Sleeping = s.monitor.IsSleeping()
		if wake := s.monitor.LastWake(); !wake.IsZero() {
			snap.LastWake = &wake
		}
	}
	s.mu.Unlock()

	if h := s.orchestrator.Current(); h != nil && !h.Exited() {
		snap.PID = h.Pid()
		since := h.StartTime().Truncate(time.Second)
		snap.ChildSince = &since
	}
	if cycle, ok := s.orchestrator.LastCycle(); ok {
		snap.LastCycle = &status.Cycle{
			ID:       cycle.ID,
			Started:  cycle.Started,
			Finished: cycle.Finished,
			PID:      cycle.PID,
			Error:    cycle.Error,
		}
	}
	return snap
}

// Output implements status.Source
func (s *Supervisor) Output() []string {
	if h := s.orchestrator.Current(); h != nil {
		return h.Output()
	}
	return nil
}
