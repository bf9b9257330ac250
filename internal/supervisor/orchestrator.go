package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"go.olrik.dev/relaunch/internal/metrics"
	"go.olrik.dev/relaunch/internal/process"
)

// State is the restart orchestrator state
type State string

const (
	StateIdle        State = "idle"
	StateTerminating State = "terminating"
	StateSyncing     State = "syncing"
	StateInstalling  State = "installing"
	StateSpawning    State = "spawning"
	StateRunning     State = "running"
	StateFailed      State = "failed"
)

var allStates = []string{
	string(StateIdle), string(StateTerminating), string(StateSyncing),
	string(StateInstalling), string(StateSpawning), string(StateRunning), string(StateFailed),
}

// acceptsTrigger reports whether a new cycle may start from s
func (s State) acceptsTrigger() bool {
	return s == StateIdle || s == StateRunning
}

// ErrNonZeroExit is wrapped by cycle errors for sync or install commands that failed
var ErrNonZeroExit = errors.New("command exited with non-zero status")

// OrchestratorConfig holds configuration for the restart orchestrator
type OrchestratorConfig struct {
	// Dir is the working directory for every command
	Dir string

	// SyncCommand updates the working tree, e.g. "git pull"
	SyncCommand string

	// InstallCommand installs dependencies, e.g. "npm install"
	InstallCommand string

	// StartCommand resolves the application command line. It is called
	// after install so it sees the freshly synced package.json.
	StartCommand func() (string, error)

	// Production adds NODE_ENV=production to the install environment
	Production bool

	// Env is merged over the supervisor environment for every command
	Env map[string]string

	// KillGrace is how long the old child may take to exit
	KillGrace time.Duration

	// PTY runs the application under a pseudo terminal
	PTY bool

	// HistorySize is how many application output lines to keep
	HistorySize int

	// Stdout and Stderr receive mirrored child output
	Stdout io.Writer
	Stderr io.Writer

	// OnStateChange is called after every transition
	OnStateChange func(from, to State)

	// Logger for all cycle messages
	Logger *slog.Logger
}

// Cycle describes one update-and-restart run
type Cycle struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	PID      int       `json:"pid,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Orchestrator serialises restart cycles. At most one cycle runs at a time;
// triggers that arrive while one is in flight are dropped.
type Orchestrator struct {
	config OrchestratorConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	current *process.Handle
	last    *Cycle

	errs chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.KillGrace <= 0 {
		config.KillGrace = time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = process.DefaultHistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config: config,
		logger: config.Logger,
		state:  StateIdle,
		errs:   make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	metrics.SetState(string(StateIdle), allStates)
	return o
}

// Trigger starts a restart cycle unless one is already in flight. The
// decision is made synchronously; the cycle itself runs in the background.
func (o *Orchestrator) Trigger() bool {
	o.mu.Lock()
	if o.ctx.Err() != nil || !o.state.acceptsTrigger() {
		state, stopped := o.state, o.ctx.Err() != nil
		o.mu.Unlock()
		switch {
		case stopped:
			o.logger.Info("Shutting down, dropping trigger")
		case state == StateFailed:
			o.logger.Warn("Restart failed earlier, dropping trigger", "state", state)
		default:
			o.logger.Info("Restart already in progress, dropping trigger", "state", state)
		}
		metrics.RecordTrigger(false)
		return false
	}
	from := o.state
	handle := o.current
	// Without a previous application there is nothing to terminate
	first := StateSyncing
	if handle != nil {
		first = StateTerminating
	}
	o.state = first
	cycle := &Cycle{ID: uuid.NewString(), Started: time.Now()}
	o.last = cycle
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.RecordTrigger(true)
	o.notify(from, first)

	go o.run(cycle, handle)
	return true
}

// Errors delivers fatal cycle errors. After an error the orchestrator
// stays in the failed state.
func (o *Orchestrator) Errors() <-chan error {
	return o.errs
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the handle of the most recently spawned application, or nil
func (o *Orchestrator) Current() *process.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// LastCycle returns a copy of the most recent cycle
func (o *Orchestrator) LastCycle() (Cycle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Cycle{}, false
	}
	return *o.last, true
}

// Wait blocks until no cycle is in flight
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting triggers, aborts the in-flight cycle and kills
// the application's process tree. It is best-effort and safe to call more
// than once.
func (o *Orchestrator) Shutdown(grace time.Duration) error {
	// Cancelling under the lock orders this against Trigger's wg.Add
	o.mu.Lock()
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()

	o.mu.Lock()
	handle := o.current
	o.mu.Unlock()

	metrics.ChildPID.Set(0)
	if handle == nil {
		return nil
	}
	if err := handle.Kill(grace); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	o.notify(from, to)
}

func (o *Orchestrator) notify(from, to State) {
	o.logger.Debug("Orchestrator state changed", "from", from, "to", to)
	metrics.SetState(string(to), allStates)
	if o.config.OnStateChange != nil {
		o.config.OnStateChange(from, to)
	}
}

func (o *Orchestrator) run(cycle *Cycle, old *process.Handle) {
	defer o.wg.Done()

	logger := o.logger.With("cycle", cycle.ID)

	err := o.cycle(logger, old)
	if err != nil && o.ctx.Err() != nil {
		logger.Debug("Restart cycle aborted by shutdown", "error", err)
		err = nil
	}

	o.mu.Lock()
	cycle.Finished = time.Now()
	if err != nil {
		cycle.Error = err.Error()
	}
	o.mu.Unlock()

	if err == nil {
		return
	}

	metrics.CyclesTotal.WithLabelValues("failed").Inc()
	o.transition(StateFailed)
	logger.Error("Restart cycle failed", "error", err)
	select {
	case o.errs <- err:
	default:
		// Already failed once; the first error is the one reported
	}
}

func (o *Orchestrator) cycle(logger *slog.Logger, old *process.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during restart cycle: %v", r)
		}
	}()

	start := time.Now()

	if old != nil {
		if err := old.Kill(o.config.KillGrace); err != nil {
			return fmt.Errorf("failed to stop application: %w", err)
		}
		metrics.ChildPID.Set(0)
		o.transition(StateSyncing)
	}

	logger.Info("Running sync command", "command", o.config.SyncCommand)
	if err := o.runStep(o.config.SyncCommand, nil); err != nil {
		return err
	}

	o.transition(StateInstalling)
	var installEnv map[string]string
	if o.config.Production {
		installEnv = map[string]string{"NODE_ENV": "production"}
		logger.Info("Running install command", "command", o.config.InstallCommand, "env", "NODE_ENV=production")
	} else {
		logger.Info("Running install command", "command", o.config.InstallCommand)
	}
	if err := o.runStep(o.config.InstallCommand, installEnv); err != nil {
		return err
	}

	o.transition(StateSpawning)
	command, err := o.config.StartCommand()
	if err != nil {
		return fmt.Errorf("failed to resolve start command: %w", err)
	}
	logger.Info("Starting application", "command", command)

	handle, err := process.Spawn(command, o.options("app", nil, true))
	if err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	o.mu.Lock()
	if o.ctx.Err() != nil {
		// Shutdown began while spawning and will not see this handle
		o.mu.Unlock()
		handle.Kill(o.config.KillGrace)
		return o.ctx.Err()
	}
	o.current = handle
	o.last.PID = handle.Pid()
	from := o.state
	o.state = StateRunning
	o.mu.Unlock()
	o.notify(from, StateRunning)

	logger.Info("Application running", "pid", handle.Pid())
	metrics.ChildPID.Set(float64(handle.Pid()))
	metrics.CyclesTotal.WithLabelValues("succeeded").Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())

	go o.watchExit(handle)
	return nil
}

// runStep runs a sync or install command to completion
func (o *Orchestrator) runStep(command string, env map[string]string) error {
	code, err := process.Run(o.ctx, command, o.options(commandLabel(command), env, false))
	if err != nil {
		return fmt.Errorf("failed to run %q: %w", command, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %q exited with %d", ErrNonZeroExit, command, code)
	}
	return nil
}

func (o *Orchestrator) options(label string, env map[string]string, app bool) process.Options {
	merged := maps.Clone(o.config.Env)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, env)

	opts := process.Options{
		Label:        label,
		Dir:          o.config.Dir,
		Env:          merged,
		MirrorOutput: true,
		Stdout:       o.config.Stdout,
		Stderr:       o.config.Stderr,
		Logger:       o.logger,
	}
	if app {
		opts.Shell = true
		opts.PTY = o.config.PTY
		opts.HistorySize = o.config.HistorySize
	}
	return opts
}

// watchExit returns the orchestrator to idle when the application exits
// on its own
func (o *Orchestrator) watchExit(handle *process.Handle) {
	<-handle.Done()

	o.mu.Lock()
	if o.current != handle || o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	o.mu.Unlock()

	code, _ := handle.ExitCode()
	o.logger.Warn("Application exited", "pid", handle.Pid(), "code", code)
	metrics.ChildPID.Set(0)
	o.notify(StateRunning, StateIdle)
}

// commandLabel names a command by its executable, e.g. "git" for "git pull"
func commandLabel(command string) string {
	if parts, err := shlex.Split(command); err == nil && len(parts) > 0 {
		return filepath.Base(parts[0])
	}
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields[0]
	}
	return "command"
}
