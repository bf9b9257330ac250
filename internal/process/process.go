package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
)

var (
	// ErrKillTimeout is returned by Kill when the process tree outlives the grace period
	ErrKillTimeout = errors.New("process did not terminate within deadline")
	// ErrEmptyCommand is returned when a command line has nothing to run
	ErrEmptyCommand = errors.New("empty command")
)

// ExitSignaled is the exit code reported for processes terminated by a signal
const ExitSignaled = -1

// drainTimeout bounds how long Done waits for output after the process exits.
// Orphaned grandchildren may keep the pipes open forever.
const drainTimeout = 250 * time.Millisecond

// mirrorMu serialises mirrored lines from concurrent children
var mirrorMu sync.Mutex

// Options controls how a command is spawned
type Options struct {
	// Label prefixes every mirrored output line, e.g. "[app] listening on :3000"
	Label string

	// Dir is the working directory; empty means the supervisor's
	Dir string

	// Env is merged over the supervisor's environment
	Env map[string]string

	// Shell runs the command line through the platform shell
	Shell bool

	// MirrorOutput copies child output to Stdout/Stderr
	MirrorOutput bool

	// Stdout and Stderr receive mirrored output (default os.Stdout / os.Stderr)
	Stdout io.Writer
	Stderr io.Writer

	// PTY runs the child under a pseudo terminal; stdout and stderr are merged
	PTY bool

	// HistorySize is the number of output lines kept on the handle
	HistorySize int

	// Logger for lifecycle messages
	Logger *slog.Logger
}

func (o Options) argv(commandLine string) (string, []string, error) {
	if strings.TrimSpace(commandLine) == "" {
		return "", nil, ErrEmptyCommand
	}
	if o.Shell {
		if runtime.GOOS == "windows" {
			return "cmd", []string{"/C", commandLine}, nil
		}
		return "/bin/sh", []string{"-c", commandLine}, nil
	}
	parts, err := shlex.Split(commandLine)
	if err != nil {
		return "", nil, fmt.Errorf("failed to split command %q: %w", commandLine, err)
	}
	if len(parts) == 0 {
		return "", nil, ErrEmptyCommand
	}
	return parts[0], parts[1:], nil
}

func (o Options) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(o.Env))
	for k := range o.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// exec keeps the last value for duplicate keys
	for _, k := range keys {
		env = append(env, k+"="+o.Env[k])
	}
	return env
}

func (o Options) label() string {
	if o.Label != "" {
		return o.Label
	}
	return "child"
}

// Handle is a spawned child process. A handle is never reused after the
// process exits; spawn a new one instead.
type Handle struct {
	label     string
	command   string
	pid       int
	startTime time.Time
	cmd       *exec.Cmd
	history   *History
	logger    *slog.Logger

	mu       sync.RWMutex
	exitCode int
	exited   bool

	exitedCh chan struct{} // closed when the OS process is gone
	done     chan struct{} // closed after exit and output drain
	pumps    sync.WaitGroup
}

// Spawn starts commandLine as a managed child in its own process group
func Spawn(commandLine string, opts Options) (*Handle, error) {
	name, args, err := opts.argv(commandLine)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.environ()

	h := &Handle{
		label:    opts.label(),
		command:  commandLine,
		cmd:      cmd,
		history:  NewHistory(opts.HistorySize),
		logger:   logger,
		exitCode: ExitSignaled,
		exitedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if !opts.MirrorOutput {
		stdout, stderr = nil, nil
	}

	if opts.PTY {
		// pty.Start puts the child in a new session, which also makes it a group leader
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start %q with pty: %w", commandLine, err)
		}
		h.pumps.Add(1)
		go h.pump(ptmx, stdout)
	} else {
		setProcessGroup(cmd)

		outR, outW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			outR.Close()
			outW.Close()
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
		// Handing exec real files keeps Wait independent of our readers
		cmd.Stdout = outW
		cmd.Stderr = errW

		if err := cmd.Start(); err != nil {
			outR.Close()
			outW.Close()
			errR.Close()
			errW.Close()
			return nil, fmt.Errorf("failed to start %q: %w", commandLine, err)
		}
		outW.Close()
		errW.Close()

		h.pumps.Add(2)
		go h.pump(outR, stdout)
		go h.pump(errR, stderr)
	}

	h.pid = cmd.Process.Pid
	h.startTime = time.Now()

	go h.wait()

	return h, nil
}

// Run spawns commandLine and blocks until it exits, returning its exit code.
// Cancelling ctx terminates the process tree.
func Run(ctx context.Context, commandLine string, opts Options) (int, error) {
	h, err := Spawn(commandLine, opts)
	if err != nil {
		return 0, err
	}
	return h.Wait(ctx)
}

func (h *Handle) pump(r io.ReadCloser, mirror io.Writer) {
	defer h.pumps.Done()
	defer r.Close()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			h.history.Add(line)
			if mirror != nil {
				mirrorMu.Lock()
				fmt.Fprintf(mirror, "[%s] %s\n", h.label, line)
				mirrorMu.Unlock()
			}
		}
		if err != nil {
			// EOF for pipes, EIO for a pty whose child has gone
			return
		}
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	code := ExitSignaled
	if state := h.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}

	h.mu.Lock()
	h.exitCode = code
	h.exited = true
	h.mu.Unlock()
	close(h.exitedCh)

	if err != nil && code == ExitSignaled {
		h.logger.Debug("Process terminated", "label", h.label, "pid", h.pid, "error", err)
	} else {
		h.logger.Debug("Process exited", "label", h.label, "pid", h.pid, "code", code)
	}

	drained := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		h.logger.Debug("Output still open after exit, not waiting for it", "label", h.label, "pid", h.pid)
	}
	close(h.done)
}

// Pid returns the OS process identifier
func (h *Handle) Pid() int {
	return h.pid
}

// Label returns the output label of the process
func (h *Handle) Label() string {
	return h.label
}

// Command returns the command line the process was started with
func (h *Handle) Command() string {
	return h.command
}

// StartTime returns when the process was spawned
func (h *Handle) StartTime() time.Time {
	return h.startTime
}

// Done is closed once the process has exited and its output has drained
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the OS process has exited
func (h *Handle) Exited() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exited
}

// ExitCode returns the exit code and whether the process has exited.
// Signal termination reports ExitSignaled.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode, h.exited
}

// Output returns the most recent output lines
func (h *Handle) Output() []string {
	return h.history.Lines()
}

// Wait blocks until the process exits and returns its exit code.
// If ctx is cancelled first the process tree is terminated.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		code, _ := h.ExitCode()
		return code, nil
	case <-ctx.Done():
		if err := h.Kill(time.Second); err != nil {
			h.logger.Warn("Failed to terminate process after cancellation", "label", h.label, "pid", h.pid, "error", err)
		}
		return ExitSignaled, ctx.Err()
	}
}

// Kill terminates the whole process tree rooted at the child and waits up
// to grace for it to exit. A zero grace sends the signal without waiting.
// When the deadline passes the tree is force killed and an error wrapping
// ErrKillTimeout is returned.
func (h *Handle) Kill(grace time.Duration) error {
	if h.Exited() {
		h.logger.Info("Process had already exited", "label", h.label, "pid", h.pid)
		return nil
	}

	h.logger.Info("Terminating process tree", "label", h.label, "pid", h.pid, "grace", grace)
	if err := terminateTree(h.pid); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", h.pid, err)
	}

	if grace <= 0 {
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.exitedCh:
		return nil
	case <-timer.C:
		if err := forceKillTree(h.pid); err != nil {
			h.logger.Debug("Force kill failed", "label", h.label, "pid", h.pid, "error", err)
		}
		return fmt.Errorf("%w: process %d still running after %s", ErrKillTimeout, h.pid, grace)
	}
}
