package process

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Handle is a reference to an OS process, either spawned by us (*Child) or
// discovered in the process table (*Found).
type Handle interface {
	PID() int
	IsAlive() bool
	Terminate() error
}

// Spec describes a child process to spawn.
type Spec struct {
	Argv  []string
	Label string // log label, defaults to the binary name
	Env   []string

	// Capture routes stdout and stderr into a pipe readable through Output.
	// Otherwise both go to the null device.
	Capture bool

	// KeepStdin holds a pipe open on the child's stdin until Terminate, for
	// commands that exit once stdin reaches EOF.
	KeepStdin bool

	// StopTimeout is how long Terminate waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration

	Logger *zap.Logger
}

// Child is a process spawned and owned by this program.
type Child struct {
	cmd         *exec.Cmd
	label       string
	stopTimeout time.Duration
	logger      *zap.Logger

	output *os.File
	stdin  io.WriteCloser

	doneCh   chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

// IsNotFound reports whether err means the executable could not be located.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Start launches the child described by spec. It does not wait for the
// child to become ready.
func Start(spec Spec) (*Child, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty command")
	}

	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec.Argv[0], err)
	}

	label := spec.Label
	if label == "" {
		label = spec.Argv[0]
	}
	logger := spec.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stopTimeout := spec.StopTimeout
	if stopTimeout == 0 {
		stopTimeout = 5 * time.Second
	}

	cmd := exec.Command(path, spec.Argv[1:]...)
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	c := &Child{
		cmd:         cmd,
		label:       label,
		stopTimeout: stopTimeout,
		logger:      logger.With(zap.String("process", label)),
		doneCh:      make(chan struct{}),
	}

	// An os.Pipe instead of cmd.StdoutPipe: Wait must not close the read
	// end before the caller has drained it.
	var writeEnd *os.File
	if spec.Capture {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("create output pipe: %w", err)
		}
		c.output, writeEnd = r, w
		cmd.Stdout = w
		cmd.Stderr = w
	}

	if spec.KeepStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			c.closePipes(writeEnd)
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		c.stdin = stdin
	}

	c.logger.Debug("starting process", zap.Strings("argv", spec.Argv), zap.Bool("capture", spec.Capture))

	if err := cmd.Start(); err != nil {
		c.closePipes(writeEnd)
		return nil, fmt.Errorf("failed to start %s: %w", label, err)
	}
	if writeEnd != nil {
		writeEnd.Close()
	}

	go func() {
		c.waitErr = cmd.Wait()
		close(c.doneCh)
	}()

	c.logger.Info("process started", zap.Int("pid", cmd.Process.Pid))
	return c, nil
}

// PID returns the OS process id.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Done returns a channel that is closed when the process exits.
func (c *Child) Done() <-chan struct{} {
	return c.doneCh
}

// IsAlive reports whether the process has not exited yet.
func (c *Child) IsAlive() bool {
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (c *Child) ExitCode() int {
	if c.IsAlive() || c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// Output returns the read end of the captured stdout/stderr pipe, or false
// when the child was started without Capture.
func (c *Child) Output() (io.Reader, bool) {
	if c.output == nil {
		return nil, false
	}
	return c.output, true
}

// Terminate sends SIGTERM, waits up to the stop timeout, then SIGKILL.
// Only the first call does any work; later calls return its result.
func (c *Child) Terminate() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop()
	})
	return c.stopErr
}

func (c *Child) stop() error {
	if c.stdin != nil {
		c.stdin.Close()
	}

	if !c.IsAlive() {
		c.logger.Debug("process already exited", zap.Int("exit_code", c.ExitCode()))
		return nil
	}

	pid := c.cmd.Process.Pid
	c.logger.Info("stopping process", zap.Int("pid", pid))

	var sigErr error
	if runtime.GOOS == "windows" {
		sigErr = c.cmd.Process.Kill()
	} else {
		sigErr = c.cmd.Process.Signal(syscall.SIGTERM)
	}
	if sigErr != nil {
		// Raced with exit.
		c.logger.Debug("signal failed", zap.Error(sigErr))
		<-c.doneCh
		return nil
	}

	select {
	case <-c.doneCh:
		return nil
	case <-time.After(c.stopTimeout):
		c.logger.Warn("process ignored SIGTERM, killing", zap.Int("pid", pid))
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill %s: %w", c.label, err)
		}
		<-c.doneCh
		return nil
	}
}

func (c *Child) closePipes(writeEnd *os.File) {
	if writeEnd != nil {
		writeEnd.Close()
	}
	if c.output != nil {
		c.output.Close()
	}
}

// Launcher starts children with Start. It satisfies the spawner interfaces
// used by the supervisors.
type Launcher struct{}

// Start is Start returning a Handle; the Handle is nil on error.
func (Launcher) Start(spec Spec) (Handle, error) {
	child, err := Start(spec)
	if err != nil {
		return nil, err
	}
	return child, nil
}
