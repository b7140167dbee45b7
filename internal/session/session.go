// Package session wires the supervisors, the model resolver and a
// conversation into one Session.
package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/chat"
	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/lifecycle"
	"github.com/thatcatdev/tether/internal/models"
	"github.com/thatcatdev/tether/internal/process"
	"github.com/thatcatdev/tether/internal/supervisor"
)

// ErrOutputNotCaptured means there is no captured output to read: capture
// was off or the process was not spawned by this Session.
var ErrOutputNotCaptured = errors.New("process output not captured")

// Session is a running model: the daemon, an optional run process and a
// conversation with its own history. Conversation methods are promoted.
type Session struct {
	*chat.Conversation

	ID string

	opts   Options
	record models.Record
	daemon supervisor.DaemonResult
	run    supervisor.RunResult
	logger *zap.Logger

	registry *lifecycle.Registry
	hooks    []*lifecycle.Hook

	closeOnce sync.Once
	closeErr  error
}

// env holds the collaborators New uses; tests swap them.
type env struct {
	locator  supervisor.Locator
	spawner  supervisor.Spawner
	client   *daemon.Client
	registry *lifecycle.Registry
}

// New starts a Session: it makes sure the daemon is up, resolves (and if
// needed pulls) the model, and sets up the run process for the selected
// mode. Anything spawned before a failure is torn down again.
func New(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	return newSession(ctx, opts, defaultEnv(opts))
}

// With runs fn with a new Session and closes it afterwards, whatever fn
// returns.
func With(ctx context.Context, opts Options, fn func(*Session) error) error {
	opts = opts.withDefaults()
	return with(ctx, opts, defaultEnv(opts), fn)
}

func defaultEnv(opts Options) env {
	return env{
		locator:  process.NewLocator(opts.Logger),
		spawner:  process.Launcher{},
		client:   daemon.NewClient(opts.Host),
		registry: lifecycle.Default(),
	}
}

func with(ctx context.Context, opts Options, e env, fn func(*Session) error) (err error) {
	s, err := newSession(ctx, opts, e)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

func newSession(ctx context.Context, opts Options, e env) (*Session, error) {
	opts = opts.withDefaults()

	mode, err := opts.RunMode()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := opts.Logger.With(zap.String("session", id))

	s := &Session{
		ID:     id,
		opts:   opts,
		logger: logger,
	}
	// Hooks go to the process-wide registry only when they should also run
	// at exit; otherwise a private one keeps Close working the same way.
	if opts.CloseOnExit {
		s.registry = e.registry
	} else {
		s.registry = lifecycle.NewRegistry(logger)
	}

	d := supervisor.NewDaemon(e.locator, e.client, e.spawner, supervisor.DaemonConfig{
		Binary:     opts.Binary,
		Retries:    opts.Retries,
		RetryDelay: opts.RetryDelay,
		Capture:    opts.CaptureOutput,
		Logger:     logger,
	})
	s.daemon, err = d.EnsureRunning(ctx, opts.ForceRestartDaemon)
	if err != nil {
		return nil, err
	}
	if s.daemon.Owned {
		s.own("ollama serve", s.daemon.Handle)
	}

	resolver := models.NewResolver(e.client, models.ResolverConfig{
		Out:     opts.Out,
		Silence: opts.SilenceOutput,
		Logger:  logger,
	})
	s.record, err = resolver.Resolve(ctx, opts.Model)
	if err != nil {
		s.Close()
		return nil, err
	}

	r := supervisor.NewRun(e.locator, e.spawner, supervisor.RunConfig{
		Binary:  opts.Binary,
		Capture: opts.CaptureOutput,
		Logger:  logger,
	})
	s.run, err = r.EnsureRun(ctx, s.record.Resolved, mode)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.run.Owned {
		s.own("ollama run "+s.record.Resolved, s.run.Handle)
	}

	s.Conversation = chat.New(e.client, s.record.Resolved, chat.Config{
		SystemPrompt:      opts.SystemPrompt,
		AllowInterruption: opts.AllowInterruption,
		Logger:            logger,
	})

	logger.Info("session ready",
		zap.String("model", s.record.Resolved),
		zap.Stringer("match", s.record.Match),
		zap.Stringer("run_mode", mode),
		zap.Bool("owns_daemon", s.daemon.Owned),
		zap.Bool("owns_run", s.run.Owned),
	)
	return s, nil
}

// own registers the teardown of an owned process.
func (s *Session) own(name string, h process.Handle) {
	s.hooks = append(s.hooks, s.registry.Register(name, h.Terminate))
}

// Record returns how the requested model was resolved.
func (s *Session) Record() models.Record {
	return s.record
}

// OwnsDaemon reports whether this Session spawned the daemon.
func (s *Session) OwnsDaemon() bool {
	return s.daemon.Owned
}

// OwnsRun reports whether this Session spawned the run process.
func (s *Session) OwnsRun() bool {
	return s.run.Owned
}

// DaemonPID returns the daemon's pid, or 0 when it is not known.
func (s *Session) DaemonPID() int {
	return pid(s.daemon.Handle)
}

// RunPID returns the run process's pid, or 0 when there is none.
func (s *Session) RunPID() int {
	return pid(s.run.Handle)
}

// RunMode returns the mode the run process was set up with.
func (s *Session) RunMode() supervisor.RunMode {
	return s.run.Mode
}

// Output returns the captured output of the spawned daemon.
func (s *Session) Output() (io.Reader, error) {
	return captured(s.opts.CaptureOutput, s.daemon.Owned, s.daemon.Handle)
}

// RunOutput returns the captured output of the spawned run process.
func (s *Session) RunOutput() (io.Reader, error) {
	return captured(s.opts.CaptureOutput, s.run.Owned, s.run.Handle)
}

// Close ends any reply in flight, then terminates the processes this
// Session spawned, the run process first. Observed processes are left alone. Close is idempotent and
// unregisters the exit hooks it runs.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.Conversation != nil {
			s.Conversation.Close()
		}
		var errs []error
		for _, h := range slices.Backward(s.hooks) {
			if err := h.Run(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("session closed", zap.Error(s.closeErr))
	})
	return s.closeErr
}

func pid(h process.Handle) int {
	if h == nil {
		return 0
	}
	return h.PID()
}

func captured(capture, owned bool, h process.Handle) (io.Reader, error) {
	if !capture || !owned {
		return nil, ErrOutputNotCaptured
	}
	c, ok := h.(interface{ Output() (io.Reader, bool) })
	if !ok {
		return nil, ErrOutputNotCaptured
	}
	r, ok := c.Output()
	if !ok {
		return nil, ErrOutputNotCaptured
	}
	return r, nil
}
