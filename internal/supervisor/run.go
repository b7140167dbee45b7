package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/process"
)

// RunMode selects how the per-model run process is reconciled.
type RunMode int

const (
	// AttachIfPresent observes an existing run process, spawning one only
	// when none is running.
	AttachIfPresent RunMode = iota
	// ForceFresh kills any existing run process and spawns a new one.
	ForceFresh
	// Standalone uses no run process; chat goes straight to the daemon.
	Standalone
)

func (m RunMode) String() string {
	switch m {
	case AttachIfPresent:
		return "attach"
	case ForceFresh:
		return "fresh"
	case Standalone:
		return "standalone"
	default:
		return fmt.Sprintf("RunMode(%d)", int(m))
	}
}

// RunModeFor maps the user-facing switches onto a RunMode. Asking to attach
// and to force a fresh subprocess at once is rejected.
func RunModeFor(standalone, attach, fresh bool) (RunMode, error) {
	switch {
	case attach && fresh:
		return 0, ErrConflictingRunMode
	case standalone:
		return Standalone, nil
	case fresh:
		return ForceFresh, nil
	default:
		return AttachIfPresent, nil
	}
}

// RunConfig configures a Run supervisor.
type RunConfig struct {
	Binary      string
	ProcessName string
	Capture     bool
	Logger      *zap.Logger
}

// RunResult is the outcome of EnsureRun.
type RunResult struct {
	// Handle is nil in Standalone mode.
	Handle process.Handle
	Owned  bool
	Mode   RunMode
}

// Run ensures an `ollama run <model>` process exists for a model.
type Run struct {
	cfg     RunConfig
	locator Locator
	spawner Spawner
	logger  *zap.Logger
}

// NewRun creates a Run supervisor.
func NewRun(locator Locator, spawner Spawner, cfg RunConfig) *Run {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = "ollama"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Run{cfg: cfg, locator: locator, spawner: spawner, logger: logger}
}

// Command returns the argument vector of the run process for model.
func (r *Run) Command(model string) []string {
	return []string{r.cfg.Binary, "run", model}
}

// EnsureRun reconciles the run process for model according to mode. The
// attached process is not re-checked later.
func (r *Run) EnsureRun(ctx context.Context, model string, mode RunMode) (RunResult, error) {
	res := RunResult{Mode: mode}
	logger := r.logger.With(zap.String("model", model), zap.Stringer("mode", mode))

	if mode == Standalone {
		logger.Debug("standalone, no run process")
		return res, nil
	}

	found, err := r.locator.Lookup(ctx, r.cfg.ProcessName, r.Command(model))
	if err != nil {
		logger.Warn("process lookup failed", zap.Error(err))
	}

	if found != nil {
		if mode == AttachIfPresent {
			logger.Info("attached to running model", zap.Int("pid", found.PID()))
			res.Handle = found
			return res, nil
		}
		logger.Info("stopping existing run process", zap.Int("pid", found.PID()))
		if err := found.Terminate(); err != nil {
			return res, fmt.Errorf("stop existing run process: %w", err)
		}
	}

	child, err := r.spawner.Start(process.Spec{
		Argv:      r.Command(model),
		Label:     "ollama run",
		Capture:   r.cfg.Capture,
		KeepStdin: true,
		Logger:    r.logger,
	})
	if err != nil {
		return res, spawnError(r.cfg.Binary, err)
	}

	res.Handle = child
	res.Owned = true
	return res, nil
}
