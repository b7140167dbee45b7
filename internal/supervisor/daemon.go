package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/process"
)

// State is a step of daemon reconciliation.
type State int

const (
	Unchecked State = iota
	FoundReusable
	FoundForceKilled
	NotFound
	Spawning
	Ready
	Unreachable
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case FoundReusable:
		return "found-reusable"
	case FoundForceKilled:
		return "found-force-killed"
	case NotFound:
		return "not-found"
	case Spawning:
		return "spawning"
	case Ready:
		return "ready"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DaemonConfig configures a Daemon supervisor.
type DaemonConfig struct {
	Binary      string        // executable, default "ollama"
	ProcessName string        // process-table name to match, default "ollama"
	Retries     int           // probe attempts after spawning, default 10
	RetryDelay  time.Duration // delay between attempts, default 2s
	Capture     bool          // capture the spawned daemon's output
	Logger      *zap.Logger
}

// DaemonResult is the outcome of EnsureRunning.
type DaemonResult struct {
	// Handle is the daemon process: spawned when Owned, observed otherwise.
	// It is nil when a reachable daemon is not visible in the process table.
	Handle process.Handle
	Owned  bool
	State  State
	// Path lists every state passed through, in order.
	Path []State
}

// Daemon ensures the ollama daemon is running and reachable.
type Daemon struct {
	cfg     DaemonConfig
	locator Locator
	prober  Prober
	spawner Spawner
	logger  *zap.Logger
}

// NewDaemon creates a Daemon supervisor.
func NewDaemon(locator Locator, prober Prober, spawner Spawner, cfg DaemonConfig) *Daemon {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = "ollama"
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{cfg: cfg, locator: locator, prober: prober, spawner: spawner, logger: logger}
}

// Command returns the argument vector used to find and spawn the daemon.
func (d *Daemon) Command() []string {
	return []string{d.cfg.Binary, "serve"}
}

// EnsureRunning locates, optionally restarts, probes and if needed spawns
// the daemon. The result is owned only when this call spawned it.
func (d *Daemon) EnsureRunning(ctx context.Context, forceRestart bool) (DaemonResult, error) {
	res := DaemonResult{State: Unchecked, Path: []State{Unchecked}}
	step := func(s State) {
		res.State = s
		res.Path = append(res.Path, s)
		d.logger.Debug("daemon state", zap.Stringer("state", s))
	}

	found, err := d.locator.Lookup(ctx, d.cfg.ProcessName, d.Command())
	if err != nil {
		d.logger.Warn("process lookup failed, relying on probe", zap.Error(err))
	}

	switch {
	case found != nil && forceRestart:
		d.logger.Info("restarting daemon", zap.Int("pid", found.PID()))
		if err := found.Terminate(); err != nil {
			return res, fmt.Errorf("stop existing daemon: %w", err)
		}
		found = nil
		step(FoundForceKilled)
	case found != nil:
		step(FoundReusable)
	default:
		step(NotFound)
	}

	reachable, err := d.probe(ctx)
	if err != nil {
		return res, err
	}
	if reachable {
		if res.State != FoundReusable {
			step(FoundReusable)
		}
		res.Handle = found
		d.logger.Info("using running daemon", zap.Bool("in_process_table", found != nil))
		return res, nil
	}
	if res.State == FoundReusable {
		// In the process table but not serving: starting up or defunct.
		d.logger.Info("daemon process found but unreachable", zap.Int("pid", found.PID()))
		step(NotFound)
	}

	step(Spawning)
	child, err := d.spawner.Start(process.Spec{
		Argv:    d.Command(),
		Label:   "ollama serve",
		Capture: d.cfg.Capture,
		Logger:  d.logger,
	})
	if err != nil {
		return res, spawnError(d.cfg.Binary, err)
	}

	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		reachable, err := d.probe(ctx)
		if err != nil {
			child.Terminate()
			return res, err
		}
		if reachable {
			step(Ready)
			res.Handle = child
			res.Owned = true
			d.logger.Info("daemon ready", zap.Int("pid", child.PID()), zap.Int("attempts", attempt))
			return res, nil
		}
		if !child.IsAlive() {
			break
		}
		d.logger.Debug("daemon not ready", zap.Int("attempt", attempt))
		if err := sleepCtx(ctx, d.cfg.RetryDelay); err != nil {
			child.Terminate()
			return res, err
		}
	}

	step(Unreachable)
	child.Terminate()
	return res, fmt.Errorf("%w at %s after %d attempts", ErrUnreachable, d.cfg.Binary, d.cfg.Retries)
}

// probe reports whether the daemon answers. Unreachable errors are folded
// into false; anything else is returned.
func (d *Daemon) probe(ctx context.Context) (bool, error) {
	_, err := d.prober.List(ctx)
	switch {
	case err == nil:
		return true, nil
	case daemon.IsUnreachable(err):
		return false, nil
	default:
		return false, fmt.Errorf("probe daemon: %w", err)
	}
}
