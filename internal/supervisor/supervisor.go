// Package supervisor reconciles the ollama daemon and per-model run
// processes against what is already running on the machine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/process"
	"github.com/thatcatdev/tether/pkg/api"
)

var (
	// ErrUnreachable means a spawned daemon never answered the probe.
	ErrUnreachable = errors.New("ollama daemon unreachable")

	// ErrConflictingRunMode means attach and force-fresh were both requested.
	ErrConflictingRunMode = errors.New("cannot attach to a running model and force a fresh subprocess at the same time")
)

// Locator finds running processes. *process.Locator implements it.
type Locator interface {
	Lookup(ctx context.Context, name string, prefix []string) (process.Handle, error)
}

// Spawner starts child processes. process.Launcher implements it.
type Spawner interface {
	Start(spec process.Spec) (process.Handle, error)
}

// Prober checks daemon reachability. *daemon.Client implements it.
type Prober interface {
	List(ctx context.Context) ([]api.ModelInfo, error)
}

// DefaultBinary is the daemon executable name.
const DefaultBinary = "ollama"

func spawnError(binary string, err error) error {
	if process.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %s", daemon.ErrExecutableNotFound, binary, daemon.InstallHint)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
