package process

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// osProcess is the subset of *process.Process the locator needs.
type osProcess interface {
	NameWithContext(ctx context.Context) (string, error)
	CmdlineSliceWithContext(ctx context.Context) ([]string, error)
	IsRunningWithContext(ctx context.Context) (bool, error)
	TerminateWithContext(ctx context.Context) error
	KillWithContext(ctx context.Context) error
}

type entry struct {
	pid  int32
	proc osProcess
}

// Locator finds running processes by name and command line.
type Locator struct {
	list   func(ctx context.Context) ([]entry, error)
	logger *zap.Logger
}

// NewLocator returns a Locator backed by the OS process table.
func NewLocator(logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{list: listProcesses, logger: logger}
}

func listProcesses(ctx context.Context) ([]entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, entry{pid: p.Pid, proc: p})
	}
	return entries, nil
}

// Find returns the first process whose name contains name (case-insensitive)
// and whose argument vector starts with prefix. It returns nil, nil when no
// process matches. Processes that exit or deny access while being inspected
// are skipped.
func (l *Locator) Find(ctx context.Context, name string, prefix []string) (*Found, error) {
	entries, err := l.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	name = strings.ToLower(name)
	for _, e := range entries {
		procName, err := e.proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(procName), name) {
			continue
		}

		argv, err := e.proc.CmdlineSliceWithContext(ctx)
		if err != nil {
			l.logger.Debug("skipping unreadable process", zap.Int32("pid", e.pid), zap.Error(err))
			continue
		}
		if len(argv) < len(prefix) || !slices.Equal(argv[:len(prefix)], prefix) {
			continue
		}

		l.logger.Debug("found process", zap.Int32("pid", e.pid), zap.Strings("argv", argv))
		return &Found{pid: e.pid, proc: e.proc, argv: argv, stopTimeout: 5 * time.Second}, nil
	}
	return nil, nil
}

// Found is a process discovered in the process table. It is referenced,
// never owned: callers decide whether they are allowed to terminate it.
type Found struct {
	pid         int32
	proc        osProcess
	argv        []string
	stopTimeout time.Duration

	stopOnce sync.Once
	stopErr  error
}

// PID returns the OS process id.
func (f *Found) PID() int {
	return int(f.pid)
}

// Argv returns the command line the process was matched on.
func (f *Found) Argv() []string {
	return f.argv
}

// IsAlive reports whether the process still exists.
func (f *Found) IsAlive() bool {
	running, err := f.proc.IsRunningWithContext(context.Background())
	return err == nil && running
}

// Terminate asks the process to exit and kills it if it is still running
// after the stop timeout. Calling it on a process that is already gone is
// not an error.
func (f *Found) Terminate() error {
	f.stopOnce.Do(func() {
		f.stopErr = f.stop()
	})
	return f.stopErr
}

func (f *Found) stop() error {
	ctx := context.Background()
	if err := f.proc.TerminateWithContext(ctx); err != nil {
		if !f.IsAlive() {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", f.pid, err)
	}

	deadline := time.Now().Add(f.stopTimeout)
	for time.Now().Before(deadline) {
		if !f.IsAlive() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := f.proc.KillWithContext(ctx); err != nil && f.IsAlive() {
		return fmt.Errorf("kill pid %d: %w", f.pid, err)
	}
	return nil
}

// Lookup is Find returning a Handle. The Handle is nil, not a typed nil,
// when nothing matches.
func (l *Locator) Lookup(ctx context.Context, name string, prefix []string) (Handle, error) {
	found, err := l.Find(ctx, name, prefix)
	if found == nil {
		return nil, err
	}
	return found, nil
}
