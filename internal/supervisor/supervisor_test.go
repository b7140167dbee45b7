package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/process"
	"github.com/thatcatdev/tether/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandle struct {
	mu         sync.Mutex
	pid        int
	alive      bool
	terminated int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, alive: true}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated++
	h.alive = false
	return nil
}

func (h *fakeHandle) Terminated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// fakeLocator returns running when its prefix matches the queried one.
type fakeLocator struct {
	running map[string]*fakeHandle
	err     error
	queries [][]string
}

func (l *fakeLocator) Lookup(_ context.Context, _ string, prefix []string) (process.Handle, error) {
	l.queries = append(l.queries, prefix)
	if l.err != nil {
		return nil, l.err
	}
	if h, ok := l.running[fmt.Sprint(prefix)]; ok && h.IsAlive() {
		return h, nil
	}
	return nil, nil
}

// fakeProber is reachable once `failures` probes have been answered.
type fakeProber struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (p *fakeProber) List(context.Context) ([]api.ModelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.calls <= p.failures {
		return nil, &daemon.ConnError{Kind: daemon.Refused, Err: errors.New("connection refused")}
	}
	return nil, nil
}

type fakeSpawner struct {
	err     error
	started []process.Spec
	handles []*fakeHandle
	onStart func(*fakeHandle)
}

func (s *fakeSpawner) Start(spec process.Spec) (process.Handle, error) {
	s.started = append(s.started, spec)
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle(1000 + len(s.started))
	if s.onStart != nil {
		s.onStart(h)
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func fastConfig() DaemonConfig {
	return DaemonConfig{Retries: 3, RetryDelay: time.Millisecond}
}

func serveKey() string {
	return fmt.Sprint([]string{"ollama", "serve"})
}

func TestEnsureRunningSpawnsWhenNothingRuns(t *testing.T) {
	loc := &fakeLocator{}
	prober := &fakeProber{failures: 2}
	sp := &fakeSpawner{}

	res, err := NewDaemon(loc, prober, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, sp.started, 1)
	assert.Equal(t, []string{"ollama", "serve"}, sp.started[0].Argv)
	assert.True(t, res.Owned)
	assert.Equal(t, Ready, res.State)
	assert.Equal(t, []State{Unchecked, NotFound, Spawning, Ready}, res.Path)
	assert.Same(t, sp.handles[0], res.Handle)
	assert.Zero(t, sp.handles[0].Terminated())
}

func TestEnsureRunningReusesReachableDaemon(t *testing.T) {
	existing := newFakeHandle(42)
	loc := &fakeLocator{running: map[string]*fakeHandle{serveKey(): existing}}
	sp := &fakeSpawner{}

	res, err := NewDaemon(loc, &fakeProber{}, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, sp.started)
	assert.False(t, res.Owned)
	assert.Equal(t, FoundReusable, res.State)
	assert.Same(t, existing, res.Handle)
	assert.Zero(t, existing.Terminated())
}

func TestEnsureRunningReachableButNotInProcessTable(t *testing.T) {
	sp := &fakeSpawner{}

	res, err := NewDaemon(&fakeLocator{}, &fakeProber{}, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, sp.started)
	assert.False(t, res.Owned)
	assert.Nil(t, res.Handle)
	assert.Equal(t, FoundReusable, res.State)
}

func TestEnsureRunningForceRestart(t *testing.T) {
	existing := newFakeHandle(42)
	loc := &fakeLocator{running: map[string]*fakeHandle{serveKey(): existing}}
	prober := &fakeProber{failures: 1}
	sp := &fakeSpawner{}

	res, err := NewDaemon(loc, prober, sp, fastConfig()).EnsureRunning(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, existing.Terminated())
	require.Len(t, sp.started, 1)
	assert.True(t, res.Owned)
	assert.Equal(t, []State{Unchecked, FoundForceKilled, Spawning, Ready}, res.Path)
}

func TestEnsureRunningFoundButUnreachableSpawns(t *testing.T) {
	existing := newFakeHandle(42)
	loc := &fakeLocator{running: map[string]*fakeHandle{serveKey(): existing}}
	sp := &fakeSpawner{}

	res, err := NewDaemon(loc, &fakeProber{failures: 1}, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, res.Owned)
	assert.Equal(t, []State{Unchecked, FoundReusable, NotFound, Spawning, Ready}, res.Path)
	assert.Zero(t, existing.Terminated(), "observed daemon is never killed without force")
}

func TestEnsureRunningRetriesExhausted(t *testing.T) {
	prober := &fakeProber{failures: 100}
	sp := &fakeSpawner{}

	res, err := NewDaemon(&fakeLocator{}, prober, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.ErrorIs(t, err, ErrUnreachable)

	assert.Equal(t, Unreachable, res.State)
	assert.False(t, res.Owned)
	// One probe before spawning plus one per retry.
	assert.Equal(t, 4, prober.calls)
	require.Len(t, sp.handles, 1)
	assert.Equal(t, 1, sp.handles[0].Terminated())
}

func TestEnsureRunningChildDiesEarly(t *testing.T) {
	prober := &fakeProber{failures: 100}
	sp := &fakeSpawner{onStart: func(h *fakeHandle) { h.alive = false }}

	_, err := NewDaemon(&fakeLocator{}, prober, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 2, prober.calls)
}

func TestEnsureRunningMissingBinary(t *testing.T) {
	sp := &fakeSpawner{err: fmt.Errorf("resolve ollama: %w", fs.ErrNotExist)}

	_, err := NewDaemon(&fakeLocator{}, &fakeProber{failures: 1}, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.ErrorIs(t, err, daemon.ErrExecutableNotFound)
	assert.Contains(t, err.Error(), daemon.InstallHint)
}

func TestEnsureRunningProbeFailure(t *testing.T) {
	prober := &fakeProber{err: &daemon.StatusError{StatusCode: 500, Message: "boom"}}
	sp := &fakeSpawner{}

	_, err := NewDaemon(&fakeLocator{}, prober, sp, fastConfig()).EnsureRunning(context.Background(), false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.Empty(t, sp.started)
}

func TestEnsureRunningLookupErrorFallsBackToProbe(t *testing.T) {
	loc := &fakeLocator{err: errors.New("permission denied")}

	res, err := NewDaemon(loc, &fakeProber{}, &fakeSpawner{}, fastConfig()).EnsureRunning(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Owned)
}

func TestEnsureRunningContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sp := &fakeSpawner{onStart: func(*fakeHandle) { cancel() }}
	d := NewDaemon(&fakeLocator{}, &fakeProber{failures: 100}, sp, DaemonConfig{Retries: 5, RetryDelay: time.Hour})

	_, err := d.EnsureRunning(ctx, false)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sp.handles, 1)
	assert.Equal(t, 1, sp.handles[0].Terminated())
}

func TestRunModeFor(t *testing.T) {
	tests := []struct {
		name                      string
		standalone, attach, fresh bool
		want                      RunMode
		wantErr                   error
	}{
		{name: "default", want: AttachIfPresent},
		{name: "attach", attach: true, want: AttachIfPresent},
		{name: "fresh", fresh: true, want: ForceFresh},
		{name: "standalone", standalone: true, want: Standalone},
		{name: "conflict", attach: true, fresh: true, wantErr: ErrConflictingRunMode},
		{name: "conflict standalone", standalone: true, attach: true, fresh: true, wantErr: ErrConflictingRunMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RunModeFor(tt.standalone, tt.attach, tt.fresh)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func runKey(model string) string {
	return fmt.Sprint([]string{"ollama", "run", model})
}

func TestEnsureRunStandalone(t *testing.T) {
	loc := &fakeLocator{}
	sp := &fakeSpawner{}

	res, err := NewRun(loc, sp, RunConfig{}).EnsureRun(context.Background(), "llama3.1:8b", Standalone)
	require.NoError(t, err)

	assert.Nil(t, res.Handle)
	assert.False(t, res.Owned)
	assert.Empty(t, loc.queries)
	assert.Empty(t, sp.started)
}

func TestEnsureRunAttaches(t *testing.T) {
	existing := newFakeHandle(7)
	loc := &fakeLocator{running: map[string]*fakeHandle{runKey("llama3.1:8b"): existing}}
	sp := &fakeSpawner{}

	res, err := NewRun(loc, sp, RunConfig{}).EnsureRun(context.Background(), "llama3.1:8b", AttachIfPresent)
	require.NoError(t, err)

	assert.Same(t, existing, res.Handle)
	assert.False(t, res.Owned)
	assert.Empty(t, sp.started)
}

func TestEnsureRunAttachSpawnsWhenAbsent(t *testing.T) {
	// A run process for another model does not count.
	other := newFakeHandle(7)
	loc := &fakeLocator{running: map[string]*fakeHandle{runKey("mistral:latest"): other}}
	sp := &fakeSpawner{}

	res, err := NewRun(loc, sp, RunConfig{}).EnsureRun(context.Background(), "llama3.1:8b", AttachIfPresent)
	require.NoError(t, err)

	require.Len(t, sp.started, 1)
	assert.Equal(t, []string{"ollama", "run", "llama3.1:8b"}, sp.started[0].Argv)
	assert.True(t, sp.started[0].KeepStdin)
	assert.True(t, res.Owned)
	assert.Zero(t, other.Terminated())
}

func TestEnsureRunForceFresh(t *testing.T) {
	existing := newFakeHandle(7)
	loc := &fakeLocator{running: map[string]*fakeHandle{runKey("llama3.1:8b"): existing}}
	sp := &fakeSpawner{}

	res, err := NewRun(loc, sp, RunConfig{Capture: true}).EnsureRun(context.Background(), "llama3.1:8b", ForceFresh)
	require.NoError(t, err)

	assert.Equal(t, 1, existing.Terminated())
	require.Len(t, sp.started, 1)
	assert.True(t, sp.started[0].Capture)
	assert.True(t, res.Owned)
	assert.Same(t, sp.handles[0], res.Handle)
}

func TestEnsureRunMissingBinary(t *testing.T) {
	sp := &fakeSpawner{err: fmt.Errorf("resolve ollama: %w", fs.ErrNotExist)}

	_, err := NewRun(&fakeLocator{}, sp, RunConfig{}).EnsureRun(context.Background(), "llama3.1:8b", ForceFresh)
	require.ErrorIs(t, err, daemon.ErrExecutableNotFound)
}
