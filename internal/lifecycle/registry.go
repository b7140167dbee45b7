// Package lifecycle keeps a process-wide list of teardown hooks that run once
// at normal program exit. Go has no atexit, so main defers RunAll and exits
// through Exit; explicit Close paths run their own hooks early with Hook.Run.
package lifecycle

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Hook is a registered teardown action. Running it removes it from its
// registry, so it never executes twice.
type Hook struct {
	name string
	fn   func() error
	reg  *Registry
	once sync.Once
	err  error
}

// Run executes the hook now, if it has not run yet, and unregisters it.
func (h *Hook) Run() error {
	h.once.Do(func() {
		h.reg.remove(h)
		h.err = h.fn()
		if h.err != nil {
			h.reg.log().Warn("exit hook failed", zap.String("hook", h.name), zap.Error(h.err))
		}
	})
	return h.err
}

// Unregister drops the hook without running it.
func (h *Hook) Unregister() {
	h.once.Do(func() {
		h.reg.remove(h)
	})
}

// Registry holds pending hooks.
type Registry struct {
	mu     sync.Mutex
	hooks  []*Hook
	logger *zap.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds fn under name and returns its Hook.
func (r *Registry) Register(name string, fn func() error) *Hook {
	h := &Hook{name: name, fn: fn, reg: r}
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
	r.log().Debug("registered exit hook", zap.String("hook", name))
	return h
}

// Len returns the number of pending hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// RunAll runs every pending hook, most recently registered first. Errors
// are logged, not returned, so one failing hook does not skip the rest.
func (r *Registry) RunAll() {
	for {
		r.mu.Lock()
		n := len(r.hooks)
		if n == 0 {
			r.mu.Unlock()
			return
		}
		h := r.hooks[n-1]
		r.mu.Unlock()
		h.Run()
	}
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger *zap.Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func (r *Registry) log() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

func (r *Registry) remove(h *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.hooks {
		if x == h {
			r.hooks = append(r.hooks[:i], r.hooks[i+1:]...)
			return
		}
	}
}

var defaultRegistry = NewRegistry(nil)

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a hook to the process-wide registry.
func Register(name string, fn func() error) *Hook {
	return defaultRegistry.Register(name, fn)
}

// RunAll runs the process-wide registry's pending hooks.
func RunAll() {
	defaultRegistry.RunAll()
}

// Exit runs the process-wide hooks and then exits with code.
func Exit(code int) {
	defaultRegistry.RunAll()
	os.Exit(code)
}
