package session

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/supervisor"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "llama3.1:8b"

// Options configures a Session. Start from DefaultOptions: the zero value
// disables CloseOnExit and AllowInterruption.
type Options struct {
	Model  string
	Host   string // daemon address, OLLAMA_HOST style; empty means OLLAMA_HOST or the default
	Binary string // ollama executable

	Standalone         bool // no run process
	RunAttached        bool // attach to a running `ollama run <model>` if there is one
	RunSubprocess      bool // always spawn a fresh run process
	ForceRestartDaemon bool

	CaptureOutput bool // keep the output of spawned processes readable
	SilenceOutput bool // no status lines on Out

	CloseOnExit       bool // tear down owned processes when the program exits
	AllowInterruption bool // let Stop cut a streamed reply short

	SystemPrompt string

	Retries    int           // daemon readiness probes after spawning
	RetryDelay time.Duration // delay between probes

	Out    io.Writer // status lines, default os.Stdout
	Logger *zap.Logger
}

// DefaultOptions returns the options New expects callers to start from.
func DefaultOptions() Options {
	return Options{
		Model:             DefaultModel,
		CloseOnExit:       true,
		AllowInterruption: true,
		Out:               os.Stdout,
	}
}

// RunMode maps the run switches onto a supervisor.RunMode.
func (o Options) RunMode() (supervisor.RunMode, error) {
	return supervisor.RunModeFor(o.Standalone, o.RunAttached, o.RunSubprocess)
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Binary == "" {
		o.Binary = supervisor.DefaultBinary
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
