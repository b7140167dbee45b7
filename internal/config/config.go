package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thatcatdev/tether/internal/session"
	"github.com/thatcatdev/tether/internal/supervisor"
)

// Run modes accepted in the config file.
const (
	RunModeAttach     = "attach"
	RunModeFresh      = "fresh"
	RunModeStandalone = "standalone"
)

// Config holds tether settings.
type Config struct {
	Host         string `yaml:"host"`   // daemon address, OLLAMA_HOST style
	Binary       string `yaml:"binary"` // ollama executable
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	Verbose      bool   `yaml:"verbose"`

	Daemon DaemonConfig `yaml:"daemon"`
	Run    RunConfig    `yaml:"run"`

	CloseOnExit       bool `yaml:"close_on_exit"`
	AllowInterruption bool `yaml:"allow_interruption"`
	SilenceOutput     bool `yaml:"silence_output"`
}

// DaemonConfig controls supervision of `ollama serve`.
type DaemonConfig struct {
	ForceRestart  bool          `yaml:"force_restart"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	CaptureOutput bool          `yaml:"capture_output"`
}

// RunConfig controls the per-model run process.
type RunConfig struct {
	Mode string `yaml:"mode"` // attach, fresh or standalone
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Binary: supervisor.DefaultBinary,
		Model:  session.DefaultModel,
		Daemon: DaemonConfig{
			Retries:    10,
			RetryDelay: 2 * time.Second,
		},
		Run:               RunConfig{Mode: RunModeAttach},
		CloseOnExit:       true,
		AllowInterruption: true,
	}
}

// Load reads the config file at path over the defaults and applies
// environment overrides. An empty path means ConfigPath(); a missing file
// is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("TETHER_MODEL"); v != "" {
		c.Model = v
	}
}

// Validate checks values the supervisors cannot default.
func (c *Config) Validate() error {
	switch c.Run.Mode {
	case "", RunModeAttach, RunModeFresh, RunModeStandalone:
	default:
		return fmt.Errorf("unknown run mode %q (want %s, %s or %s)", c.Run.Mode, RunModeAttach, RunModeFresh, RunModeStandalone)
	}
	if c.Daemon.Retries < 0 {
		return fmt.Errorf("daemon.retries must not be negative")
	}
	if c.Daemon.RetryDelay < 0 {
		return fmt.Errorf("daemon.retry_delay must not be negative")
	}
	return nil
}

// Save writes the config to path as YAML, creating its directory.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SessionOptions maps the config onto session options.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Host = c.Host
	opts.Binary = c.Binary
	if c.Model != "" {
		opts.Model = c.Model
	}
	opts.SystemPrompt = c.SystemPrompt
	opts.ForceRestartDaemon = c.Daemon.ForceRestart
	opts.Retries = c.Daemon.Retries
	opts.RetryDelay = c.Daemon.RetryDelay
	opts.CaptureOutput = c.Daemon.CaptureOutput
	opts.CloseOnExit = c.CloseOnExit
	opts.AllowInterruption = c.AllowInterruption
	opts.SilenceOutput = c.SilenceOutput

	switch c.Run.Mode {
	case RunModeFresh:
		opts.RunSubprocess = true
	case RunModeStandalone:
		opts.Standalone = true
	default:
		opts.RunAttached = true
	}
	return opts
}

// DataDir returns the data directory for tether.
// Windows: %LOCALAPPDATA%\tether
// Linux/Mac: ~/.local/share/tether
func DataDir() string {
	if dir := os.Getenv("TETHER_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "tether")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tether")
}

// ConfigPath returns where the config file lives.
func ConfigPath() string {
	if p := os.Getenv("TETHER_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "config.yaml")
}
