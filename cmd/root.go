package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/config"
	"github.com/thatcatdev/tether/internal/library"
	"github.com/thatcatdev/tether/internal/lifecycle"
	"github.com/thatcatdev/tether/internal/logging"
	"github.com/thatcatdev/tether/internal/models"
	"github.com/thatcatdev/tether/internal/session"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Run and chat with local ollama models",
	Long: `tether keeps the ollama daemon and a model session running for you,
pulls models on demand and gives you a chat prompt on top.

Processes tether starts are stopped again when it exits; daemons and model
sessions that were already running are left alone.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Host, _ = flags.GetString("host")
		}
		if flags.Changed("model") {
			cfg.Model, _ = flags.GetString("model")
		}
		if flags.Changed("binary") {
			cfg.Binary, _ = flags.GetString("binary")
		}
		if verbose, _ := flags.GetBool("verbose"); verbose {
			cfg.Verbose = true
		}

		logger, err = logging.New(cfg.Verbose)
		if err != nil {
			return err
		}
		lifecycle.Default().SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default $TETHER_CONFIG or <data dir>/config.yaml)")
	pf.BoolP("verbose", "v", false, "debug logging")
	pf.String("host", "", "ollama daemon address (default $OLLAMA_HOST or 127.0.0.1:11434)")
	pf.StringP("model", "m", "", "model to run (default llama3.1:8b)")
	pf.String("binary", "", "ollama executable")
}

// sessionOptions builds session options from the config and the
// run-mode flags every session command shares.
func sessionOptions(cmd *cobra.Command) session.Options {
	opts := cfg.SessionOptions()
	opts.Logger = logger
	opts.Out = cmd.OutOrStdout()

	flags := cmd.Flags()
	if flags.Lookup("standalone") != nil {
		standalone, _ := flags.GetBool("standalone")
		attach, _ := flags.GetBool("attach")
		fresh, _ := flags.GetBool("fresh")
		if standalone || attach || fresh {
			opts.Standalone = standalone
			opts.RunAttached = attach
			opts.RunSubprocess = fresh
		}
	}
	if flags.Lookup("restart-daemon") != nil {
		if restart, _ := flags.GetBool("restart-daemon"); restart {
			opts.ForceRestartDaemon = true
		}
	}
	if flags.Lookup("system") != nil && flags.Changed("system") {
		opts.SystemPrompt, _ = flags.GetString("system")
	}
	return opts
}

func addRunModeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("standalone", false, "talk to the daemon directly, without an `ollama run` process")
	cmd.Flags().Bool("attach", false, "attach to a running `ollama run <model>` if there is one (default)")
	cmd.Flags().Bool("fresh", false, "always start a new `ollama run <model>` process")
	cmd.Flags().Bool("restart-daemon", false, "restart the ollama daemon even if it is running")
}

// withCatalogHint appends pullable catalog matches to an unknown-model
// error.
func withCatalogHint(ctx context.Context, err error, model string) error {
	return catalogHint(ctx, library.NewClient(""), err, model)
}

func catalogHint(ctx context.Context, catalog *library.Client, err error, model string) error {
	if !errors.Is(err, models.ErrInvalidModel) {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	found, serr := catalog.Search(ctx, model, 5)
	if serr != nil || len(found) == 0 {
		logger.Debug("catalog search failed", zap.Error(serr))
		return err
	}
	var tags []string
	for _, m := range found {
		tags = append(tags, m.Tags()...)
	}
	return fmt.Errorf("%w\n  try one of: %s", err, strings.Join(tags, ", "))
}
