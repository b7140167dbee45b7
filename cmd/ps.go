package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/models"
	"github.com/thatcatdev/tether/internal/process"
	"github.com/thatcatdev/tether/pkg/api"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the ollama daemon, the model's run process and installed models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		locator := process.NewLocator(logger)
		client := daemon.NewClient(cfg.Host)

		var (
			serve, run *process.Found
			version    string
			installed  []api.ModelInfo
			daemonErr  error
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			serve, err = locator.Find(gctx, "ollama", []string{cfg.Binary, "serve"})
			return err
		})
		g.Go(func() error {
			var err error
			run, err = locator.Find(gctx, "ollama", []string{cfg.Binary, "run", cfg.Model})
			return err
		})
		g.Go(func() error {
			// An unreachable daemon is something to report, not a failure.
			version, daemonErr = client.Version(gctx)
			if daemonErr == nil {
				installed, daemonErr = client.List(gctx)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("inspect processes: %w", err)
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROCESS\tPID\tCOMMAND")
		printFound(tw, "daemon", serve)
		printFound(tw, "run "+cfg.Model, run)
		tw.Flush()
		fmt.Fprintln(out)

		switch {
		case daemonErr == nil:
			fmt.Fprintf(out, "daemon reachable at %s, version %s\n\n", client.BaseURL(), version)
		case daemon.IsUnreachable(daemonErr):
			fmt.Fprintf(out, "daemon not reachable at %s\n", client.BaseURL())
			return nil
		default:
			return daemonErr
		}

		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tSIZE\tPARAMS\tQUANT")
		for _, m := range installed {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, models.FormatSize(m.Size), m.Details.ParameterSize, m.Details.QuantizationLevel)
		}
		return tw.Flush()
	},
}

func printFound(tw *tabwriter.Writer, label string, f *process.Found) {
	if f == nil {
		fmt.Fprintf(tw, "%s\t-\tnot running\n", label)
		return
	}
	fmt.Fprintf(tw, "%s\t%d\t%s\n", label, f.PID(), strings.Join(f.Argv(), " "))
}

func init() {
	rootCmd.AddCommand(psCmd)
}
