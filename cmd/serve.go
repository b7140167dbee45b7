package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/internal/lifecycle"
	"github.com/thatcatdev/tether/internal/process"
	"github.com/thatcatdev/tether/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Make sure the ollama daemon is running and hold it until interrupted",
	Long: `Make sure the ollama daemon is running. If tether has to start it, the
daemon runs until tether is interrupted and is then stopped. A daemon that
was already running is reported and left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		capture, _ := cmd.Flags().GetBool("capture")
		restart, _ := cmd.Flags().GetBool("restart-daemon")

		ctx, _, stop := watchSignals(cmd.Context())
		defer stop()

		d := supervisor.NewDaemon(process.NewLocator(logger), daemon.NewClient(cfg.Host), process.Launcher{}, supervisor.DaemonConfig{
			Binary:     cfg.Binary,
			Retries:    cfg.Daemon.Retries,
			RetryDelay: cfg.Daemon.RetryDelay,
			Capture:    capture,
			Logger:     logger,
		})
		res, err := d.EnsureRunning(ctx, restart || cfg.Daemon.ForceRestart)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !res.Owned {
			if res.Handle != nil {
				fmt.Fprintf(out, "ollama daemon already running (pid %d)\n", res.Handle.PID())
			} else {
				fmt.Fprintln(out, "ollama daemon already reachable")
			}
			return nil
		}

		hook := lifecycle.Register("ollama serve", res.Handle.Terminate)
		defer hook.Run()
		fmt.Fprintf(out, "ollama daemon started (pid %d), Ctrl+C to stop\n", res.Handle.PID())

		child, _ := res.Handle.(*process.Child)
		if capture && child != nil {
			if r, ok := child.Output(); ok {
				go func() {
					if _, err := io.Copy(out, r); err != nil {
						logger.Debug("daemon output closed", zap.Error(err))
					}
				}()
			}
		}

		var exited <-chan struct{}
		if child != nil {
			exited = child.Done()
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nstopping ollama daemon")
		case <-exited:
			return fmt.Errorf("ollama daemon exited with code %d", child.ExitCode())
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("capture", false, "echo the daemon's output")
	serveCmd.Flags().Bool("restart-daemon", false, "restart the daemon if it is already running")
	rootCmd.AddCommand(serveCmd)
}
