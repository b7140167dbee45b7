package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatcatdev/tether/internal/daemon"
)

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tether %s\n", version)

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		v, err := daemon.NewClient(cfg.Host).Version(ctx)
		if err != nil {
			fmt.Fprintln(out, "ollama daemon not reachable")
			return
		}
		fmt.Fprintf(out, "ollama %s\n", v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
