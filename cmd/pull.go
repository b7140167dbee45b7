package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatcatdev/tether/internal/session"
)

var pullCmd = &cobra.Command{
	Use:   "pull <model>",
	Short: "Resolve a model name, pulling it if it is not installed",
	Long: `Resolve a model name against the installed models and pull it from the
ollama library if nothing matches. The daemon is started for the pull if
it is not running, and stopped again afterwards.

Examples:
  tether pull llama3.1:8b
  tether pull mistral`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := sessionOptions(cmd)
		opts.Model = args[0]
		opts.Standalone = true
		opts.RunAttached = false
		opts.RunSubprocess = false

		ctx, _, stop := watchSignals(cmd.Context())
		defer stop()

		err := session.With(ctx, opts, func(s *session.Session) error {
			rec := s.Record()
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", rec.Requested, rec.Resolved, rec.Match)
			return nil
		})
		if err != nil {
			return withCatalogHint(cmd.Context(), err, opts.Model)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
}
