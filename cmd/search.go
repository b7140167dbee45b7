package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thatcatdev/tether/internal/library"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the ollama model library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		baseURL, _ := cmd.Flags().GetString("library-url")
		query := strings.Join(args, " ")

		found, err := library.NewClient(baseURL).Search(cmd.Context(), query, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(found) == 0 {
			fmt.Fprintf(out, "No models found for %q\n", query)
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZES\tPULLS\tDESCRIPTION")
		for _, m := range found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, strings.Join(m.Sizes, ","), m.Pulls, truncate(m.Description, 60))
		}
		return tw.Flush()
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("library-url", library.DefaultBaseURL, "model library address")
	rootCmd.AddCommand(searchCmd)
}
