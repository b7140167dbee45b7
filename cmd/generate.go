package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatcatdev/tether/internal/chat"
	"github.com/thatcatdev/tether/internal/session"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run a one-shot completion without chat history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noStream, _ := cmd.Flags().GetBool("no-stream")
		system, _ := cmd.Flags().GetString("system")
		req := chat.GenerateRequest{Prompt: strings.Join(args, " "), System: system}
		opts := sessionOptions(cmd)

		ctx, in, stop := watchSignals(cmd.Context())
		defer stop()

		out := cmd.OutOrStdout()
		err := session.With(ctx, opts, func(s *session.Session) error {
			in.conv.Store(s.Conversation)
			if noStream {
				text, err := s.Generate(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
				return nil
			}

			in.streaming.Store(true)
			defer in.streaming.Store(false)
			reply, err := s.GenerateStream(ctx, req)
			if err != nil {
				return err
			}
			defer reply.Close()
			for frag, err := range reply.All() {
				if err != nil {
					return err
				}
				fmt.Fprint(out, frag)
			}
			fmt.Fprintln(out)
			return nil
		})
		if err != nil {
			return withCatalogHint(cmd.Context(), err, opts.Model)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().String("system", "", "system prompt for this completion")
	generateCmd.Flags().Bool("no-stream", false, "wait for the whole completion")
	addRunModeFlags(generateCmd)
	rootCmd.AddCommand(generateCmd)
}
