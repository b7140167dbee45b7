package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatcatdev/tether/internal/chat"
	"github.com/thatcatdev/tether/internal/session"
	"github.com/thatcatdev/tether/pkg/api"
)

// conversation is the part of a session the REPL drives.
type conversation interface {
	Chat(ctx context.Context, req chat.ChatRequest) (string, error)
	ChatStream(ctx context.Context, req chat.ChatRequest) (*chat.Reply, error)
	Clear()
	History() []api.Message
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with a model",
	Long: `Start an interactive chat with a model, starting the ollama daemon and
pulling the model first if needed.

Commands inside the chat:
  /clear    forget the conversation so far
  /history  print the conversation so far
  /exit     quit

Ctrl+C while a reply is streaming stops the reply; at the prompt it quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noStream, _ := cmd.Flags().GetBool("no-stream")
		opts := sessionOptions(cmd)

		ctx, in, stop := watchSignals(cmd.Context())
		defer stop()

		out := cmd.OutOrStdout()
		err := session.With(ctx, opts, func(s *session.Session) error {
			in.conv.Store(s.Conversation)
			fmt.Fprintf(out, "Chatting with %s. Type your message (/exit to quit).\n\n", s.Model())
			return chatLoop(ctx, s, in, readLines(cmd.InOrStdin()), out, !noStream)
		})
		if err != nil {
			return withCatalogHint(cmd.Context(), err, opts.Model)
		}
		return nil
	},
}

func chatLoop(ctx context.Context, s conversation, in *interrupter, lines <-chan string, out io.Writer, stream bool) error {
	for {
		fmt.Fprint(out, ">>> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}
		if handleREPLCommand(input, s, out) {
			continue
		}

		if err := respond(ctx, s, in, input, out, stream); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out)
	}
}

func respond(ctx context.Context, s conversation, in *interrupter, input string, out io.Writer, stream bool) error {
	req := chat.ChatRequest{Prompt: input}
	if !stream {
		answer, err := s.Chat(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprint(out, answer)
		return nil
	}

	in.streaming.Store(true)
	defer in.streaming.Store(false)

	reply, err := s.ChatStream(ctx, req)
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
	if reply.Stopped() {
		fmt.Fprint(out, " [stopped]")
	}
	return nil
}

// handleREPLCommand runs a slash command and reports whether input was one.
func handleREPLCommand(input string, s conversation, out io.Writer) bool {
	if !strings.HasPrefix(input, "/") {
		return false
	}
	switch strings.Fields(input)[0] {
	case "/clear":
		s.Clear()
		fmt.Fprintln(out, "History cleared. System prompt preserved.")
	case "/history":
		for _, m := range s.History() {
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
	default:
		fmt.Fprintf(out, "Unknown command %s. Try /clear, /history or /exit.\n", input)
	}
	return true
}

// readLines feeds stdin lines to a channel so the prompt can also wait on
// cancellation.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func init() {
	chatCmd.Flags().String("system", "", "system prompt")
	chatCmd.Flags().Bool("no-stream", false, "wait for whole replies instead of streaming them")
	addRunModeFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}
