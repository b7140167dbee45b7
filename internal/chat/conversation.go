// Package chat holds a multi-turn conversation with a model served by the
// ollama daemon.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/thatcatdev/tether/internal/daemon"
	"github.com/thatcatdev/tether/pkg/api"
)

// ErrMissingInput means a request carried neither a prompt nor messages.
var ErrMissingInput = errors.New("must provide a prompt or messages")

// Client is the part of the daemon API a conversation uses.
// *daemon.Client implements it.
type Client interface {
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	ChatStream(ctx context.Context, req *api.ChatRequest) (*daemon.Stream[api.ChatResponse], error)
	Generate(ctx context.Context, req *api.GenerateRequest) (*api.GenerateResponse, error)
	GenerateStream(ctx context.Context, req *api.GenerateRequest) (*daemon.Stream[api.GenerateResponse], error)
}

// ChatRequest is one chat turn. Messages, when non-nil, replaces the
// retained history before Prompt is appended.
type ChatRequest struct {
	Prompt   string
	Messages []api.Message
	Options  map[string]any
}

// GenerateRequest is a stateless completion.
type GenerateRequest struct {
	Prompt  string
	System  string
	Options map[string]any
}

// Config configures a Conversation.
type Config struct {
	SystemPrompt      string
	AllowInterruption bool
	Logger            *zap.Logger
}

// Conversation keeps the history of one chat and talks to the daemon.
type Conversation struct {
	client        Client
	model         string
	interruptible bool
	logger        *zap.Logger

	mu      sync.Mutex
	history *History
	active  *Reply
}

// New creates a Conversation for model.
func New(client Client, model string, cfg Config) *Conversation {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		client:        client,
		model:         model,
		interruptible: cfg.AllowInterruption,
		logger:        logger.With(zap.String("model", model)),
		history:       NewHistory(cfg.SystemPrompt),
	}
}

// Model returns the model this conversation talks to.
func (c *Conversation) Model() string {
	return c.model
}

// Chat sends one turn and waits for the whole answer, which is appended to
// the history and returned. On failure the user message stays in the
// history without an answer. A reply still in flight is closed first.
func (c *Conversation) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	c.closeActive()

	msgs, err := c.prepare(req)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  req.Options,
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	c.mu.Lock()
	c.history.Append(api.Message{Role: api.RoleAssistant, Content: resp.Message.Content})
	c.mu.Unlock()
	return resp.Message.Content, nil
}

// ChatStream sends one turn and returns the answer as a Reply. The answer
// is appended to the history when the Reply finishes. Starting a stream
// closes any reply still in flight.
func (c *Conversation) ChatStream(ctx context.Context, req ChatRequest) (*Reply, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c.closeActive()

	msgs, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.ChatStream(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	next := func() (string, error) {
		resp, err := stream.Next()
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}
	return c.track(newReply(next, stream.Close, c.interruptible, c.commit)), nil
}

// Generate runs a stateless completion. The history is not touched.
func (c *Conversation) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Prompt == "" {
		return "", ErrMissingInput
	}
	resp, err := c.client.Generate(ctx, &api.GenerateRequest{
		Model:   c.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Options: req.Options,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Response, nil
}

// GenerateStream is Generate returning a Reply.
func (c *Conversation) GenerateStream(ctx context.Context, req GenerateRequest) (*Reply, error) {
	if req.Prompt == "" {
		return nil, ErrMissingInput
	}
	c.closeActive()

	stream, err := c.client.GenerateStream(ctx, &api.GenerateRequest{
		Model:   c.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Options: req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	next := func() (string, error) {
		resp, err := stream.Next()
		if err != nil {
			return "", err
		}
		return resp.Response, nil
	}
	return c.track(newReply(next, stream.Close, c.interruptible, c.release)), nil
}

// Interruptible reports whether Stop can end a reply early.
func (c *Conversation) Interruptible() bool {
	return c.interruptible
}

// Stop interrupts the reply in flight. Without one, or when interruption is
// disabled, it does nothing.
func (c *Conversation) Stop() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return
	}
	if !c.interruptible {
		c.logger.Debug("interruption disabled, ignoring stop")
		return
	}
	active.Stop()
}

// Close ends the reply in flight, committing what it received so far.
// Unlike Stop it also releases the connection and ignores AllowInterruption.
func (c *Conversation) Close() {
	c.closeActive()
}

// Clear resets the history to the system message.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.Clear()
}

// SetSystemPrompt changes the system message and the prompt Clear resets to.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.SetSystemPrompt(prompt)
}

// History returns a copy of the messages exchanged so far.
func (c *Conversation) History() []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Messages()
}

func validate(req ChatRequest) error {
	if req.Prompt == "" && len(req.Messages) == 0 {
		return ErrMissingInput
	}
	return nil
}

// prepare applies req to the history and returns the messages to send.
func (c *Conversation) prepare(req ChatRequest) ([]api.Message, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Messages != nil {
		c.history.Replace(req.Messages)
	}
	if req.Prompt != "" {
		c.history.Append(api.Message{Role: api.RoleUser, Content: req.Prompt})
	}
	return c.history.Messages(), nil
}

func (c *Conversation) track(r *Reply) *Reply {
	c.mu.Lock()
	c.active = r
	c.mu.Unlock()
	return r
}

// closeActive must be called without c.mu held: closing commits, which
// takes the lock.
func (c *Conversation) closeActive() {
	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (c *Conversation) commit(r *Reply, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.Append(api.Message{Role: api.RoleAssistant, Content: text})
	if c.active == r {
		c.active = nil
	}
	c.logger.Debug("reply committed", zap.Int("chars", len(text)), zap.Bool("stopped", r.Stopped()))
}

func (c *Conversation) release(r *Reply, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.active = nil
	}
}
