package chat

import (
	"slices"

	"github.com/thatcatdev/tether/pkg/api"
)

// DefaultSystemPrompt seeds a fresh history when no system prompt is set.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// History is the ordered message list of one conversation. The first entry
// is the system message until a caller replaces the history wholesale.
// History is not safe for concurrent use; Conversation guards it.
type History struct {
	systemPrompt string
	messages     []api.Message
}

// NewHistory creates a history holding only the system message. An empty
// prompt selects DefaultSystemPrompt.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	h.SetSystemPrompt(systemPrompt)
	h.Clear()
	return h
}

// SetSystemPrompt changes the system prompt. A leading system message is
// rewritten in place; otherwise one is inserted at the front.
func (h *History) SetSystemPrompt(prompt string) {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	h.systemPrompt = prompt
	sys := api.Message{Role: api.RoleSystem, Content: prompt}
	if len(h.messages) > 0 && h.messages[0].Role == api.RoleSystem {
		h.messages[0] = sys
		return
	}
	if h.messages != nil {
		h.messages = slices.Insert(h.messages, 0, sys)
	}
}

// Clear drops everything but the system message.
func (h *History) Clear() {
	h.messages = []api.Message{{Role: api.RoleSystem, Content: h.systemPrompt}}
}

// Append adds a message at the end.
func (h *History) Append(msg api.Message) {
	h.messages = append(h.messages, msg)
}

// Replace swaps the whole history for a copy of msgs.
func (h *History) Replace(msgs []api.Message) {
	h.messages = slices.Clone(msgs)
	if h.messages == nil {
		h.messages = []api.Message{}
	}
}

// Messages returns a copy of the history.
func (h *History) Messages() []api.Message {
	return slices.Clone(h.messages)
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}
