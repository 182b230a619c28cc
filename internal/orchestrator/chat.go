package orchestrator

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt tells the model what the fleet can do.
const DefaultSystemPrompt = "You are a helpful assistant that can interact with a Raspberry Pi system. " +
	"You can retrieve telemetry data from sensors (Temperature, Light, CPU) and send action commands to control devices. " +
	"When users ask about sensor data or want to control devices, use the appropriate functions to help them."

// Turn is one user message plus the context it arrives with.
type Turn struct {
	SystemPrompt string
	// History holds prior user and assistant text; other roles are ignored.
	History []ChatMessage
	Message string
}

// Conversation is the append-only message list of a single run. It is not
// safe for concurrent use and must not be shared across turns.
type Conversation struct {
	messages []ChatMessage
	// open holds the calls of the latest assistant message, in order, and
	// whether each has a result. Ids only need to be unique within one
	// assistant message; providers may reuse them across rounds.
	open     []string
	answered map[string]bool
}

// NewConversation seeds a conversation from prior history. Only user and
// assistant text is carried over.
func NewConversation(history []ChatMessage) *Conversation {
	c := &Conversation{answered: make(map[string]bool)}
	for _, m := range history {
		switch m.Role {
		case RoleUser, RoleAssistant:
			c.messages = append(c.messages, ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return c
}

// Append adds msg. Assistant tool calls must carry non-empty ids unique
// within the message, and may only follow once every earlier call has its
// result. A tool result must answer an open call of the latest assistant
// message that has no result yet.
func (c *Conversation) Append(msg ChatMessage) error {
	switch msg.Role {
	case RoleUser, RoleSystem:
	case RoleAssistant:
		if pending := c.Pending(); len(pending) > 0 {
			return fmt.Errorf("tool calls %v have no result", pending)
		}
		seen := make(map[string]bool, len(msg.ToolCalls))
		ids := make([]string, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if strings.TrimSpace(tc.ID) == "" {
				return fmt.Errorf("tool call %q has no id", tc.Name)
			}
			if seen[tc.ID] {
				return fmt.Errorf("duplicate tool call id %q", tc.ID)
			}
			seen[tc.ID] = true
			ids = append(ids, tc.ID)
		}
		c.open = ids
		c.answered = make(map[string]bool, len(ids))
	case RoleTool:
		done, ok := c.answered[msg.ToolCallID]
		if !ok {
			return fmt.Errorf("tool result for unknown call id %q", msg.ToolCallID)
		}
		if done {
			return fmt.Errorf("tool call %q already has a result", msg.ToolCallID)
		}
		c.answered[msg.ToolCallID] = true
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}

	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []ChatMessage {
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Pending returns the ids of the latest assistant message's tool calls that
// have no result yet, in call order.
func (c *Conversation) Pending() []string {
	var ids []string
	for _, id := range c.open {
		if !c.answered[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }
