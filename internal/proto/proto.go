// Package proto holds the provider-neutral message and request types that
// flow between the agency, the stream clients and the conversation store.
package proto

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chunk is a streaming chunk of text or reasoning.
type Chunk struct {
	Content   string
	Reasoning string
}

// ToolCallStatus is the outcome of a single tool call.
type ToolCallStatus struct {
	Name   string
	Args   []byte
	Result string
	Err    error
}

func (c ToolCallStatus) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "\n> Ran: `%s`", c.Name)
	if c.Err != nil {
		_, _ = fmt.Fprintf(&sb, " (failed: `%s`)", c.Err)
	}
	sb.WriteString("\n")
	return sb.String()
}

// Message is a message in the conversation.
type Message struct {
	Role      string
	Content   string
	Reasoning string `json:",omitempty"`
	ToolCalls []ToolCall
}

// ToolCall is a tool call made by the assistant, or its result when it
// appears on a tool message.
type ToolCall struct {
	ID       string
	Function Function
	IsError  bool
}

// Function is the function the tool call targets.
type Function struct {
	Name      string
	Arguments []byte
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCaller executes a tool by name with JSON arguments.
type ToolCaller func(ctx context.Context, name string, data []byte) (string, error)

// Reasoning configures reasoning models.
type Reasoning struct {
	Effort  string
	Summary string
}

// Request is a chat request.
type Request struct {
	Messages            []Message
	API                 string
	Model               string
	User                string
	Tools               []ToolDefinition
	Temperature         *float64
	TopP                *float64
	TopK                *int64
	Stop                []string
	MaxTokens           *int64
	MaxCompletionTokens *int64
	Reasoning           Reasoning
	ToolCaller          ToolCaller
}

// Conversation is a conversation.
type Conversation []Message

func (cc Conversation) String() string {
	var sb strings.Builder
	for _, msg := range cc {
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			sb.WriteString("**System**: ")
		case RoleUser:
			sb.WriteString("**Prompt**: ")
		case RoleAssistant:
			sb.WriteString("**Assistant**: ")
		case RoleTool:
			sb.WriteString("**Tool**: ")
		}
		if msg.Role == RoleAssistant && len(msg.ToolCalls) > 0 {
			for _, call := range msg.ToolCalls {
				_, _ = fmt.Fprintf(&sb, "\n> Calling `%s` `%s`", call.Function.Name, compact(call.Function.Arguments))
			}
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func compact(b []byte) string {
	return string(bytes.Join(bytes.Fields(b), []byte(" ")))
}
