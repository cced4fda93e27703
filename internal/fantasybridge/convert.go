package fantasybridge

import (
	"errors"

	"charm.land/fantasy"

	"github.com/dotcommander/codingagency/internal/proto"
)

// toFantasyPrompt converts the conversation. Consecutive tool results are
// merged into one tool message so providers see every result of a step
// together.
func toFantasyPrompt(input []proto.Message) fantasy.Prompt {
	messages := make([]fantasy.Message, 0, len(input))
	for _, msg := range input {
		switch msg.Role {
		case proto.RoleSystem:
			if msg.Content == "" {
				continue
			}
			messages = append(messages, textMessage(fantasy.MessageRoleSystem, msg.Content))
		case proto.RoleUser:
			messages = append(messages, textMessage(fantasy.MessageRoleUser, msg.Content))
		case proto.RoleAssistant:
			if m, ok := assistantMessage(msg); ok {
				messages = append(messages, m)
			}
		case proto.RoleTool:
			parts := toolResultParts(msg)
			if len(parts) == 0 {
				continue
			}
			if n := len(messages); n > 0 && messages[n-1].Role == fantasy.MessageRoleTool {
				messages[n-1].Content = append(messages[n-1].Content, parts...)
				continue
			}
			messages = append(messages, fantasy.Message{Role: fantasy.MessageRoleTool, Content: parts})
		}
	}
	return messages
}

func textMessage(role fantasy.MessageRole, text string) fantasy.Message {
	return fantasy.Message{
		Role:    role,
		Content: []fantasy.MessagePart{fantasy.TextPart{Text: text}},
	}
}

func assistantMessage(msg proto.Message) (fantasy.Message, bool) {
	parts := make([]fantasy.MessagePart, 0, 1+len(msg.ToolCalls))
	if msg.Content != "" {
		parts = append(parts, fantasy.TextPart{Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, fantasy.ToolCallPart{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Input:      string(call.Function.Arguments),
		})
	}
	if len(parts) == 0 {
		return fantasy.Message{}, false
	}
	return fantasy.Message{Role: fantasy.MessageRoleAssistant, Content: parts}, true
}

func toolResultParts(msg proto.Message) []fantasy.MessagePart {
	parts := make([]fantasy.MessagePart, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		var output fantasy.ToolResultOutputContent = fantasy.ToolResultOutputContentText{Text: msg.Content}
		if call.IsError {
			output = fantasy.ToolResultOutputContentError{Error: errors.New(msg.Content)}
		}
		parts = append(parts, fantasy.ToolResultPart{ToolCallID: call.ID, Output: output})
	}
	return parts
}

func fromToolDefinitions(defs []proto.ToolDefinition) []fantasy.Tool {
	tools := make([]fantasy.Tool, 0, len(defs))
	for _, def := range defs {
		schema := def.Schema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, fantasy.FunctionTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return tools
}

func toolChoiceForRequest(request proto.Request) *fantasy.ToolChoice {
	if len(request.Tools) == 0 {
		return nil
	}
	choice := fantasy.ToolChoiceAuto
	return &choice
}
