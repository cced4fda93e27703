package fantasybridge

import (
	"testing"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/proto"
)

func TestToFantasyPrompt(t *testing.T) {
	messages := []proto.Message{
		{Role: proto.RoleSystem, Content: "sys"},
		{Role: proto.RoleSystem},
		{Role: proto.RoleUser, Content: "hello"},
		{Role: proto.RoleAssistant, Content: "calling tools", ToolCalls: []proto.ToolCall{
			{ID: "call_1", Function: proto.Function{Name: "shell", Arguments: []byte(`{"commands":["ls"]}`)}},
			{ID: "call_2", Function: proto.Function{Name: "apply_patch", Arguments: []byte(`{}`)}},
		}},
		{Role: proto.RoleTool, Content: "ok", ToolCalls: []proto.ToolCall{{ID: "call_1"}}},
		{Role: proto.RoleTool, Content: "boom", ToolCalls: []proto.ToolCall{{ID: "call_2", IsError: true}}},
		{Role: proto.RoleAssistant},
		{Role: proto.RoleAssistant, Content: "done"},
	}

	prompt := toFantasyPrompt(messages)
	require.Len(t, prompt, 5)

	require.Equal(t, fantasy.MessageRoleSystem, prompt[0].Role)
	require.Equal(t, fantasy.MessageRoleUser, prompt[1].Role)
	require.Equal(t, fantasy.MessageRoleAssistant, prompt[2].Role)
	require.Len(t, prompt[2].Content, 3)
	require.Equal(t, fantasy.MessageRoleTool, prompt[3].Role)
	require.Len(t, prompt[3].Content, 2)
	require.Equal(t, fantasy.MessageRoleAssistant, prompt[4].Role)

	callPart, ok := fantasy.AsMessagePart[fantasy.ToolCallPart](prompt[2].Content[1])
	require.True(t, ok)
	require.Equal(t, "call_1", callPart.ToolCallID)
	require.Equal(t, "shell", callPart.ToolName)
	require.JSONEq(t, `{"commands":["ls"]}`, callPart.Input)

	resultPart, ok := fantasy.AsMessagePart[fantasy.ToolResultPart](prompt[3].Content[0])
	require.True(t, ok)
	text, textOK := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentText](resultPart.Output)
	require.True(t, textOK)
	require.Equal(t, "ok", text.Text)

	errPart, ok := fantasy.AsMessagePart[fantasy.ToolResultPart](prompt[3].Content[1])
	require.True(t, ok)
	require.Equal(t, "call_2", errPart.ToolCallID)
	errOutput, errOK := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentError](errPart.Output)
	require.True(t, errOK)
	require.EqualError(t, errOutput.Error, "boom")
}

func TestFromToolDefinitions(t *testing.T) {
	tools := fromToolDefinitions([]proto.ToolDefinition{
		{
			Name:        "web_search",
			Description: "search the web",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []any{"query"},
			},
		},
		{Name: "noargs"},
	})

	require.Len(t, tools, 2)
	fn, ok := tools[0].(fantasy.FunctionTool)
	require.True(t, ok)
	require.Equal(t, "web_search", fn.Name)
	require.Equal(t, "search the web", fn.Description)
	require.Equal(t, []any{"query"}, fn.InputSchema["required"])

	empty, ok := tools[1].(fantasy.FunctionTool)
	require.True(t, ok)
	require.Equal(t, "object", empty.InputSchema["type"])
}

func TestToolChoiceForRequest(t *testing.T) {
	require.Nil(t, toolChoiceForRequest(proto.Request{}))
	choice := toolChoiceForRequest(proto.Request{Tools: []proto.ToolDefinition{{Name: "shell"}}})
	require.NotNil(t, choice)
	require.Equal(t, fantasy.ToolChoiceAuto, *choice)
}
