package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationString(t *testing.T) {
	convo := Conversation{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "list files"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{
			ID:       "call_1",
			Function: Function{Name: "shell", Arguments: []byte("{\n  \"commands\": [\"ls\"]\n}")},
		}}},
		{Role: RoleTool, Content: "main.go", ToolCalls: []ToolCall{{ID: "call_1"}}},
		{Role: RoleAssistant, Content: "There is one file."},
		{Role: RoleAssistant},
	}

	require.Equal(t,
		"**System**: be helpful\n\n"+
			"**Prompt**: list files\n\n"+
			"**Assistant**: \n> Calling `shell` `{ \"commands\": [\"ls\"] }`\n\n\n"+
			"**Tool**: main.go\n\n"+
			"**Assistant**: There is one file.\n\n",
		convo.String(),
	)
}

func TestToolCallStatusString(t *testing.T) {
	require.Equal(t, "\n> Ran: `shell`\n", ToolCallStatus{Name: "shell"}.String())
	require.Equal(t,
		"\n> Ran: `apply_patch` (failed: `Operation outside workspace: ../x`)\n",
		ToolCallStatus{Name: "apply_patch", Err: errors.New("Operation outside workspace: ../x")}.String(),
	)
}
