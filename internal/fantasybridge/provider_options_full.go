//go:build !codingagency_small

package fantasybridge

import (
	"charm.land/fantasy"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"

	"github.com/dotcommander/codingagency/internal/proto"
)

func applyProviderOptions(call *fantasy.Call, api string, req proto.Request) {
	switch api {
	case apiOpenAI:
		applyResponsesOptions(call, req)
	case apiAzure, apiAzureAD:
		applyChatOptions(call, req)
	case apiAnthropic, apiGoogle, "openrouter", "vercel", "bedrock":
		// no-op
	default:
		if req.User != "" {
			user := req.User
			call.ProviderOptions[fopenaicompat.Name] = &fopenaicompat.ProviderOptions{User: &user}
		}
	}
}

// applyResponsesOptions fills the Responses API options. The Responses API
// has no separate completion limit so it becomes the output limit.
func applyResponsesOptions(call *fantasy.Call, req proto.Request) {
	opts := &fopenai.ResponsesProviderOptions{}
	set := false
	if req.User != "" {
		user := req.User
		opts.User = &user
		set = true
	}
	if req.Reasoning.Effort != "" {
		effort := fopenai.ReasoningEffort(req.Reasoning.Effort)
		opts.ReasoningEffort = &effort
		set = true
	}
	if req.Reasoning.Summary != "" {
		summary := req.Reasoning.Summary
		opts.ReasoningSummary = &summary
		set = true
	}
	if req.MaxCompletionTokens != nil && call.MaxOutputTokens == nil {
		call.MaxOutputTokens = req.MaxCompletionTokens
	}
	if set {
		call.ProviderOptions[fopenai.Name] = opts
	}
}

func applyChatOptions(call *fantasy.Call, req proto.Request) {
	opts := &fopenai.ProviderOptions{}
	set := false
	if req.User != "" {
		user := req.User
		opts.User = &user
		set = true
	}
	if req.MaxCompletionTokens != nil {
		opts.MaxCompletionTokens = req.MaxCompletionTokens
		set = true
	}
	if req.Reasoning.Effort != "" {
		effort := fopenai.ReasoningEffort(req.Reasoning.Effort)
		opts.ReasoningEffort = &effort
		set = true
	}
	if set {
		call.ProviderOptions[fopenai.Name] = opts
	}
}
