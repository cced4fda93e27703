package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"charm.land/fantasy"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
)

// StreamErrorAction describes how a streaming error is handled.
type StreamErrorAction struct {
	Retry         bool
	Prompt        string
	ModelOverride string
	Err           errs.Error
}

// ActionForStreamError decides whether a provider error should be retried, and
// if so which prompt/model override should be used.
func (s *Service) ActionForStreamError(err error, mod config.Model, prompt string) StreamErrorAction {
	if errors.Is(err, context.Canceled) {
		return StreamErrorAction{Err: errs.Error{Err: err, Reason: "Request canceled."}}
	}
	var providerErr *fantasy.ProviderError
	if errors.As(err, &providerErr) {
		return s.actionForProviderError(providerErr, mod, prompt)
	}
	var userErr errs.Error
	if errors.As(err, &userErr) {
		return StreamErrorAction{Err: userErr}
	}
	return StreamErrorAction{
		Err: errs.Error{Err: err, Reason: fmt.Sprintf("There was a problem with the %s API request.", mod.API)},
	}
}

func (s *Service) actionForProviderError(err *fantasy.ProviderError, mod config.Model, prompt string) StreamErrorAction {
	fail := func(reason string) StreamErrorAction {
		return StreamErrorAction{Err: errs.Error{Err: err, Reason: reason}}
	}

	switch {
	case err.StatusCode == http.StatusNotFound && mod.Fallback != "":
		action := fail(providerReason(err, fmt.Sprintf("%s API server error.", mod.API)))
		action.Retry = true
		action.Prompt = prompt
		action.ModelOverride = mod.Fallback
		return action

	case err.StatusCode == http.StatusNotFound:
		return fail(fmt.Sprintf("Missing model '%s' for API '%s'.", mod.Name, mod.API))

	case err.StatusCode == http.StatusUnauthorized:
		return fail(fmt.Sprintf("The %s API rejected the API key.", mod.API))

	case err.StatusCode == http.StatusBadRequest && isContextLengthExceeded(err):
		action := fail("Maximum prompt size exceeded.")
		if s.cfg.NoLimit {
			return action
		}
		if cut := cutPrompt(err.Error(), prompt); len(cut) < len(prompt) {
			action.Retry = true
			action.Prompt = cut
		}
		return action

	case err.StatusCode == http.StatusBadRequest:
		return fail(providerReason(err, fmt.Sprintf("%s API request error.", mod.API)))

	case err.IsRetryable():
		action := fail(providerReason(err, "Retryable API error."))
		action.Retry = true
		action.Prompt = prompt
		return action
	}
	return fail(providerReason(err, fmt.Sprintf("%s API request error.", mod.API)))
}

func providerReason(err *fantasy.ProviderError, fallback string) string {
	if reason := fantasy.ErrorTitleForStatusCode(err.StatusCode); reason != "" {
		return reason
	}
	return fallback
}

func isContextLengthExceeded(err *fantasy.ProviderError) bool {
	for _, s := range []string{err.Message, string(err.ResponseBody)} {
		s = strings.ToLower(s)
		if strings.Contains(s, "context_length_exceeded") || strings.Contains(s, "exceeds the context window") {
			return true
		}
	}
	return false
}

var tokenErrRe = regexp.MustCompile(`This model's maximum context length is (\d+) tokens. However, your messages resulted in (\d+) tokens`)

// cutPrompt shortens prompt so it fits the context window reported in msg.
// Without token counts, as with the Responses API, a quarter is cut. The
// result is unchanged when the counts make no sense.
func cutPrompt(msg, prompt string) string {
	found := tokenErrRe.FindStringSubmatch(msg)
	if len(found) != 3 { //nolint:mnd
		return truncate(prompt, int64(len(prompt)*3/4)) //nolint:mnd
	}

	maxt, _ := strconv.Atoi(found[1])
	current, _ := strconv.Atoi(found[2])
	if maxt > current {
		return prompt
	}

	// 1 token =~ 4 chars, plus 10 chars of slack
	reduceBy := 10 + (current-maxt)*4 //nolint:mnd
	if len(prompt) <= reduceBy {
		return prompt
	}
	return truncate(prompt, int64(len(prompt)-reduceBy))
}
