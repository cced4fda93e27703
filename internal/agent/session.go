package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/stream"
)

// ErrMaxTurns is returned when the model keeps calling tools past max-turns.
var ErrMaxTurns = errors.New("maximum number of tool rounds reached")

const defaultMaxTurns = 50

// Handler receives session events as they happen. Nil callbacks are skipped.
type Handler struct {
	OnChunk    func(proto.Chunk)
	OnToolCall func(proto.ToolCallStatus)
	OnWarning  func(string)
}

func (h Handler) chunk(c proto.Chunk) {
	if h.OnChunk != nil {
		h.OnChunk(c)
	}
}

func (h Handler) toolCall(s proto.ToolCallStatus) {
	if h.OnToolCall != nil {
		h.OnToolCall(s)
	}
}

func (h Handler) warning(w string) {
	if h.OnWarning != nil {
		h.OnWarning(w)
	}
}

// Response is the outcome of a turn.
type Response struct {
	// Text is the final assistant message.
	Text string
	// Messages is the whole thread, without the system prompt.
	Messages  []proto.Message
	Model     string
	ToolCalls int
}

// Run streams req and executes tool calls until the model answers without
// calling tools. Provider errors are retried up to max-retries times; a
// retry after tools already ran continues from the messages so far.
func (s *Service) Run(ctx context.Context, req StreamRequest, h Handler) (Response, error) {
	maxTurns := s.cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	var (
		resp   Response
		rounds int
	)
	for attempt := 0; ; attempt++ {
		start, err := s.Stream(ctx, req)
		if err != nil {
			return resp, err
		}
		resp.Model = start.Model.Name

		began := time.Now()
		before := rounds
		err = s.drive(start.Stream, maxTurns, &rounds, h, &resp)
		_ = start.Stream.Close()
		logging.LogLLMCall(s.log, start.Model.Name, time.Since(began), err)

		messages := withoutSystem(start.Stream.Messages())
		resp.Messages = messages
		if err == nil {
			resp.Text = finalText(messages)
			return resp, nil
		}
		if errors.Is(err, ErrMaxTurns) {
			return resp, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, errs.Error{Err: ctxErr, Reason: "Request canceled."}
		}

		action := s.ActionForStreamError(err, start.Model, req.Prompt)
		if !action.Retry || attempt >= s.cfg.MaxRetries {
			return resp, action.Err
		}
		s.log.Warn("llm.call.retry", "model", start.Model.Name, "attempt", attempt+1, "error", err)
		h.warning(action.Err.Reason + " Retrying...")

		if rounds > before {
			req.History = messages
			req.Prompt = ""
		} else {
			req.Prompt = action.Prompt
		}
		if action.ModelOverride != "" {
			req.Model = action.ModelOverride
		}

		select {
		case <-ctx.Done():
			return resp, errs.Error{Err: ctx.Err(), Reason: "Request canceled."}
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Service) drive(st stream.Stream, maxTurns int, rounds *int, h Handler, resp *Response) error {
	for {
		for st.Next() {
			chunk, err := st.Current()
			if errors.Is(err, stream.ErrNoContent) {
				continue
			}
			if err != nil {
				return err
			}
			h.chunk(chunk)
		}
		if err := st.Err(); err != nil {
			return err
		}
		for _, w := range st.DrainWarnings() {
			h.warning(w)
		}

		if !pendingToolCalls(st.Messages()) {
			return nil
		}
		if *rounds >= maxTurns {
			return errs.Error{
				Err:    ErrMaxTurns,
				Reason: fmt.Sprintf("The agent did not finish within %d tool rounds.", maxTurns),
			}
		}
		*rounds++
		for _, status := range st.CallTools() {
			resp.ToolCalls++
			h.toolCall(status)
		}
	}
}

func pendingToolCalls(messages []proto.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Role == proto.RoleAssistant && len(last.ToolCalls) > 0
}

func withoutSystem(messages []proto.Message) []proto.Message {
	out := make([]proto.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != proto.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

func finalText(messages []proto.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case proto.RoleAssistant:
			return messages[i].Content
		case proto.RoleUser:
			return ""
		}
	}
	return ""
}
