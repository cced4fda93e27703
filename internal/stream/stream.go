// Package stream defines the streaming client contract used by the agency.
package stream

import (
	"context"
	"errors"

	"github.com/dotcommander/codingagency/internal/proto"
)

// ErrNoContent happens when the current stream part carries no text.
var ErrNoContent = errors.New("no content")

// Client is a streaming client.
type Client interface {
	Request(context.Context, proto.Request) Stream
}

// Stream is an ongoing stream.
//
// Next advances the stream and returns false once the current step is done.
// After CallTools runs the tools of that step, Next starts the follow-up step.
type Stream interface {
	Next() bool
	Current() (proto.Chunk, error)
	Err() error
	Close() error
	Messages() []proto.Message
	CallTools() []proto.ToolCallStatus
	DrainWarnings() []string
}

// CallTool runs a single tool call and returns the tool message that is fed
// back to the model alongside the status shown to the user.
func CallTool(
	ctx context.Context,
	id, name string,
	data []byte,
	caller proto.ToolCaller,
) (proto.Message, proto.ToolCallStatus) {
	var (
		content string
		err     error
	)
	if caller == nil {
		err = errors.New("tools are not available")
	} else {
		content, err = caller(ctx, name, data)
	}
	status := proto.ToolCallStatus{Name: name, Args: data, Result: content, Err: err}
	if err != nil {
		content = err.Error()
	}
	return proto.Message{
		Role:    proto.RoleTool,
		Content: content,
		ToolCalls: []proto.ToolCall{{
			ID:      id,
			IsError: err != nil,
			Function: proto.Function{
				Name:      name,
				Arguments: data,
			},
		}},
	}, status
}
