package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the minimal streaming subset of openai.Client used by the agent; it is easy to mock in tests.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// Stream yields completion deltas until io.EOF.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}
