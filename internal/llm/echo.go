package llm

import (
	"context"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Echo is a local Client that answers with the last user message, one word
// per delta. It lets the assistant run without credentials.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	var last string
	for _, m := range req.Messages {
		if m.Role == openai.ChatMessageRoleUser {
			last = m.Content
		}
	}
	return &echoStream{ctx: ctx, words: strings.SplitAfter(last, " ")}, nil
}

type echoStream struct {
	ctx   context.Context
	words []string
}

func (s *echoStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if err := s.ctx.Err(); err != nil {
		return openai.ChatCompletionStreamResponse{}, err
	}
	if len(s.words) == 0 {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	w := s.words[0]
	s.words = s.words[1:]
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant, Content: w},
		}},
	}, nil
}

func (s *echoStream) Close() error { return nil }
