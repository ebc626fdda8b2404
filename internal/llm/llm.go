package llm

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/sidechat/internal/config"
)

// ProviderEcho streams the user's last message back without calling a model.
const ProviderEcho = "echo"

// NewClient creates the client for cfg.Provider. Anything but "echo" is
// treated as an OpenAI compatible endpoint.
func NewClient(cfg config.LLMConfig) Client {
	if strings.EqualFold(cfg.Provider, ProviderEcho) {
		return NewEcho()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &openAIClient{client: openai.NewClientWithConfig(config)}
}

type openAIClient struct {
	client *openai.Client
}

func (c *openAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	return s.stream.Recv()
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
