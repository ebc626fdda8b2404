package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/sidechat/internal/config"
	"github.com/comigor/sidechat/internal/llm"
)

// This mirrors MCPClientInterface in agent.go
type mockMCPClient struct {
	InitializeFunc func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListToolsFunc  func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallToolFunc   func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	CloseFunc      func() error
}

func (m *mockMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx, req)
	}
	return &mcp.ListToolsResult{Tools: []mcp.Tool{}}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, request)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "mock default success for " + request.Params.Name}},
	}, nil
}

func (m *mockMCPClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// mockLLM serves one scripted stream per call and records the requests.
type mockLLM struct {
	streams  [][]openai.ChatCompletionStreamChoiceDelta
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletionStream(_ context.Context, r openai.ChatCompletionRequest) (llm.Stream, error) {
	m.requests = append(m.requests, r)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.streams) == 0 {
		return nil, errors.New("mockLLM: no more streams configured")
	}
	deltas := m.streams[0]
	m.streams = m.streams[1:]
	return &mockStream{deltas: deltas}, nil
}

type mockStream struct {
	deltas []openai.ChatCompletionStreamChoiceDelta
	err    error // returned once the deltas run out, instead of io.EOF
	closed bool
}

func (s *mockStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return openai.ChatCompletionStreamResponse{}, s.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{Delta: d}}}, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

func text(chunks ...string) []openai.ChatCompletionStreamChoiceDelta {
	out := make([]openai.ChatCompletionStreamChoiceDelta, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, openai.ChatCompletionStreamChoiceDelta{Content: c})
	}
	return out
}

func intPtr(i int) *int { return &i }

func collect(chunks *[]string) EmitFunc {
	return func(c string) error {
		*chunks = append(*chunks, c)
		return nil
	}
}

func userSays(s string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: s}}
}

// TestAgentStream_LLMRespondsDirectly tests the scenario where the LLM responds directly without tool usage.
func TestAgentStream_LLMRespondsDirectly(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Model: "gpt"}}
	mockLLMClient := &mockLLM{streams: [][]openai.ChatCompletionStreamChoiceDelta{text("1. Hello", ", I am", " helpful.")}}

	agentInstance := New(mockLLMClient, cfg)
	require.NotNil(t, agentInstance)
	require.Empty(t, agentInstance.availableLLMTools, "Agent should have no tools available if no MCP servers are configured.")

	var chunks []string
	out, err := agentInstance.Stream(context.Background(), userSays("User says hi"), collect(&chunks))
	require.NoError(t, err)
	require.Equal(t, "1. Hello, I am helpful.", out)
	require.Equal(t, []string{"1. Hello", ", I am", " helpful."}, chunks)

	require.Len(t, mockLLMClient.requests, 1)
	require.Equal(t, "gpt", mockLLMClient.requests[0].Model)
	require.True(t, mockLLMClient.requests[0].Stream)
}

// TestAgentStream_LLMRequestsMCPTool_Success tests full flow: LLM streams a tool call, MCP client executes, LLM streams the final response.
func TestAgentStream_LLMRequestsMCPTool_Success(t *testing.T) {
	toolName := "get_weather"
	mcpToolResultText := "The weather in London is sunny."
	finalLLMResponse := "Based on the weather tool, it's sunny in London."

	mockLLMClient := &mockLLM{
		streams: [][]openai.ChatCompletionStreamChoiceDelta{
			{ // First turn: the tool call arrives in fragments
				{ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_123", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: toolName}}}},
				{ToolCalls: []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"location": `}}}},
				{ToolCalls: []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `"London"}`}}}},
			},
			text("Based on the weather tool, ", "it's sunny in London."),
		},
	}

	mockClient := &mockMCPClient{
		ListToolsFunc: func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{
				{Name: toolName, Description: "Gets weather", RawInputSchema: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}}}`)},
			}}, nil
		},
		CallToolFunc: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			require.Equal(t, toolName, request.Params.Name)
			require.Equal(t, map[string]any{"location": "London"}, request.Params.Arguments)
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: mcpToolResultText}},
			}, nil
		},
	}

	agentInstance := New(mockLLMClient, config.Config{LLM: config.LLMConfig{Model: "gpt"}})
	agentInstance.registerTools(context.Background(), "weather", mockClient)
	agentInstance.mcpClients = []MCPClientInterface{mockClient}
	require.Len(t, agentInstance.availableLLMTools, 1)

	var chunks []string
	out, err := agentInstance.Stream(context.Background(), userSays("What's the weather in London?"), collect(&chunks))
	require.NoError(t, err)
	require.Equal(t, finalLLMResponse, out)
	require.Equal(t, []string{"Based on the weather tool, ", "it's sunny in London."}, chunks)

	require.Len(t, mockLLMClient.requests, 2)
	require.Len(t, mockLLMClient.requests[0].Tools, 1)
	second := mockLLMClient.requests[1].Messages
	require.Len(t, second, 3)
	require.Equal(t, openai.ChatMessageRoleAssistant, second[1].Role)
	require.Equal(t, `{"location": "London"}`, second[1].ToolCalls[0].Function.Arguments)
	require.Equal(t, openai.ChatMessageRoleTool, second[2].Role)
	require.Equal(t, "call_123", second[2].ToolCallID)
	require.Equal(t, mcpToolResultText, second[2].Content)
}

// TestAgentStream_LLMRequestsMCPTool_MCPClientFails tests when MCP tool call fails.
func TestAgentStream_LLMRequestsMCPTool_MCPClientFails(t *testing.T) {
	toolName := "broken_tool"
	finalLLMResponseAfterError := "Sorry, I couldn't use the broken_tool."

	mockLLMClient := &mockLLM{
		streams: [][]openai.ChatCompletionStreamChoiceDelta{
			{{ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_456", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: toolName, Arguments: `{}`}}}}},
			text(finalLLMResponseAfterError),
		},
	}

	mockClient := &mockMCPClient{
		ListToolsFunc: func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: toolName, Description: "A tool that is broken"}}}, nil
		},
		CallToolFunc: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, errors.New("MCP tool execution failed badly.")
		},
	}

	agentInstance := New(mockLLMClient, config.Config{LLM: config.LLMConfig{Model: "gpt"}})
	agentInstance.registerTools(context.Background(), "broken", mockClient)

	out, err := agentInstance.Stream(context.Background(), userSays("Use the broken tool"), func(string) error { return nil })
	require.NoError(t, err)
	require.Equal(t, finalLLMResponseAfterError, out)

	toolMsg := mockLLMClient.requests[1].Messages[2]
	require.Equal(t, "MCP tool call failed for broken_tool.", toolMsg.Content)
}

func TestAgentStream_UnknownTool(t *testing.T) {
	mockLLMClient := &mockLLM{
		streams: [][]openai.ChatCompletionStreamChoiceDelta{
			{{ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "nope"}}}}},
			text("done"),
		},
	}
	agentInstance := New(mockLLMClient, config.Config{})

	out, err := agentInstance.Stream(context.Background(), userSays("hi"), func(string) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Equal(t, "Error: No MCP client available to execute tool nope", mockLLMClient.requests[1].Messages[2].Content)
}

func TestRegisterTools_SkipsDuplicates(t *testing.T) {
	tools := &mockMCPClient{
		ListToolsFunc: func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "search"}}}, nil
		},
	}
	agentInstance := New(&mockLLM{}, config.Config{})
	agentInstance.registerTools(context.Background(), "a", tools)
	agentInstance.registerTools(context.Background(), "b", tools)

	require.Len(t, agentInstance.availableLLMTools, 1)
	require.JSONEq(t, `{"type": "object", "properties": {}}`, string(agentInstance.availableLLMTools[0].Function.Parameters.(json.RawMessage)))
}

func TestMergeToolCall(t *testing.T) {
	var calls []openai.ToolCall
	calls = mergeToolCall(calls, openai.ToolCall{Index: intPtr(0), ID: "a", Function: openai.FunctionCall{Name: "one", Arguments: `{"x":`}})
	calls = mergeToolCall(calls, openai.ToolCall{Index: intPtr(1), ID: "b", Function: openai.FunctionCall{Name: "two"}})
	calls = mergeToolCall(calls, openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `1}`}})

	require.Len(t, calls, 2)
	require.Equal(t, "a", calls[0].ID)
	require.Equal(t, `{"x":1}`, calls[0].Function.Arguments)
	require.Equal(t, "two", calls[1].Function.Name)
	require.Equal(t, openai.ToolTypeFunction, calls[1].Type)
}

func TestSystemPrompt(t *testing.T) {
	a := New(&mockLLM{}, config.Config{})
	require.Equal(t, defaultSystemPrompt, a.SystemPrompt())

	a = New(&mockLLM{}, config.Config{LLM: config.LLMConfig{SystemPrompt: "be terse"}})
	a.discoveredMCPPrompts = []string{"you can search"}
	require.Equal(t, "be terse\n\nyou can search", a.SystemPrompt())
}

func TestClose_ClosesMCPClients(t *testing.T) {
	var closed int
	c := &mockMCPClient{CloseFunc: func() error { closed++; return nil }}
	a := New(&mockLLM{}, config.Config{})
	a.mcpClients = []MCPClientInterface{c, c}

	require.NoError(t, a.Close())
	require.Equal(t, 2, closed)
}
