package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/sidechat/internal/config"
	"github.com/comigor/sidechat/internal/llm"
	"github.com/comigor/sidechat/internal/logger"
)

// FSM States
const (
	StateIdle           = "Idle"
	StateReadyToCallLLM = "ReadyToCallLLM"
	StateExecutingTools = "ExecutingTools"
	StateDone           = "Done"  // Terminal: successful completion
	StateError          = "Error" // Terminal: error state
)

// FSM Triggers
const (
	TriggerProcessInput            = "ProcessInput"
	TriggerLLMRespondedWithContent = "LLMRespondedWithContent"
	TriggerLLMRequestedTools       = "LLMRequestedTools"
	TriggerToolsExecutionCompleted = "ToolsExecutionCompleted"
	TriggerErrorOccurred           = "ErrorOccurred"
)

const maxTurns = 5 // LLM -> Tool -> LLM = 1 turn

const defaultSystemPrompt = `You are a helpful assistant that provides concise, well-formatted responses.
Format responses as a numbered list using markdown, starting each point with its number.
Keep to 3-5 brief points, use clear direct language and do not nest lists.`

// MCPClientInterface defines the methods our agent expects from an MCP client.
type MCPClientInterface interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// EmitFunc receives every content delta as the model produces it.
type EmitFunc func(chunk string) error

// Agent streams model replies, running MCP tools the model asks for in between.
type Agent struct {
	llmClient            llm.Client
	cfg                  config.LLMConfig
	mcpClients           []MCPClientInterface
	availableLLMTools    []openai.Tool
	discoveredMCPPrompts []string // first argument-less prompt of each MCP server
	toolNameSet          map[string]MCPClientInterface
}

// New creates an agent and connects to the configured MCP servers. Servers
// that fail to start are logged and skipped.
func New(llmClient llm.Client, appCfg config.Config) *Agent {
	a := &Agent{
		llmClient:   llmClient,
		cfg:         appCfg.LLM,
		toolNameSet: make(map[string]MCPClientInterface),
	}

	ctx := context.Background() // setup only: Initialize, ListTools, GetPrompt
	for _, serverCfg := range appCfg.MCPServers {
		mcpC, err := dialMCP(ctx, serverCfg)
		if err != nil {
			logger.L.Error("Failed to start MCP client", "name", serverCfg.Name, "error", err)
			continue
		}

		initResult, err := mcpC.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{Capabilities: mcp.ClientCapabilities{}},
		})
		if err != nil {
			logger.L.Error("Failed to initialize MCP client", "name", serverCfg.Name, "error", err)
			if cerr := mcpC.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after init failure", "error", cerr)
			}
			continue
		}
		logger.L.Info("Server initialized", "name", serverCfg.Name)

		if initResult != nil && initResult.Capabilities.Prompts != nil {
			if prompt := discoverPrompt(ctx, mcpC); prompt != "" {
				a.discoveredMCPPrompts = append(a.discoveredMCPPrompts, prompt)
				logger.L.Info("Discovered system prompt from MCP server", "name", serverCfg.Name)
			}
		}

		a.registerTools(ctx, serverCfg.Name, mcpC)
		a.mcpClients = append(a.mcpClients, mcpC)
	}

	if len(a.mcpClients) == 0 && len(appCfg.MCPServers) > 0 {
		logger.L.Warn("No MCP clients were successfully initialized despite servers configured.", "length", len(appCfg.MCPServers))
	}
	return a
}

func dialMCP(ctx context.Context, serverCfg config.MCPServerConfig) (*client.Client, error) {
	var mcpC *client.Client
	var err error

	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		// stdio clients start their transport on creation
		return client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q (want sse, streamable_http or stdio)", serverCfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := mcpC.Start(ctx); err != nil {
		if cerr := mcpC.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after start failure", "error", cerr)
		}
		return nil, err
	}
	return mcpC, nil
}

// discoverPrompt returns the assistant text of the first argument-less prompt.
func discoverPrompt(ctx context.Context, mcpC *client.Client) string {
	prompts, err := mcpC.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil || prompts == nil {
		return ""
	}
	i := slices.IndexFunc(prompts.Prompts, func(p mcp.Prompt) bool { return len(p.Arguments) == 0 })
	if i == -1 {
		return ""
	}
	prompt, err := mcpC.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: prompts.Prompts[i].Name},
	})
	if err != nil || prompt == nil {
		return ""
	}
	for _, m := range prompt.Messages {
		if m.Role != mcp.RoleAssistant {
			continue
		}
		if content, ok := m.Content.(mcp.TextContent); ok {
			return content.Text
		}
	}
	return ""
}

func (a *Agent) registerTools(ctx context.Context, serverName string, mcpC MCPClientInterface) {
	serverTools, err := mcpC.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		logger.L.Warn("Failed to list tools for MCP client", "name", serverName, "error", err)
		return
	}
	if serverTools == nil {
		return
	}
	for _, mcpTool := range serverTools.Tools {
		if _, exists := a.toolNameSet[mcpTool.Name]; exists {
			logger.L.Warn("Tool from MCP server already registered from another server. Skipping.", "tool", mcpTool.Name, "name", serverName)
			continue
		}
		a.toolNameSet[mcpTool.Name] = mcpC
		a.availableLLMTools = append(a.availableLLMTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  toolSchema(mcpTool),
			},
		})
		logger.L.Info("Registered tool from MCP server for LLM", "tool", mcpTool.Name, "name", serverName)
	}
}

func toolSchema(t mcp.Tool) json.RawMessage {
	empty := json.RawMessage(`{"type": "object", "properties": {}}`)
	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		return t.RawInputSchema
	}
	if t.InputSchema.Type == "" {
		return empty
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return empty
	}
	return b
}

// SystemPrompt is the configured prompt (or the default) followed by any
// prompts discovered from MCP servers.
func (a *Agent) SystemPrompt() string {
	base := defaultSystemPrompt
	if a.cfg.SystemPrompt != "" {
		base = a.cfg.SystemPrompt
	}
	parts := append([]string{base}, a.discoveredMCPPrompts...)
	return strings.Join(parts, "\n\n")
}

// Close shuts down every MCP client.
func (a *Agent) Close() error {
	var errs []error
	for _, c := range a.mcpClients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Stream runs the conversation in messages to completion. Content deltas are
// passed to emit as they arrive; the full final content is returned.
// Stream uses a Finite State Machine to manage the turns between the LLM and tool calls.
func (a *Agent) Stream(ctx context.Context, messages []openai.ChatCompletionMessage, emit EmitFunc) (string, error) {
	type fsmContext struct {
		messages     []openai.ChatCompletionMessage
		reply        openai.ChatCompletionMessage
		finalContent string
		lastError    error
		currentTurn  int
	}
	fsmCtx := &fsmContext{messages: slices.Clone(messages)}

	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerProcessInput, StateReadyToCallLLM)

	// State: ReadyToCallLLM
	// Action: stream one LLM turn with the current messages.
	// Transitions:
	//   - On LLMRequestedTools -> StateExecutingTools
	//   - On LLMRespondedWithContent -> StateDone
	//   - On ErrorOccurred -> StateError
	fsm.Configure(StateReadyToCallLLM).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if fsmCtx.currentTurn >= maxTurns {
				logger.L.Warn("Max interaction turns reached.", "maxTurns", maxTurns)
				fsmCtx.lastError = errors.New("exceeded maximum interaction turns")
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.currentTurn++
			logger.L.Debug("FSM: Entering StateReadyToCallLLM", "turn", fsmCtx.currentTurn)

			reply, err := a.streamTurn(ctx, fsmCtx.messages, emit)
			if err != nil {
				logger.L.Error("LLM call failed", "error", err)
				fsmCtx.lastError = err
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.reply = reply

			if len(reply.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, TriggerLLMRequestedTools)
			}
			return fsm.FireCtx(ctx, TriggerLLMRespondedWithContent)
		}).
		Permit(TriggerLLMRequestedTools, StateExecutingTools).
		Permit(TriggerLLMRespondedWithContent, StateDone).
		Permit(TriggerErrorOccurred, StateError)

	// State: ExecutingTools
	// Action: run the requested tools through MCP and append their results.
	fsm.Configure(StateExecutingTools).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.L.Debug("FSM: Entering StateExecutingTools", "calls", len(fsmCtx.reply.ToolCalls))
			fsmCtx.messages = append(fsmCtx.messages, fsmCtx.reply)
			for _, toolCall := range fsmCtx.reply.ToolCalls {
				fsmCtx.messages = append(fsmCtx.messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    a.runTool(ctx, toolCall),
					ToolCallID: toolCall.ID,
					Name:       toolCall.Function.Name,
				})
			}
			return fsm.FireCtx(ctx, TriggerToolsExecutionCompleted)
		}).
		Permit(TriggerToolsExecutionCompleted, StateReadyToCallLLM).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateDone).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Debug("FSM: Entering StateDone")
			fsmCtx.finalContent = fsmCtx.reply.Content
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Debug("FSM: Entering StateError")
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("FSM: reached error state without a specific error")
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerProcessInput); err != nil {
		return "", fmt.Errorf("FSM error: %w", err)
	}

	currentState, err := fsm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("FSM internal error: %w", err)
	}
	switch currentState {
	case StateDone:
		return fsmCtx.finalContent, nil
	case StateError:
		return "", fsmCtx.lastError
	default:
		return "", fmt.Errorf("FSM ended in an unexpected state: %v", currentState)
	}
}

// streamTurn streams one completion, forwarding content deltas and
// assembling tool-call deltas into whole calls.
func (a *Agent) streamTurn(ctx context.Context, messages []openai.ChatCompletionMessage, emit EmitFunc) (openai.ChatCompletionMessage, error) {
	stream, err := a.llmClient.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    a.cfg.Model,
		Messages: messages,
		Tools:    a.availableLLMTools,
		Stream:   true,
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	defer stream.Close()

	var content strings.Builder
	var calls []openai.ToolCall
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return openai.ChatCompletionMessage{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := emit(delta.Content); err != nil {
				return openai.ChatCompletionMessage{}, fmt.Errorf("emit: %w", err)
			}
		}
		for _, tc := range delta.ToolCalls {
			calls = mergeToolCall(calls, tc)
		}
	}

	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content.String(),
		ToolCalls: calls,
	}, nil
}

// mergeToolCall folds a streamed tool-call fragment into calls. Fragments
// carry the call index; arguments arrive in pieces.
func mergeToolCall(calls []openai.ToolCall, d openai.ToolCall) []openai.ToolCall {
	idx := len(calls) - 1
	if d.Index != nil {
		idx = *d.Index
	} else if d.ID != "" || idx < 0 {
		idx = len(calls)
	}
	for len(calls) <= idx {
		calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
	}

	c := &calls[idx]
	if d.ID != "" {
		c.ID = d.ID
	}
	if d.Type != "" {
		c.Type = d.Type
	}
	if d.Function.Name != "" {
		c.Function.Name = d.Function.Name
	}
	c.Function.Arguments += d.Function.Arguments
	return calls
}

func (a *Agent) runTool(ctx context.Context, toolCall openai.ToolCall) string {
	name := toolCall.Function.Name
	mcpClientInstance, ok := a.toolNameSet[name]
	if !ok {
		logger.L.Warn("LLM requested an unknown tool", "tool", name)
		return "Error: No MCP client available to execute tool " + name
	}

	var toolArgs map[string]any
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &toolArgs); err != nil {
			logger.L.Error("Failed to unmarshal tool arguments", "function", name, "error", err)
			return "Error: Could not parse arguments for tool " + name
		}
	}

	logger.L.Debug("Calling MCP tool", "tool", name, "arguments", toolArgs)
	result, err := mcpClientInstance.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: toolArgs},
	})
	if err != nil || result == nil {
		logger.L.Warn("MCP CallTool failed", "tool", name, "error", err)
		return "MCP tool call failed for " + name + "."
	}

	for _, contentItem := range result.Content {
		if textContent, ok := contentItem.(mcp.TextContent); ok {
			return textContent.Text
		}
	}
	if result.IsError {
		return "Tool execution resulted in an error without specific text."
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return "Tool executed successfully, but result could not be formatted."
	}
	return string(resultBytes)
}
