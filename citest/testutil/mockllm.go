package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockLLMServer mimics the OpenAI chat completions API (also spoken by ARK)
// and the Anthropic messages API. Replies are chosen by the rules in its
// MockLLMConfig.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig
	ids    atomic.Int64

	mu       sync.Mutex
	requests []MockRequest
}

// MockRequest records an incoming completion request, normalized to the
// chat format whatever API it arrived on.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Stream    bool
	Messages  []ChatMessage
	Tools     []string
	Body      map[string]any
}

// ChatMessage is one normalized conversation entry.
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type openAIRequest struct {
	Stream   bool          `json:"stream"`
	Messages []ChatMessage `json:"messages"`
	Tools    []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

type anthropicRequest struct {
	Stream   bool   `json:"stream"`
	System   any    `json:"system"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Name string `json:"name"`
	} `json:"tools"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// NewMockLLMServer starts a mock server. A nil config uses
// DefaultMockLLMConfig.
func NewMockLLMServer(config *MockLLMConfig) *MockLLMServer {
	if config == nil {
		config = DefaultMockLLMConfig()
	}
	m := &MockLLMServer{config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/v1/messages", m.handleMessages)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the base URL to configure as the backend endpoint.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// LastRequest returns the raw body of the most recent request.
func (m *MockLLMServer) LastRequest() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1].Body
}

// Reset clears the recorded requests.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	m.requests = nil
	m.mu.Unlock()
}

func (m *MockLLMServer) readBody(w http.ResponseWriter, r *http.Request, into any) (map[string]any, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}

	var raw map[string]any
	if json.Unmarshal(body, &raw) != nil || json.Unmarshal(body, into) != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	return raw, true
}

func (m *MockLLMServer) record(r *http.Request, req MockRequest) {
	req.Timestamp = time.Now()
	req.Path = r.URL.Path
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if lag := m.config.Settings.LagMS; lag > 0 {
		time.Sleep(time.Duration(lag) * time.Millisecond)
	}
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openAIRequest
	raw, ok := m.readBody(w, r, &req)
	if !ok {
		return
	}

	tools := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, t.Function.Name)
	}
	m.record(r, MockRequest{Stream: req.Stream, Messages: req.Messages, Tools: tools, Body: raw})

	if req.Stream && m.config.Settings.FailStreams {
		http.Error(w, "streaming disabled", http.StatusInternalServerError)
		return
	}

	resp := m.generateResponse(req.Messages, tools)
	if req.Stream {
		m.writeStreamingResponse(w, resp)
	} else {
		m.writeResponse(w, resp)
	}
}

func (m *MockLLMServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropicRequest
	raw, ok := m.readBody(w, r, &req)
	if !ok {
		return
	}

	messages := anthropicMessages(req)
	tools := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, t.Name)
	}
	m.record(r, MockRequest{Stream: req.Stream, Messages: messages, Tools: tools, Body: raw})

	if req.Stream && m.config.Settings.FailStreams {
		http.Error(w, "streaming disabled", http.StatusInternalServerError)
		return
	}

	resp := m.generateResponse(messages, tools)
	if req.Stream {
		m.writeAnthropicStreamingResponse(w, resp)
	} else {
		m.writeAnthropicResponse(w, resp)
	}
}

// anthropicMessages flattens content blocks. A user turn made of
// tool_result blocks becomes tool messages.
func anthropicMessages(req anthropicRequest) []ChatMessage {
	var out []ChatMessage
	if s, ok := req.System.(string); ok && s != "" {
		out = append(out, ChatMessage{Role: "system", Content: s})
	}

	for _, msg := range req.Messages {
		var text string
		if json.Unmarshal(msg.Content, &text) == nil {
			out = append(out, ChatMessage{Role: msg.Role, Content: text})
			continue
		}

		var blocks []anthropicBlock
		if json.Unmarshal(msg.Content, &blocks) != nil {
			continue
		}
		var texts []string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				texts = append(texts, b.Text)
			case "tool_result":
				out = append(out, ChatMessage{Role: "tool", Content: blockText(b.Content), ToolCallID: b.ToolUseID})
			}
		}
		if len(texts) > 0 || msg.Role == "assistant" {
			out = append(out, ChatMessage{Role: msg.Role, Content: strings.Join(texts, "\n")})
		}
	}
	return out
}

func blockText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []anthropicBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	return strings.Join(texts, "\n")
}

type mockResponse struct {
	content   string
	toolCalls []toolCall
}

type toolCall struct {
	id        string
	name      string
	arguments string
}

// generateResponse picks a reply for the conversation so far. A turn that
// follows a tool result or an assistant message is closed with text so the
// conversation always ends.
func (m *MockLLMServer) generateResponse(messages []ChatMessage, tools []string) *mockResponse {
	if len(messages) == 0 {
		return &mockResponse{content: m.config.Defaults.Fallback}
	}

	last := messages[len(messages)-1]
	switch last.Role {
	case "tool":
		if strings.Contains(last.Content, "was denied") || strings.Contains(last.Content, "was not executed") {
			return &mockResponse{content: m.config.Defaults.AfterAssistant}
		}
		return &mockResponse{content: strings.ReplaceAll(m.config.Defaults.ToolResult, "{result}", last.Content)}
	case "assistant":
		return &mockResponse{content: m.config.Defaults.AfterAssistant}
	}

	prompt := lastUserPrompt(messages)
	if rule := m.config.FindMatchingToolRule(prompt, tools); rule != nil {
		args, err := json.Marshal(rule.ToolCall.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		id := rule.ToolCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%s_%03d", rule.Tool, m.ids.Add(1))
		}
		return &mockResponse{
			content:   rule.Response,
			toolCalls: []toolCall{{id: id, name: rule.Tool, arguments: string(args)}},
		}
	}

	text, _ := m.config.FindMatchingResponse(prompt)
	return &mockResponse{content: text}
}

func lastUserPrompt(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func (m *MockLLMServer) nextID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, m.ids.Add(1))
}

func (m *MockLLMServer) chunkPause() {
	if d := m.config.Settings.ChunkDelayMS; d > 0 {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}
}

// words splits text into chunks that concatenate back to it.
func words(text string) []string {
	fields := strings.Fields(text)
	for i := range fields[:max(len(fields)-1, 0)] {
		fields[i] += " "
	}
	return fields
}

// writeResponse writes a non-streaming OpenAI response.
func (m *MockLLMServer) writeResponse(w http.ResponseWriter, resp *mockResponse) {
	message := map[string]any{
		"role":    "assistant",
		"content": resp.content,
	}
	finishReason := "stop"
	if len(resp.toolCalls) > 0 {
		calls := make([]map[string]any, len(resp.toolCalls))
		for i, tc := range resp.toolCalls {
			calls[i] = map[string]any{
				"id":   tc.id,
				"type": "function",
				"function": map[string]any{
					"name":      tc.name,
					"arguments": tc.arguments,
				},
			}
		}
		message["tool_calls"] = calls
		finishReason = "tool_calls"
	}

	response := map[string]any{
		"id":      m.nextID("chatcmpl-mockllm-"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": finishReason},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func startEventStream(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
	}
	return flusher, ok
}

// writeStreamingResponse writes a streaming OpenAI response.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	flusher, ok := startEventStream(w)
	if !ok {
		return
	}

	id := m.nextID("chatcmpl-mockllm-")
	send := func(delta map[string]any, finishReason any) {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt-4",
			"choices": []map[string]any{
				{"index": 0, "delta": delta, "finish_reason": finishReason},
			},
		}
		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	send(map[string]any{"role": "assistant"}, nil)

	for _, word := range words(resp.content) {
		send(map[string]any{"content": word}, nil)
		m.chunkPause()
	}

	for i, tc := range resp.toolCalls {
		send(map[string]any{
			"tool_calls": []map[string]any{{
				"index": i,
				"id":    tc.id,
				"type":  "function",
				"function": map[string]any{
					"name":      tc.name,
					"arguments": tc.arguments,
				},
			}},
		}, nil)
	}

	finishReason := "stop"
	if len(resp.toolCalls) > 0 {
		finishReason = "tool_calls"
	}
	send(map[string]any{}, finishReason)
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeAnthropicResponse writes a non-streaming Anthropic response.
func (m *MockLLMServer) writeAnthropicResponse(w http.ResponseWriter, resp *mockResponse) {
	content := []map[string]any{{"type": "text", "text": resp.content}}
	stopReason := "end_turn"
	for _, tc := range resp.toolCalls {
		var input map[string]any
		json.Unmarshal([]byte(tc.arguments), &input)
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.id,
			"name":  tc.name,
			"input": input,
		})
		stopReason = "tool_use"
	}

	response := map[string]any{
		"id":            m.nextID("msg_mock_"),
		"type":          "message",
		"role":          "assistant",
		"model":         "mock-claude-3",
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"content":       content,
		"usage": map[string]any{
			"input_tokens":  100,
			"output_tokens": 50,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeAnthropicStreamingResponse writes a streaming Anthropic response.
// Tool calls are not streamed; the e2e scenarios use the OpenAI API.
func (m *MockLLMServer) writeAnthropicStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	flusher, ok := startEventStream(w)
	if !ok {
		return
	}

	send := func(event string, payload map[string]any) {
		payload["type"] = event
		data, _ := json.Marshal(payload)
		w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	send("message_start", map[string]any{
		"message": map[string]any{
			"id":      m.nextID("msg_mock_"),
			"type":    "message",
			"role":    "assistant",
			"model":   "mock-claude-3",
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 100, "output_tokens": 0},
		},
	})
	send("content_block_start", map[string]any{
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
	for _, word := range words(resp.content) {
		send("content_block_delta", map[string]any{
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": word},
		})
		m.chunkPause()
	}
	send("content_block_stop", map[string]any{"index": 0})
	send("message_delta", map[string]any{
		"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": 50},
	})
	send("message_stop", map[string]any{})
}
