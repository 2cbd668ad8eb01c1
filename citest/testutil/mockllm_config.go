package testutil

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MockLLMConfig defines the YAML configuration schema for MockLLM scenarios.
type MockLLMConfig struct {
	Settings  MockSettings   `yaml:"settings"`
	Defaults  MockDefaults   `yaml:"defaults"`
	Responses []ResponseRule `yaml:"responses"`
	ToolRules []ToolRule     `yaml:"tool_rules"`
}

// MockSettings configures MockLLM server behavior.
type MockSettings struct {
	LagMS        int `yaml:"lag_ms"`         // delay before every reply
	ChunkDelayMS int `yaml:"chunk_delay_ms"` // delay between streamed chunks
	// FailStreams answers streaming requests with a 500.
	FailStreams bool `yaml:"fail_streams"`
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	// Fallback answers a user prompt no rule matches.
	Fallback string `yaml:"fallback"`
	// ToolResult answers the turn after a tool result. "{result}" is
	// replaced with the tool output.
	ToolResult string `yaml:"tool_result"`
	// AfterAssistant answers a turn whose last message is from the
	// assistant, e.g. after a declined tool call.
	AfterAssistant string `yaml:"after_assistant"`
}

// ResponseRule maps a prompt to a text reply.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"` // higher wins
}

// MatchConfig defines how to match a prompt. The first non-empty field is
// used; all string comparisons are case-insensitive.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Exact       string   `yaml:"exact"`
	Regex       string   `yaml:"regex"`
}

// ToolRule makes the mock request a tool call when the prompt matches and
// the tool is offered.
type ToolRule struct {
	Name     string         `yaml:"name"`
	Match    MatchConfig    `yaml:"match"`
	Tool     string         `yaml:"tool"`
	ToolCall ToolCallConfig `yaml:"tool_call"`
	Response string         `yaml:"response"` // optional text alongside the call
	Priority int            `yaml:"priority"`
}

// ToolCallConfig defines a tool call to generate.
type ToolCallConfig struct {
	ID        string         `yaml:"id"`
	Arguments map[string]any `yaml:"arguments"`
}

// DefaultMockLLMConfig returns the scenarios used by the e2e suite.
func DefaultMockLLMConfig() *MockLLMConfig {
	return &MockLLMConfig{
		Settings: MockSettings{ChunkDelayMS: 1},
		Defaults: MockDefaults{
			Fallback:       "I understand your request. Let me help you with that.",
			ToolResult:     "The result is {result}.",
			AfterAssistant: "Understood. Let me know if there is anything else.",
		},
		Responses: []ResponseRule{
			{
				Name:     "math-2plus2",
				Match:    MatchConfig{ContainsAny: []string{"what is 2+2", "what is 2 + 2"}},
				Response: "2 + 2 is 4.",
				Priority: 10,
			},
			{
				Name:     "simple-hello",
				Match:    MatchConfig{Contains: "hello"},
				Response: "Hello! How can I help you today?",
				Priority: 1,
			},
		},
		ToolRules: []ToolRule{
			{
				Name:     "add-numbers",
				Match:    MatchConfig{ContainsAll: []string{"add", "numbers"}},
				Tool:     "sum",
				ToolCall: ToolCallConfig{ID: "call_sum_001", Arguments: map[string]any{"numbers": []any{2, 3, 5}}},
				Response: "I'll add those with the calculator.",
				Priority: 10,
			},
			{
				Name:     "multiply",
				Match:    MatchConfig{Regex: `multiply\s+\d+`},
				Tool:     "multiply",
				ToolCall: ToolCallConfig{ID: "call_mul_001", Arguments: map[string]any{"numbers": []any{6, 7}}},
				Priority: 5,
			},
		},
	}
}

// LoadMockLLMConfig loads configuration from a YAML file.
func LoadMockLLMConfig(path string) (*MockLLMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config MockLLMConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Matches checks if the prompt matches this rule.
func (m *MatchConfig) Matches(prompt string) bool {
	promptLower := strings.ToLower(prompt)

	switch {
	case m.Exact != "":
		return strings.EqualFold(prompt, m.Exact)

	case m.Contains != "":
		return strings.Contains(promptLower, strings.ToLower(m.Contains))

	case len(m.ContainsAll) > 0:
		for _, s := range m.ContainsAll {
			if !strings.Contains(promptLower, strings.ToLower(s)) {
				return false
			}
		}
		return true

	case len(m.ContainsAny) > 0:
		for _, s := range m.ContainsAny {
			if strings.Contains(promptLower, strings.ToLower(s)) {
				return true
			}
		}
		return false

	case m.Regex != "":
		re, err := regexp.Compile("(?i)" + m.Regex)
		return err == nil && re.MatchString(prompt)
	}
	return false
}

// FindMatchingResponse returns the highest-priority reply for a prompt, or
// the fallback.
func (c *MockLLMConfig) FindMatchingResponse(prompt string) (string, bool) {
	var best *ResponseRule
	for i := range c.Responses {
		rule := &c.Responses[i]
		if rule.Match.Matches(prompt) && (best == nil || rule.Priority > best.Priority) {
			best = rule
		}
	}
	if best != nil {
		return best.Response, true
	}
	return c.Defaults.Fallback, false
}

// FindMatchingToolRule returns the highest-priority tool rule for a prompt
// whose tool is offered.
func (c *MockLLMConfig) FindMatchingToolRule(prompt string, availableTools []string) *ToolRule {
	offered := make(map[string]bool, len(availableTools))
	for _, t := range availableTools {
		offered[t] = true
	}

	var best *ToolRule
	for i := range c.ToolRules {
		rule := &c.ToolRules[i]
		if !offered[rule.Tool] || !rule.Match.Matches(prompt) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	return best
}
