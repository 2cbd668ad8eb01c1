package types

import "time"

// Config represents the resolved toolgate configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Session SessionConfig `json:"session"`

	// MCPServers lists the tool providers in registration order.
	MCPServers []ProviderConfig `json:"mcpServers"`

	LogLevel  string `json:"logLevel,omitempty"`
	PrettyLog bool   `json:"prettyLog,omitempty"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	EnableCORS bool   `json:"enableCors"`
}

// BackendConfig selects and configures the reasoning backend.
type BackendConfig struct {
	Provider    string  `json:"provider"` // "openai"|"anthropic"|"ark"
	APIKey      string  `json:"apiKey,omitempty"`
	BaseURL     string  `json:"baseURL,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature,omitempty"`
}

// SessionConfig holds conversation engine and session store settings.
type SessionConfig struct {
	Timeout       time.Duration `json:"timeout"`
	SweepInterval time.Duration `json:"sweepInterval"`
	KeepAlive     time.Duration `json:"keepAlive"`
	MaxSteps      int           `json:"maxSteps"`
	ResultLines   int           `json:"resultLines"`
	StreamChunks  bool          `json:"streamChunks"`

	// SystemPrompt overrides the default instructions. "{session}" is
	// replaced with the session key.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Provider transport types.
const (
	ProviderStdio   = "stdio"
	ProviderRemote  = "remote"
	ProviderBuiltin = "builtin"
)

// ProviderConfig describes one external tool provider.
type ProviderConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"` // "stdio"|"remote"|"builtin"
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds

	// Include and Exclude are doublestar globs over tool names.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Options carries the legacy {env, cwd} spelling.
	Options *ProviderOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// ProviderOptions is the legacy nested provider option block.
type ProviderOptions struct {
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
}

// Transport returns the provider type, defaulting to stdio for commands and
// remote for URLs.
func (p ProviderConfig) Transport() string {
	if p.Type != "" {
		return p.Type
	}
	if p.URL != "" && p.Command == "" {
		return ProviderRemote
	}
	return ProviderStdio
}
