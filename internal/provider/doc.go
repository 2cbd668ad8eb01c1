// Package provider adapts language model APIs to the conversation engine.
//
// A Backend performs one stateless call over the session history and an
// optional tool catalog, and normalizes the reply into a Response: text plus
// zero or more tool call requests. ChatBackend implements Backend on top of
// any Eino ToolCallingChatModel.
//
// # Supported Backends
//
// New selects a factory from the backend configuration:
//
//   - "openai" (default): OpenAI or any OpenAI-compatible endpoint via BaseURL
//   - "anthropic": Claude models through the Anthropic API
//   - "ark": Volcengine ARK; the model is the endpoint id
//
//     backend, err := provider.New(ctx, types.BackendConfig{
//         Provider:  "openai",
//         APIKey:    os.Getenv("OPENAI_API_KEY"),
//         Model:     "gpt-4o",
//         MaxTokens: 1000,
//     })
//
// # Tools
//
// Tools are bound only when the catalog is non-empty. JSON Schema parameter
// definitions are converted to Eino ParameterInfo, including nested objects,
// array items and string enums.
//
// # Incremental Mode
//
// Stream forwards partial text to a callback and concatenates the chunks
// into the same Response shape Generate returns. If the stream cannot be
// opened or breaks mid-way, the partial output is discarded and the request
// is repeated once with Generate.
//
// # Formatting Helpers
//
// FormatToolResult truncates tool output before it enters history and
// FormatError turns a failure into an assistant message after logging it.
package provider
