package provider

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// DefaultResultLines is the number of tool result lines kept in history.
const DefaultResultLines = 4

// HasToolCalls reports whether the response requests any tool.
func HasToolCalls(resp *Response) bool {
	return resp != nil && len(resp.ToolCalls) > 0
}

// ExtractText returns the response text.
func ExtractText(resp *Response) string {
	if resp == nil {
		return ""
	}
	return resp.Text
}

// ExtractToolCalls returns the requested tool calls.
func ExtractToolCalls(resp *Response) []types.ToolCallRequest {
	if resp == nil {
		return nil
	}
	return resp.ToolCalls
}

// TruncateResult keeps the first maxLines lines of text and notes how many
// were dropped. A single trailing newline does not count as a line.
func TruncateResult(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n...(%d more lines)", len(lines)-maxLines)
}

// FormatToolResult builds the tool history entry answering callID. The
// result is truncated to maxLines; the full text is not kept.
func FormatToolResult(callID, toolName, result string, maxLines int) types.Message {
	return types.Message{
		Role:       types.RoleTool,
		Content:    TruncateResult(result, maxLines),
		ToolCallID: callID,
		ToolName:   toolName,
	}
}

// FormatError logs err and wraps it into an assistant message for the user.
func FormatError(err error) types.Message {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	logging.Error().Err(err).Msg("conversation step failed")

	return types.Message{
		Role:    types.RoleAssistant,
		Content: fmt.Sprintf("I encountered an error: %s\n\nPlease try again or ask a different question.", msg),
	}
}
