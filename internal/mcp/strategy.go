package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const legacyStatusSuccess = "success"

// discoveryStrategy is one way of asking a provider for its tool list.
type discoveryStrategy struct {
	name string
	list func(ctx context.Context, conn Conn) ([]Tool, error)
}

// callStrategy is one way of asking a provider to run a tool.
type callStrategy struct {
	name string
	call func(ctx context.Context, conn Conn, tool string, args map[string]any) (json.RawMessage, error)
}

// discoveryStrategies are tried in order; the first well-formed list wins.
var discoveryStrategies = []discoveryStrategy{
	{name: "tools/list", list: func(ctx context.Context, conn Conn) ([]Tool, error) {
		return conn.ListTools(ctx)
	}},
	{name: "listTools", list: legacyList("listTools")},
	{name: "getTools", list: legacyList("getTools")},
}

// callStrategies are tried in order; the first success wins.
var callStrategies = []callStrategy{
	{name: "tools/call", call: standardCall},
	{name: "executeTool", call: legacyCall("executeTool", func(tool string, args map[string]any) any {
		return map[string]any{"name": tool, "arguments": args}
	})},
	{name: "runTool", call: legacyCall("runTool", func(tool string, args map[string]any) any {
		return map[string]any{"tool": tool, "args": args}
	})},
}

// Discover asks conn for its tools, trying tools/list, then listTools, then
// getTools. It returns the tools and the name of the method that produced
// them. An explicit empty list is a success. When every method fails the
// error aggregates each method's failure.
func Discover(ctx context.Context, conn Conn) ([]Tool, string, error) {
	var result *multierror.Error
	for _, s := range discoveryStrategies {
		tools, err := s.list(ctx, conn)
		if err == nil {
			if tools == nil {
				tools = []Tool{}
			}
			return tools, s.name, nil
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
	}
	result.ErrorFormat = inlineFormat
	return nil, "", result
}

// Invoke runs tool on conn, trying tools/call, then executeTool, then
// runTool, and returns the raw result payload with the name of the method
// that produced it. A *ToolError stops the chain.
func Invoke(ctx context.Context, conn Conn, tool string, args map[string]any) (json.RawMessage, string, error) {
	if args == nil {
		args = map[string]any{}
	}

	var result *multierror.Error
	for _, s := range callStrategies {
		out, err := s.call(ctx, conn, tool, args)
		if err == nil {
			return out, s.name, nil
		}
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, s.name, err
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
	}
	result.ErrorFormat = inlineFormat
	return nil, "", fmt.Errorf("failed to execute tool %s: no supported execution method (%w)", tool, result)
}

func standardCall(ctx context.Context, conn Conn, tool string, args map[string]any) (json.RawMessage, error) {
	res, err := conn.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, &ToolError{Tool: tool, Message: ExtractText(res.Content)}
	}
	return res.Content, nil
}

func legacyList(method string) func(ctx context.Context, conn Conn) ([]Tool, error) {
	return func(ctx context.Context, conn Conn) ([]Tool, error) {
		raw, err := conn.Request(ctx, method, map[string]any{})
		if err != nil {
			return nil, err
		}

		var resp legacyListResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if resp.Status != legacyStatusSuccess {
			return nil, legacyFailure(resp.Status, resp.Error)
		}
		if resp.Tools == nil {
			return nil, fmt.Errorf("response has no tools list")
		}

		tools := make([]Tool, 0, len(*resp.Tools))
		for _, t := range *resp.Tools {
			if t.Name == "" {
				continue
			}
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = t.Parameters
			}
			tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
		return tools, nil
	}
}

func legacyCall(method string, params func(tool string, args map[string]any) any) func(context.Context, Conn, string, map[string]any) (json.RawMessage, error) {
	return func(ctx context.Context, conn Conn, tool string, args map[string]any) (json.RawMessage, error) {
		raw, err := conn.Request(ctx, method, params(tool, args))
		if err != nil {
			return nil, err
		}

		var resp legacyCallResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if resp.Status != legacyStatusSuccess {
			return nil, legacyFailure(resp.Status, resp.Error)
		}
		return resp.Result, nil
	}
}

func legacyFailure(status, msg string) error {
	if msg != "" {
		return fmt.Errorf("status %q: %s", status, msg)
	}
	return fmt.Errorf("status %q", status)
}

// ExtractText turns a tool result payload into text. A JSON string is
// returned as is. A list whose first element is a text part yields every
// text part joined with newlines. Anything else is returned as compact JSON.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 && parts[0].Type == "text" {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

func inlineFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
