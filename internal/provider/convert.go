package provider

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// ToEinoMessages converts session history to eino messages.
func ToEinoMessages(history []types.Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		einoMsg := &schema.Message{
			Content: msg.Content,
		}

		switch msg.Role {
		case types.RoleSystem:
			einoMsg.Role = schema.System
		case types.RoleUser:
			einoMsg.Role = schema.User
		case types.RoleTool:
			einoMsg.Role = schema.Tool
			einoMsg.ToolCallID = msg.ToolCallID
			einoMsg.ToolName = msg.ToolName
		default:
			einoMsg.Role = schema.Assistant
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
					ID:   call.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
		}

		result = append(result, einoMsg)
	}
	return result
}

// FromEinoMessage normalizes a model reply. Tool calls without an id get a
// generated one so results can always reference their request.
func FromEinoMessage(msg *schema.Message) *Response {
	if msg == nil {
		return &Response{}
	}

	resp := &Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + strings.ToLower(ulid.Make().String())
		}
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCallRequest{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

// ToEinoTools converts catalog definitions to eino tool infos.
func ToEinoTools(tools []types.ToolDefinition) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

// jsonSchema is the subset of JSON Schema that maps onto eino parameters.
type jsonSchema struct {
	Type        json.RawMessage        `json:"type"`
	Description string                 `json:"description"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Items       *jsonSchema            `json:"items"`
	Required    []string               `json:"required"`
	Enum        []any                  `json:"enum"`
}

// parseJSONSchemaToParams converts an object schema to eino parameters.
// Nested objects and array items are converted recursively.
func parseJSONSchemaToParams(raw json.RawMessage) map[string]*schema.ParameterInfo {
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return convertProperties(&s)
}

func convertProperties(s *jsonSchema) map[string]*schema.ParameterInfo {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(s.Properties))
	for name, prop := range s.Properties {
		if prop == nil {
			continue
		}
		info := convertParam(prop)
		info.Required = required[name]
		params[name] = info
	}
	return params
}

func convertParam(s *jsonSchema) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataType(s.Type),
		Desc: s.Description,
	}

	for _, v := range s.Enum {
		if str, ok := v.(string); ok {
			info.Enum = append(info.Enum, str)
		}
	}

	switch info.Type {
	case schema.Array:
		if s.Items != nil {
			info.ElemInfo = convertParam(s.Items)
		}
	case schema.Object:
		info.SubParams = convertProperties(s)
	}
	return info
}

// dataType reads "type" as either a string or a list of strings, taking the
// first non-null entry. Unknown types fall back to string.
func dataType(raw json.RawMessage) schema.DataType {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		var names []string
		if err := json.Unmarshal(raw, &names); err == nil {
			for _, n := range names {
				if n != "null" {
					name = n
					break
				}
			}
		}
	}

	switch name {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
