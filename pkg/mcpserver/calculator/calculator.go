// Package calculator provides an MCP server with arithmetic tools. It backs
// the builtin "calculator" provider and the calculator-mcp stdio binary.
package calculator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name is the provider name the server registers under.
const Name = "calculator"

// NewServer creates a new MCP server with calculator tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		numbersArg("Array of numbers to sum"),
	), reduceHandler(func(acc, n float64) float64 { return acc + n }, 0))

	s.AddTool(mcp.NewTool("multiply",
		mcp.WithDescription("Calculates the product of an array of numbers"),
		numbersArg("Array of numbers to multiply"),
	), reduceHandler(func(acc, n float64) float64 { return acc * n }, 1))

	s.AddTool(mcp.NewTool("divide",
		mcp.WithDescription("Divides the dividend by the divisor"),
		mcp.WithNumber("dividend", mcp.Required(), mcp.Description("Number to divide")),
		mcp.WithNumber("divisor", mcp.Required(), mcp.Description("Number to divide by, must not be zero")),
	), divideHandler)

	return s
}

func numbersArg(desc string) mcp.ToolOption {
	return mcp.WithArray("numbers",
		mcp.Required(),
		mcp.Description(desc),
		mcp.Items(map[string]any{
			"type": "number",
		}),
	)
}

// reduceHandler folds the numbers argument with op starting from initial.
func reduceHandler(op func(acc, n float64) float64, initial float64) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		numbersArg, ok := request.GetArguments()["numbers"]
		if !ok {
			return mcp.NewToolResultError("numbers argument is required"), nil
		}

		numbers, err := toFloat64Slice(numbersArg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid numbers: %v", err)), nil
		}

		acc := initial
		for _, n := range numbers {
			acc = op(acc, n)
		}
		return mcp.NewToolResultText(formatFloat(acc)), nil
	}
}

func divideHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dividend, err := request.RequireFloat("dividend")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	divisor, err := request.RequireFloat("divisor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if divisor == 0 {
		return mcp.NewToolResultError("division by zero"), nil
	}
	return mcp.NewToolResultText(formatFloat(dividend / divisor)), nil
}

// toFloat64Slice converts an interface{} to []float64.
func toFloat64Slice(v any) ([]float64, error) {
	switch arr := v.(type) {
	case []any:
		result := make([]float64, len(arr))
		for i, elem := range arr {
			switch n := elem.(type) {
			case float64:
				result[i] = n
			case int:
				result[i] = float64(n)
			case int64:
				result[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is not a number: %T", i, elem)
			}
		}
		return result, nil
	case []float64:
		return arr, nil
	case []int:
		result := make([]float64, len(arr))
		for i, n := range arr {
			result[i] = float64(n)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

// formatFloat formats a float64 as a string, removing trailing zeros.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
