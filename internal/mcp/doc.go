// Package mcp implements the tool registry: it connects to Model Context
// Protocol tool providers, indexes the tools they expose and dispatches tool
// calls to the provider that owns them.
//
// # Transports
//
// Providers are dialed according to their configured type:
//
//	stdio   - a subprocess spoken to over stdin/stdout (mcp-go client)
//	remote  - a streamable HTTP endpoint, falling back to SSE (go-sdk client)
//	builtin - an mcp-go server running in this process, such as the calculator
//
// # Discovery and Invocation
//
// Not every provider implements the standard methods, so both discovery and
// invocation walk a fixed list of methods and stop at the first that works:
//
//	discovery:  tools/list, listTools, getTools
//	invocation: tools/call, executeTool {name, arguments}, runTool {tool, args}
//
// The legacy methods answer with {"status": "success", ...}; any other status
// counts as a failure. An explicit empty tool list is a successful discovery.
// When every method fails the reasons of all attempts are reported together.
// A result flagged isError by the tool is returned as *ToolError and does not
// try the remaining methods. The remote transport has no raw request API, so
// only the standard methods apply to it.
//
// # Registration
//
// ConnectAll dials every provider concurrently but registers them in
// configuration order. A provider that fails to connect or discover is still
// registered, with no tools, so its status stays visible. When two providers
// expose the same tool name the first registered keeps it and a warning is
// logged. Include and exclude globs (doublestar syntax) narrow what a
// provider contributes.
//
// # Basic Usage
//
//	reg := mcp.NewRegistry(mcp.WithBuiltins(map[string]mcp.BuiltinFactory{
//		calculator.Name: calculator.NewServer,
//	}))
//	defer reg.Close()
//
//	if err := reg.ConnectAll(ctx, cfg.MCPServers); err != nil {
//		log.Warn().Err(err).Msg("some providers are unavailable")
//	}
//
//	owner, ok := reg.FindOwner("sum")
//	if ok {
//		text, err := reg.Execute(ctx, owner, "sum", map[string]any{"numbers": []any{2, 2}})
//	}
package mcp
