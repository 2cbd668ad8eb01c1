// Command calculator-mcp serves the calculator tools over stdio, for use as a
// stdio provider in mcp-config.json.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/toolgate/pkg/mcpserver/calculator"
)

func main() {
	if err := server.ServeStdio(calculator.NewServer()); err != nil {
		log.Fatal(err)
	}
}
