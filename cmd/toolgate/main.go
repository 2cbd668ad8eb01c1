// Command toolgate runs the permission-gated tool conversation server and
// its companion client commands.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/toolgate/cmd/toolgate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
