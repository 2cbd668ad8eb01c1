package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolgate/internal/mcp"
)

var toolsTimeout time.Duration

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect to the configured providers and list their tools",
	Long: `Connect to every provider in the provider config, print the discovered
tool catalog with the provider that owns each tool, and exit.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", 30*time.Second, "Connection timeout")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), toolsTimeout)
	defer cancel()

	reg := newRegistry()
	defer reg.Close()
	// Failures show up in the provider list below.
	_ = reg.ConnectAll(ctx, cfg.MCPServers)

	printCatalog(cmd.OutOrStdout(), reg.Providers(), reg.Tools())
	return nil
}

// printCatalog writes the providers and the tools each one owns.
func printCatalog(w io.Writer, providers []mcp.ProviderStatus, tools []mcp.Tool) {
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	dim := color.New(color.Faint)

	owned := make(map[string][]mcp.Tool)
	for _, t := range tools {
		owned[t.ProviderID] = append(owned[t.ProviderID], t)
	}

	if len(providers) == 0 {
		fmt.Fprintln(w, "No providers configured.")
		return
	}

	for _, p := range providers {
		bold.Fprintf(w, "%s", p.Name)
		fmt.Fprintf(w, " (%s) ", p.Type)
		switch p.Status {
		case mcp.StatusConnected:
			ok.Fprint(w, p.Status)
		default:
			bad.Fprint(w, p.Status)
		}
		if p.Error != nil {
			dim.Fprintf(w, ": %s", *p.Error)
		}
		fmt.Fprintln(w)

		for _, t := range owned[p.Name] {
			fmt.Fprintf(w, "  %-20s ", t.Name)
			dim.Fprintln(w, t.Description)
		}
	}
	fmt.Fprintf(w, "\n%d tools from %d providers\n", len(tools), len(providers))
}
