package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

var (
	askServer  string
	askSession string
	askYes     bool
	askNo      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query...]",
	Short: "Send a query to a running toolgate server",
	Long: `Send a query to a running toolgate server and print the streamed reply.
When the assistant wants to run a tool you are asked to allow it.

Examples:
  toolgate ask "what is 2+2"
  toolgate ask --session demo "and times 3?"
  toolgate ask --yes "add 1, 2 and 3"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askServer, "server", "http://localhost:3000", "toolgate server URL")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session ID to continue")
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Allow every tool call without asking")
	askCmd.Flags().BoolVar(&askNo, "no", false, "Deny every tool call without asking")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askYes && askNo {
		return fmt.Errorf("--yes and --no are mutually exclusive")
	}
	c := &askClient{
		base:    strings.TrimRight(askServer, "/"),
		http:    http.DefaultClient,
		in:      bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
		session: askSession,
	}
	switch {
	case askYes:
		c.decide = func(string) (bool, error) { return true, nil }
	case askNo:
		c.decide = func(string) (bool, error) { return false, nil }
	default:
		c.decide = c.prompt
	}
	return c.Ask(strings.Join(args, " "))
}

// askClient is a terminal client for the /stream-sse endpoint.
type askClient struct {
	base    string
	http    *http.Client
	in      *bufio.Reader
	out     io.Writer
	session string
	decide  func(question string) (bool, error)
}

var (
	assistantColor = color.New(color.FgWhite)
	toolColor      = color.New(color.FgCyan)
	permColor      = color.New(color.FgYellow, color.Bold)
	errorColor     = color.New(color.FgRed)
	infoColor      = color.New(color.Faint)
)

// Ask streams one query and renders the reply until the server ends it.
func (c *askClient) Ask(query string) error {
	params := url.Values{"q": {query}}
	if c.session != "" {
		params.Set("session_id", c.session)
	}

	resp, err := c.http.Get(c.base + "/stream-sse?" + params.Encode())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if key := resp.Header.Get("X-Session-ID"); key != "" {
		c.session = key
	}

	chunked := false
	err = stream.Decode(resp.Body, func(e types.StreamEvent) error {
		switch e.Role {
		case types.EventAssistantChunk:
			chunked = true
			assistantColor.Fprint(c.out, e.Content)
			return nil
		case types.EventAssistant:
			if chunked {
				// The full message repeats the chunks already printed.
				chunked = false
				fmt.Fprintln(c.out)
				return nil
			}
		case types.EventPermission:
			permColor.Fprintln(c.out, e.Content)
			granted, err := c.decide(e.Content)
			if err != nil {
				return err
			}
			return c.sendDecision(granted)
		case types.EventDone:
			infoColor.Fprintf(c.out, "(session %s)\n", c.session)
			return stream.ErrStop
		}
		render(c.out, e)
		return nil
	})
	return err
}

// prompt asks the user on the terminal. Anything but y/yes denies.
func (c *askClient) prompt(string) (bool, error) {
	fmt.Fprint(c.out, "Allow? [y/N] ")
	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (c *askClient) sendDecision(granted bool) error {
	body, err := json.Marshal(map[string]any{"sessionId": c.session, "granted": granted})
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+"/tool-permission", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send permission: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send permission: server returned %s", resp.Status)
	}
	return nil
}

// render prints one stream event.
func render(w io.Writer, e types.StreamEvent) {
	switch e.Role {
	case types.EventAssistant:
		assistantColor.Fprintln(w, e.Content)
	case types.EventTool, types.EventToolExecuting:
		toolColor.Fprintln(w, e.Content)
	case types.EventPermission:
		permColor.Fprintln(w, e.Content)
	case types.EventError:
		errorColor.Fprintln(w, e.Content)
	default:
		infoColor.Fprintln(w, e.Content)
	}
}
