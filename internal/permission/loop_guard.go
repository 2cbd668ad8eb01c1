package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// RepeatGuard remembers every backend turn seen during one loop invocation
// and reports when the backend produces the same turn again.
type RepeatGuard struct {
	seen map[string]struct{}
}

// NewRepeatGuard creates a guard with an empty seen-set.
func NewRepeatGuard() *RepeatGuard {
	return &RepeatGuard{seen: make(map[string]struct{})}
}

// Repeated records the turn and returns true if an identical one was already
// recorded. Call ids and the order of the calls are ignored.
func (g *RepeatGuard) Repeated(text string, calls []types.ToolCallRequest) bool {
	hash := TurnHash(text, calls)
	if _, ok := g.seen[hash]; ok {
		return true
	}
	g.seen[hash] = struct{}{}
	return false
}

// TurnHash hashes the text and the set of (tool, arguments) pairs of a turn.
// Arguments are compared by their decoded value, so key order and whitespace
// in the raw JSON do not matter.
func TurnHash(text string, calls []types.ToolCallRequest) string {
	keys := make([]string, 0, len(calls))
	for _, call := range calls {
		keys = append(keys, hashCall(call.Name, canonicalArgs(call.Arguments)))
	}
	sort.Strings(keys)

	data, _ := json.Marshal(map[string]any{
		"text":  text,
		"calls": keys,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// hashCall creates a hash of the tool name and input.
func hashCall(toolName string, input any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  toolName,
		"input": input,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func canonicalArgs(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
