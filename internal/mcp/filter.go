package mcp

import (
	"github.com/bmatcuk/doublestar/v4"
)

// filterTools keeps the tools whose names match at least one include glob
// (all tools when include is empty) and no exclude glob.
func filterTools(tools []Tool, include, exclude []string) []Tool {
	if len(include) == 0 && len(exclude) == 0 {
		return tools
	}

	kept := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if len(include) > 0 && !matchAny(include, t.Name) {
			continue
		}
		if matchAny(exclude, t.Name) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// matchAny reports whether name matches any pattern. Malformed patterns
// never match.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
