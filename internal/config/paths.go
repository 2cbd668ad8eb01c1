package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultProviderFile is the provider file looked up relative to the working directory.
const DefaultProviderFile = "config/mcp-config.json"

// Paths contains the standard locations toolgate reads from.
type Paths struct {
	Config string // ~/.config/toolgate
}

// GetPaths returns the standard paths for toolgate.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "toolgate"),
	}
}

// ProviderFileCandidates lists provider files in lookup order: the project
// directory first, then the user config directory.
func (p *Paths) ProviderFileCandidates(workDir string) []string {
	var out []string
	for _, dir := range []string{filepath.Join(workDir, "config"), p.Config} {
		for _, name := range []string{"mcp-config.json", "mcp-config.jsonc", "mcp-config.yaml", "mcp-config.yml"} {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}
