package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// EnvPrefix prefixes every toolgate-specific environment variable.
const EnvPrefix = "TOOLGATE"

var (
	ErrMissingAPIKey = errors.New("missing API key for reasoning backend")
	ErrNoProviders   = errors.New("no tool providers configured")
)

// Options controls where Load looks for configuration.
type Options struct {
	// WorkDir anchors relative lookups. Defaults to the current directory.
	WorkDir string
	// ProviderFile overrides the provider file lookup. A missing explicit
	// file is an error.
	ProviderFile string
	// EnvFile is the dotenv file to read. Defaults to WorkDir/.env.
	EnvFile string
}

// Default returns the built-in defaults.
func Default() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:       "0.0.0.0",
			Port:       3000,
			EnableCORS: true,
		},
		Backend: types.BackendConfig{
			Provider:  "openai",
			MaxTokens: 1000,
		},
		Session: types.SessionConfig{
			Timeout:       30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			KeepAlive:     15 * time.Second,
			MaxSteps:      5,
			ResultLines:   4,
		},
		LogLevel: "INFO",
	}
}

// Load resolves configuration from (in increasing priority) defaults, the
// dotenv file, the provider file and the process environment.
func Load(opts Options) (*types.Config, error) {
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.WorkDir = wd
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = filepath.Join(opts.WorkDir, ".env")
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()

	path, err := resolveProviderFile(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Backend.Model == "" {
		cfg.Backend.Model = DefaultModel(cfg.Backend.Provider)
	}
	normalizeProviders(cfg)
	return cfg, nil
}

// DefaultModel returns the model used when none is configured. Ark has no
// default because its models are per-account endpoints.
func DefaultModel(backend string) string {
	switch backend {
	case "openai":
		return "gpt-4o"
	case "anthropic":
		return "claude-sonnet-4-20250514"
	default:
		return ""
	}
}

func resolveProviderFile(opts Options) (string, error) {
	explicit := opts.ProviderFile
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(opts.WorkDir, explicit)
		}
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("provider file: %w", err)
		}
		return explicit, nil
	}

	for _, candidate := range GetPaths().ProviderFileCandidates(opts.WorkDir) {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// fileConfig is the on-disk shape. Durations are strings such as "30m".
type fileConfig struct {
	MCPServers []types.ProviderConfig `json:"mcpServers" yaml:"mcpServers"`
	Server     *struct {
		Host       string `json:"host" yaml:"host"`
		Port       int    `json:"port" yaml:"port"`
		EnableCORS *bool  `json:"enableCors" yaml:"enableCors"`
	} `json:"server" yaml:"server"`
	Backend *struct {
		Provider    string  `json:"provider" yaml:"provider"`
		APIKey      string  `json:"apiKey" yaml:"apiKey"`
		BaseURL     string  `json:"baseURL" yaml:"baseURL"`
		Model       string  `json:"model" yaml:"model"`
		MaxTokens   int     `json:"maxTokens" yaml:"maxTokens"`
		Temperature float64 `json:"temperature" yaml:"temperature"`
	} `json:"backend" yaml:"backend"`
	Session *struct {
		Timeout       string `json:"timeout" yaml:"timeout"`
		SweepInterval string `json:"sweepInterval" yaml:"sweepInterval"`
		KeepAlive     string `json:"keepAlive" yaml:"keepAlive"`
		MaxSteps      int    `json:"maxSteps" yaml:"maxSteps"`
		ResultLines   int    `json:"resultLines" yaml:"resultLines"`
		StreamChunks  *bool  `json:"streamChunks" yaml:"streamChunks"`
		SystemPrompt  string `json:"systemPrompt" yaml:"systemPrompt"`
	} `json:"session" yaml:"session"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// loadFile reads a JSON, JSONC or YAML provider file into cfg.
func loadFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = interpolate(data)

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return err
		}
	default:
		// Strip JSONC comments and trailing commas using tidwall/jsonc
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return err
		}
	}

	return mergeFile(cfg, &fc)
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func mergeFile(cfg *types.Config, fc *fileConfig) error {
	if len(fc.MCPServers) > 0 {
		cfg.MCPServers = fc.MCPServers
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	if s := fc.Server; s != nil {
		if s.Host != "" {
			cfg.Server.Host = s.Host
		}
		if s.Port != 0 {
			cfg.Server.Port = s.Port
		}
		if s.EnableCORS != nil {
			cfg.Server.EnableCORS = *s.EnableCORS
		}
	}

	if b := fc.Backend; b != nil {
		if b.Provider != "" {
			cfg.Backend.Provider = b.Provider
		}
		if b.APIKey != "" {
			cfg.Backend.APIKey = b.APIKey
		}
		if b.BaseURL != "" {
			cfg.Backend.BaseURL = b.BaseURL
		}
		if b.Model != "" {
			cfg.Backend.Model = b.Model
		}
		if b.MaxTokens != 0 {
			cfg.Backend.MaxTokens = b.MaxTokens
		}
		if b.Temperature != 0 {
			cfg.Backend.Temperature = b.Temperature
		}
	}

	if s := fc.Session; s != nil {
		var merr *multierror.Error
		for _, d := range []struct {
			name string
			raw  string
			dst  *time.Duration
		}{
			{"session.timeout", s.Timeout, &cfg.Session.Timeout},
			{"session.sweepInterval", s.SweepInterval, &cfg.Session.SweepInterval},
			{"session.keepAlive", s.KeepAlive, &cfg.Session.KeepAlive},
		} {
			if d.raw == "" {
				continue
			}
			v, err := time.ParseDuration(d.raw)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", d.name, err))
				continue
			}
			*d.dst = v
		}
		if err := merr.ErrorOrNil(); err != nil {
			return err
		}

		if s.MaxSteps != 0 {
			cfg.Session.MaxSteps = s.MaxSteps
		}
		if s.ResultLines != 0 {
			cfg.Session.ResultLines = s.ResultLines
		}
		if s.StreamChunks != nil {
			cfg.Session.StreamChunks = *s.StreamChunks
		}
		if s.SystemPrompt != "" {
			cfg.Session.SystemPrompt = s.SystemPrompt
		}
	}
	return nil
}

// envSettings is filled from TOOLGATE_<NAME>, falling back to the bare name.
type envSettings struct {
	Host           string        `envconfig:"HOST"`
	Port           int           `envconfig:"PORT"`
	Backend        string        `envconfig:"BACKEND"`
	Model          string        `envconfig:"MODEL"`
	BaseURL        string        `envconfig:"BASE_URL"`
	MaxTokens      int           `envconfig:"MAX_TOKENS"`
	MaxSteps       int           `envconfig:"MAX_STEPS"`
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL"`
	StreamChunks   bool          `envconfig:"STREAM_CHUNKS"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
}

// apiKeys holds the vendor key variables.
type apiKeys struct {
	OpenAI    string `envconfig:"OPENAI_API_KEY"`
	Anthropic string `envconfig:"ANTHROPIC_API_KEY"`
	Ark       string `envconfig:"ARK_API_KEY"`
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *types.Config) error {
	// Seed with current values so unset variables leave them untouched.
	env := envSettings{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Backend:        cfg.Backend.Provider,
		Model:          cfg.Backend.Model,
		BaseURL:        cfg.Backend.BaseURL,
		MaxTokens:      cfg.Backend.MaxTokens,
		MaxSteps:       cfg.Session.MaxSteps,
		SessionTimeout: cfg.Session.Timeout,
		SweepInterval:  cfg.Session.SweepInterval,
		StreamChunks:   cfg.Session.StreamChunks,
		LogLevel:       cfg.LogLevel,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	cfg.Server.Host = env.Host
	cfg.Server.Port = env.Port
	cfg.Backend.Provider = strings.ToLower(env.Backend)
	cfg.Backend.Model = env.Model
	cfg.Backend.BaseURL = env.BaseURL
	cfg.Backend.MaxTokens = env.MaxTokens
	cfg.Session.MaxSteps = env.MaxSteps
	cfg.Session.Timeout = env.SessionTimeout
	cfg.Session.SweepInterval = env.SweepInterval
	cfg.Session.StreamChunks = env.StreamChunks
	cfg.LogLevel = env.LogLevel

	var keys apiKeys
	if err := envconfig.Process("", &keys); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if cfg.Backend.APIKey == "" {
		switch cfg.Backend.Provider {
		case "openai":
			cfg.Backend.APIKey = keys.OpenAI
		case "anthropic":
			cfg.Backend.APIKey = keys.Anthropic
		case "ark":
			cfg.Backend.APIKey = keys.Ark
		}
	}
	return nil
}

// normalizeProviders names anonymous providers and folds the legacy options
// block into the direct fields. Options take precedence over direct fields.
func normalizeProviders(cfg *types.Config) {
	for i := range cfg.MCPServers {
		p := &cfg.MCPServers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("server_%d", i)
		}
		if p.Options == nil {
			continue
		}
		if len(p.Options.Env) > 0 {
			if p.Env == nil {
				p.Env = make(map[string]string, len(p.Options.Env))
			}
			for k, v := range p.Options.Env {
				p.Env[k] = v
			}
		}
		if p.Options.Cwd != "" {
			p.Cwd = p.Options.Cwd
		}
		p.Options = nil
	}
}

// APIKeyEnv names the environment variable holding the key for a backend.
func APIKeyEnv(backend string) string {
	switch backend {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "ark":
		return "ARK_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate reports every startup configuration problem at once.
func Validate(cfg *types.Config) error {
	var merr *multierror.Error

	switch cfg.Backend.Provider {
	case "openai", "anthropic":
	case "ark":
		if cfg.Backend.Model == "" {
			merr = multierror.Append(merr, errors.New("backend.model must name an Ark endpoint"))
		}
	default:
		merr = multierror.Append(merr, fmt.Errorf("unknown backend provider %q", cfg.Backend.Provider))
	}
	if cfg.Backend.APIKey == "" {
		merr = multierror.Append(merr, fmt.Errorf("%w: set %s", ErrMissingAPIKey, APIKeyEnv(cfg.Backend.Provider)))
	}

	if len(cfg.MCPServers) == 0 {
		merr = multierror.Append(merr, ErrNoProviders)
	}
	seen := make(map[string]bool, len(cfg.MCPServers))
	for _, p := range cfg.MCPServers {
		if seen[p.Name] {
			merr = multierror.Append(merr, fmt.Errorf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true

		switch p.Transport() {
		case types.ProviderStdio:
			if p.Command == "" {
				merr = multierror.Append(merr, fmt.Errorf("provider %q: command required", p.Name))
			}
		case types.ProviderRemote:
			if p.URL == "" {
				merr = multierror.Append(merr, fmt.Errorf("provider %q: url required", p.Name))
			}
		case types.ProviderBuiltin:
		default:
			merr = multierror.Append(merr, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
	}

	if cfg.Session.MaxSteps <= 0 {
		merr = multierror.Append(merr, errors.New("session.maxSteps must be positive"))
	}
	if cfg.Session.ResultLines <= 0 {
		merr = multierror.Append(merr, errors.New("session.resultLines must be positive"))
	}
	if cfg.Session.Timeout <= 0 || cfg.Session.SweepInterval <= 0 {
		merr = multierror.Append(merr, errors.New("session timeout and sweep interval must be positive"))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		merr = multierror.Append(merr, fmt.Errorf("invalid port %d", cfg.Server.Port))
	}

	return merr.ErrorOrNil()
}
