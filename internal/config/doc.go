// Package config provides configuration loading and validation for toolgate.
//
// # Configuration Loading
//
// Load merges configuration from the following sources, later ones winning:
//
//  1. Built-in defaults (port 3000, OpenAI gpt-4o, 30 minute session timeout,
//     5 minute sweep, 5 reasoning steps per invocation)
//  2. A dotenv file (.env in the working directory) loaded with godotenv;
//     variables already present in the environment are never overridden
//  3. The provider file: an explicit path (--config or TOOLGATE_CONFIG), else
//     the first of config/mcp-config.{json,jsonc,yaml,yml} in the working
//     directory and then in $XDG_CONFIG_HOME/toolgate
//  4. Environment variables, processed with envconfig. TOOLGATE_<NAME> takes
//     precedence over the bare <NAME> (so PORT works as in most hosting
//     environments). Vendor keys are read from OPENAI_API_KEY,
//     ANTHROPIC_API_KEY and ARK_API_KEY.
//
// # Supported Formats
//
// JSON and JSONC provider files are processed using tidwall/jsonc, YAML files
// with gopkg.in/yaml.v3. Durations are written as Go duration strings ("30m").
//
// # Variable Interpolation
//
// {env:VAR} placeholders in the provider file are replaced with the value of
// the named environment variable before parsing.
//
// # Validation
//
// Validate returns every problem found, aggregated with go-multierror. A
// validation failure is fatal at startup.
package config
