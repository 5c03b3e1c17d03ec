package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${VAR} references in credential fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Agent.Token = expandEnvVars(cfg.Agent.Token)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	if cfg.Publish.Pinata != nil {
		cfg.Publish.Pinata.JWT = expandEnvVars(cfg.Publish.Pinata.JWT)
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies defaults and environment overrides,
// and returns the merged Config. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		applyDefaults(&cfg)
	}

	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Agent.Transport == "" {
		cfg.Agent.Transport = def.Agent.Transport
	}
	if cfg.Agent.ConnectRetryDelay == 0 {
		cfg.Agent.ConnectRetryDelay = def.Agent.ConnectRetryDelay
	}
	if cfg.Agent.RequestTimeout == 0 {
		cfg.Agent.RequestTimeout = def.Agent.RequestTimeout
	}
	fillOperation(&cfg.Agent.Design, def.Agent.Design)
	fillOperation(&cfg.Agent.Image, def.Agent.Image)

	if cfg.State.Backend == "" {
		cfg.State.Backend = def.State.Backend
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = def.Gateway.Auth.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Port == 0 {
			irc.Port = 6697
		}
		if irc.CommandPrefix == "" {
			irc.CommandPrefix = "!"
		}
	}
	if p := cfg.Publish.Pinata; p != nil {
		if p.APIURL == "" {
			p.APIURL = "https://api.pinata.cloud"
		}
		if p.GatewayURL == "" {
			p.GatewayURL = "https://gateway.pinata.cloud"
		}
	}
}

// fillOperation fills an operation's endpoint and timeout. Retries are left
// alone since zero is a meaningful budget.
func fillOperation(op *OperationConfig, def OperationConfig) {
	if op.Endpoint == "" {
		op.Endpoint = def.Endpoint
	}
	if op.Timeout == 0 {
		op.Timeout = def.Timeout
	}
}

// applyEnvOverrides reads CHAINCRAFT_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAINCRAFT_HF_ACCESS_TOKEN"); v != "" {
		cfg.Agent.Token = v
	}
	if v := os.Getenv("CHAINCRAFT_HF_SPACE"); v != "" {
		cfg.Agent.Space = v
	}
	if v := os.Getenv("CHAINCRAFT_AGENT_TRANSPORT"); v != "" {
		cfg.Agent.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("CHAINCRAFT_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("CHAINCRAFT_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CHAINCRAFT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("CHAINCRAFT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CHAINCRAFT_PINATA_JWT"); v != "" {
		if cfg.Publish.Pinata == nil {
			cfg.Publish.Pinata = &PinataConfig{
				APIURL:     "https://api.pinata.cloud",
				GatewayURL: "https://gateway.pinata.cloud",
			}
		}
		cfg.Publish.Pinata.JWT = v
	}
	if v := os.Getenv("CHAINCRAFT_PINATA_GATEWAY_URL"); v != "" && cfg.Publish.Pinata != nil {
		cfg.Publish.Pinata.GatewayURL = v
	}
	if v := os.Getenv("CHAINCRAFT_IRC_SERVER"); v != "" {
		if cfg.Channels.IRC == nil {
			cfg.Channels.IRC = &IRCConfig{Port: 6697, UseTLS: true, CommandPrefix: "!"}
		}
		cfg.Channels.IRC.Server = v
	}
	if v := os.Getenv("CHAINCRAFT_IRC_NICK"); v != "" && cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Nick = v
	}
}
