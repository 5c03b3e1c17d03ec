package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Endpoint names exposed by the design Space.
const (
	DefaultDesignEndpoint = "/submit_design_ui_input"
	DefaultImageEndpoint  = "/generate_image"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			Transport:         "sse",
			ConnectRetries:    1,
			ConnectRetryDelay: 5 * time.Second,
			RequestTimeout:    30 * time.Second,
			Design: OperationConfig{
				Endpoint: DefaultDesignEndpoint,
				Timeout:  20 * time.Second,
				Retries:  1,
			},
			Image: OperationConfig{
				Endpoint: DefaultImageEndpoint,
				Timeout:  30 * time.Second,
				Retries:  1,
			},
		},
		State: StateConfig{
			Backend: "file",
		},
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
