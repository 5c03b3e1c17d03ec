package config

import "time"

// Config is the root configuration for chaincraft.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	State    StateConfig    `yaml:"state"`
	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Publish  PublishConfig  `yaml:"publish,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
	Logging  LoggingConfig  `yaml:"logging"`
	Dev      DevConfig      `yaml:"dev,omitempty"`
}

// AgentConfig describes the remote design agent (a Gradio Space).
type AgentConfig struct {
	// Space is either "owner/name" on Hugging Face or a full base URL.
	Space             string          `yaml:"space"`
	Token             string          `yaml:"token,omitempty"`
	Transport         string          `yaml:"transport,omitempty"` // "sse" or "ws"
	ConnectRetries    int             `yaml:"connectRetries"`
	ConnectRetryDelay time.Duration   `yaml:"connectRetryDelay"`
	RequestTimeout    time.Duration   `yaml:"requestTimeout,omitempty"`
	Design            OperationConfig `yaml:"design"`
	Image             OperationConfig `yaml:"image"`
}

// OperationConfig tunes one remote operation.
type OperationConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// StateConfig selects where conversation state lives.
type StateConfig struct {
	Backend string `yaml:"backend"` // "file", "sqlite", "memory"
	Dir     string `yaml:"dir,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// ChannelsConfig holds per-channel configuration.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig configures the IRC front-end.
type IRCConfig struct {
	Server        string   `yaml:"server"`
	Port          int      `yaml:"port,omitempty"`
	Nick          string   `yaml:"nick"`
	User          string   `yaml:"user,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	Channels      []string `yaml:"channels,omitempty"`
	UseTLS        bool     `yaml:"useTLS,omitempty"`
	SASL          bool     `yaml:"sasl,omitempty"`
	CommandPrefix string   `yaml:"commandPrefix,omitempty"`
	ShareChannel  string   `yaml:"shareChannel,omitempty"`
}

// GatewayConfig configures the RPC gateway.
type GatewayConfig struct {
	Enabled bool        `yaml:"enabled"`
	Port    int         `yaml:"port"`
	Bind    string      `yaml:"bind"`
	Auth    GatewayAuth `yaml:"auth"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode"` // "token", "password", "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// PublishConfig configures where approved designs are published.
type PublishConfig struct {
	Pinata *PinataConfig `yaml:"pinata,omitempty"`
}

// PinataConfig configures JSON uploads to the Pinata pinning service.
type PinataConfig struct {
	JWT        string `yaml:"jwt"`
	APIURL     string `yaml:"apiUrl,omitempty"`
	GatewayURL string `yaml:"gatewayUrl,omitempty"`
}

// HooksConfig maps lifecycle events to shell commands.
type HooksConfig struct {
	DesignStarted      []HookEntry `yaml:"designStarted,omitempty"`
	TurnCompleted      []HookEntry `yaml:"turnCompleted,omitempty"`
	ImageReady         []HookEntry `yaml:"imageReady,omitempty"`
	DesignApproved     []HookEntry `yaml:"designApproved,omitempty"`
	ConversationClosed []HookEntry `yaml:"conversationClosed,omitempty"`
	AgentReconnected   []HookEntry `yaml:"agentReconnected,omitempty"`
}

// HookEntry is a single command hook. The event payload is passed as JSON
// on stdin.
type HookEntry struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DevConfig holds developer conveniences.
type DevConfig struct {
	AutoRestart bool `yaml:"autoRestart,omitempty"`
}
