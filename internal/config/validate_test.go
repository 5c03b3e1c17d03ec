package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Agent.Space = "acme/game-designer"
	return cfg
}

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MissingSpace(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, []string{"agent.space"}, issuePaths(Validate(&cfg)))
}

func TestValidate_Table(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"space shape", func(c *Config) { c.Agent.Space = "just-a-name" }, "agent.space"},
		{"space url ok", func(c *Config) { c.Agent.Space = "http://localhost:7860" }, ""},
		{"transport", func(c *Config) { c.Agent.Transport = "grpc" }, "agent.transport"},
		{"connect retries", func(c *Config) { c.Agent.ConnectRetries = -1 }, "agent.connectRetries"},
		{"design timeout", func(c *Config) { c.Agent.Design.Timeout = 0 }, "agent.design.timeout"},
		{"image retries", func(c *Config) { c.Agent.Image.Retries = -2 }, "agent.image.retries"},
		{"image endpoint", func(c *Config) { c.Agent.Image.Endpoint = "" }, "agent.image.endpoint"},
		{"backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"gateway port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"gateway auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"gateway token", func(c *Config) { c.Gateway.Enabled = true }, "gateway.auth.token"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"irc nick", func(c *Config) { c.Channels.IRC = &IRCConfig{Server: "irc.example.net"} }, "channels.irc.nick"},
		{"irc share channel", func(c *Config) {
			c.Channels.IRC = &IRCConfig{Server: "s", Nick: "n", ShareChannel: "showcase"}
		}, "channels.irc.shareChannel"},
		{"pinata jwt", func(c *Config) { c.Publish.Pinata = &PinataConfig{} }, "publish.pinata.jwt"},
		{"hook command", func(c *Config) { c.Hooks.ImageReady = []HookEntry{{Timeout: time.Second}} }, "hooks.imageReady[0].command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			if tt.path == "" {
				assert.Empty(t, issues)
				return
			}
			assert.Contains(t, issuePaths(issues), tt.path)
		})
	}
}

func TestValidationIssueString(t *testing.T) {
	v := ValidationIssue{Path: "agent.space", Message: "space is required"}
	assert.Equal(t, "agent.space: space is required", v.String())
}
