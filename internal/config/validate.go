package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

type issueList []ValidationIssue

func (l *issueList) add(path, format string, args ...any) {
	*l = append(*l, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (l *issueList) oneOf(path, got string, valid []string) {
	if got != "" && !slices.Contains(valid, got) {
		l.add(path, "must be one of %v, got %q", valid, got)
	}
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues issueList

	validateAgent(&issues, cfg.Agent)

	issues.oneOf("state.backend", cfg.State.Backend, []string{"file", "sqlite", "memory"})

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues.add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	issues.oneOf("gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "all"})
	issues.oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password", "none"})
	if cfg.Gateway.Enabled {
		switch cfg.Gateway.Auth.Mode {
		case "token":
			if cfg.Gateway.Auth.Token == "" {
				issues.add("gateway.auth.token", "required when auth mode is token")
			}
		case "password":
			if cfg.Gateway.Auth.Password == "" {
				issues.add("gateway.auth.password", "required when auth mode is password")
			}
		}
	}

	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			issues.add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			issues.add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			issues.add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			issues.add("channels.irc.sasl", "SASL requires a password to be set")
		}
		if irc.ShareChannel != "" && !strings.HasPrefix(irc.ShareChannel, "#") {
			issues.add("channels.irc.shareChannel", "must be a channel name starting with #")
		}
	}

	if p := cfg.Publish.Pinata; p != nil && p.JWT == "" {
		issues.add("publish.pinata.jwt", "jwt is required")
	}

	for event, entries := range cfg.Hooks.byEvent() {
		for i, h := range entries {
			if strings.TrimSpace(h.Command) == "" {
				issues.add(fmt.Sprintf("hooks.%s[%d].command", event, i), "command is required")
			}
			if h.Timeout < 0 {
				issues.add(fmt.Sprintf("hooks.%s[%d].timeout", event, i), "must not be negative")
			}
		}
	}

	issues.oneOf("logging.level", cfg.Logging.Level,
		[]string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	issues.oneOf("logging.format", cfg.Logging.Format, []string{"console", "json"})

	if len(issues) == 0 {
		return nil
	}
	slices.SortStableFunc(issues, func(a, b ValidationIssue) int {
		return strings.Compare(a.Path, b.Path)
	})
	return issues
}

func validateAgent(issues *issueList, a AgentConfig) {
	if strings.TrimSpace(a.Space) == "" {
		issues.add("agent.space", "space is required (owner/name or URL)")
	} else if !strings.Contains(a.Space, "://") && strings.Count(a.Space, "/") != 1 {
		issues.add("agent.space", "must be owner/name or a URL, got %q", a.Space)
	}
	issues.oneOf("agent.transport", a.Transport, []string{"sse", "ws"})
	if a.ConnectRetries < 0 {
		issues.add("agent.connectRetries", "must not be negative, got %d", a.ConnectRetries)
	}
	if a.ConnectRetryDelay < 0 {
		issues.add("agent.connectRetryDelay", "must not be negative")
	}
	for name, op := range map[string]OperationConfig{"design": a.Design, "image": a.Image} {
		if op.Endpoint == "" {
			issues.add("agent."+name+".endpoint", "endpoint is required")
		}
		if op.Timeout <= 0 {
			issues.add("agent."+name+".timeout", "must be positive, got %s", op.Timeout)
		}
		if op.Retries < 0 {
			issues.add("agent."+name+".retries", "must not be negative, got %d", op.Retries)
		}
	}
}

// byEvent lists hook entries keyed by their config name.
func (h HooksConfig) byEvent() map[string][]HookEntry {
	return map[string][]HookEntry{
		"designStarted":      h.DesignStarted,
		"turnCompleted":      h.TurnCompleted,
		"imageReady":         h.ImageReady,
		"designApproved":     h.DesignApproved,
		"conversationClosed": h.ConversationClosed,
		"agentReconnected":   h.AgentReconnected,
	}
}
