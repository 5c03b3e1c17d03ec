package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/chaincraft/internal/config"
)

const defaultCommandTimeout = 30 * time.Second

// CommandHandler returns a Handler that runs entry.Command through sh with
// the JSON payload on stdin. CHAINCRAFT_EVENT and CHAINCRAFT_CONVERSATION
// are set in its environment.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.WaitDelay = time.Second
		cmd.Stdin = bytes.NewReader(input)
		cmd.Env = append(cmd.Environ(),
			"CHAINCRAFT_EVENT="+p.Event,
			"CHAINCRAFT_CONVERSATION="+p.Str("conversationId"),
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("hook %q: %w: %s", entry.Command, err, msg)
			}
			return fmt.Errorf("hook %q: %w", entry.Command, err)
		}
		return nil
	}
}

// RegisterCommands registers every configured command hook on m and returns
// how many were added.
func RegisterCommands(m *Manager, cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventDesignStarted:      cfg.DesignStarted,
		EventTurnCompleted:      cfg.TurnCompleted,
		EventImageReady:         cfg.ImageReady,
		EventDesignApproved:     cfg.DesignApproved,
		EventConversationClosed: cfg.ConversationClosed,
		EventAgentReconnected:   cfg.AgentReconnected,
	}

	n := 0
	for event, entries := range byEvent {
		for i, e := range entries {
			m.On(event, fmt.Sprintf("command:%s:%d", event, i), CommandHandler(e))
			n++
		}
	}
	return n
}
