// Package irc implements the IRC chat front-end using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/domain"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/version"
)

// ChannelID is the id the IRC channel registers under.
const ChannelID = "irc"

// maxLineBytes keeps a PRIVMSG well under the 512 byte IRC line limit once
// the prefix and target are added.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	onLeave func(ev domain.LeaveEvent)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return ChannelID }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Channel) OnLeave(handler func(ev domain.LeaveEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLeave = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) gircConfig() girc.Config {
	port := c.cfg.Port
	if port == 0 {
		if c.cfg.UseTLS {
			port = 6697
		} else {
			port = 6667
		}
	}
	user := c.cfg.User
	if user == "" {
		user = c.cfg.Nick
	}

	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    port,
		Nick:    c.cfg.Nick,
		User:    user,
		Name:    "Chaincraft game design bot",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gc.SASL = &girc.SASLPlain{User: user, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Start connects to the IRC server and blocks until the connection ends or
// ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	gc := c.gircConfig()
	client := girc.New(gc)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.registerHandlers(client)

	c.log.Info().
		Str("server", gc.Server).
		Int("port", gc.Port).
		Str("nick", gc.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", gc.SSL).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop disconnects from the IRC server.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a message to an IRC channel or user, one PRIVMSG per line.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}
	if msg.To == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		client.Cmd.Message(msg.To, line)
	}

	c.log.Debug().
		Str("to", msg.To).
		Int("lines", len(lines)).
		Msg("sent IRC message")
	return nil
}

func (c *Channel) registerHandlers(client *girc.Client) {
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.PART, c.onLeaveEvent)
	client.Handlers.Add(girc.KICK, c.onLeaveEvent)
	client.Handlers.Add(girc.QUIT, c.onLeaveEvent)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	msg, ok := inboundFromEvent(e, client.GetNick())
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

func (c *Channel) onLeaveEvent(client *girc.Client, e girc.Event) {
	ev, ok := leaveFromEvent(e, client.GetNick())
	if !ok {
		return
	}
	c.log.Debug().
		Str("nick", ev.User).
		Str("channel", ev.ChatID).
		Str("kind", string(ev.Kind)).
		Msg("user left")

	c.mu.RLock()
	handler := c.onLeave
	c.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// inboundFromEvent converts a PRIVMSG. Messages from self are dropped.
// A direct message uses the sender's nick as its chat id.
func inboundFromEvent(e girc.Event, self string) (domain.InboundMessage, bool) {
	if e.Source == nil || len(e.Params) == 0 {
		return domain.InboundMessage{}, false
	}
	if strings.EqualFold(e.Source.Name, self) {
		return domain.InboundMessage{}, false
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	msg := domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: ChannelID,
		From:      e.Source.Name,
		ChatID:    e.Params[0],
		ChatType:  domain.ChatTypeGroup,
		Body:      body,
		Timestamp: time.Now(),
	}
	if !e.IsFromChannel() {
		msg.ChatID = e.Source.Name
		msg.ChatType = domain.ChatTypeDM
	}
	return msg, true
}

// leaveFromEvent converts PART, KICK and QUIT. The bot leaving is dropped.
func leaveFromEvent(e girc.Event, self string) (domain.LeaveEvent, bool) {
	ev := domain.LeaveEvent{ChannelID: ChannelID}
	switch e.Command {
	case girc.PART:
		if e.Source == nil || len(e.Params) == 0 {
			return ev, false
		}
		ev.Kind, ev.User, ev.ChatID = domain.LeavePart, e.Source.Name, e.Params[0]
	case girc.KICK:
		if len(e.Params) < 2 {
			return ev, false
		}
		ev.Kind, ev.User, ev.ChatID = domain.LeaveKick, e.Params[1], e.Params[0]
	case girc.QUIT:
		if e.Source == nil {
			return ev, false
		}
		ev.Kind, ev.User = domain.LeaveQuit, e.Source.Name
	default:
		return ev, false
	}
	if strings.EqualFold(ev.User, self) {
		return ev, false
	}
	return ev, true
}

// splitMessage breaks text into IRC-sized lines. Every newline starts a new
// line; lines longer than maxLen bytes are cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			chunks = append(chunks, " ")
			continue
		}
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		chunks = append(chunks, line)
	}
	return chunks
}
