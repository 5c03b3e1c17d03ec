package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a chat front-end the bot talks through.
type Channel interface {
	// ID returns the channel identifier (e.g. "irc").
	ID() string

	// Start connects the channel and begins listening. It may block until
	// the connection ends.
	Start(ctx context.Context) error

	// Stop disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnMessage registers the handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))

	// OnLeave registers the handler for users leaving a chat.
	OnLeave(handler func(ev LeaveEvent))
}
