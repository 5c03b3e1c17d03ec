package domain

import "time"

// ChatType classifies the conversation context.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is a message to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// LeaveKind says how a user left.
type LeaveKind string

const (
	LeavePart LeaveKind = "part"
	LeaveKick LeaveKind = "kick"
	LeaveQuit LeaveKind = "quit"
)

// LeaveEvent reports a user leaving a chat. ChatID is empty for a quit,
// which ends the user's presence in every chat on the channel.
type LeaveEvent struct {
	ChannelID string    `json:"channelId"`
	ChatID    string    `json:"chatId,omitempty"`
	User      string    `json:"user"`
	Kind      LeaveKind `json:"kind"`
}
