package domain

import (
	"fmt"
	"strings"
)

// ConversationKey identifies a design conversation: one user in one chat.
type ConversationKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	User      string `json:"user"`
}

// KeyFor returns the conversation key of an inbound message.
func KeyFor(msg InboundMessage) ConversationKey {
	return ConversationKey{ChannelID: msg.ChannelID, ChatID: msg.ChatID, User: msg.From}
}

// String returns the canonical conversation id, "<channel>:<chat>:<user>".
func (k ConversationKey) String() string {
	return k.ChannelID + ":" + k.ChatID + ":" + k.User
}

// ParseConversationKey reverses String. The chat part may itself contain
// colons; channel and user may not.
func ParseConversationKey(id string) (ConversationKey, error) {
	first := strings.Index(id, ":")
	last := strings.LastIndex(id, ":")
	if first <= 0 || last == first || last == len(id)-1 {
		return ConversationKey{}, fmt.Errorf("invalid conversation id %q", id)
	}
	return ConversationKey{
		ChannelID: id[:first],
		ChatID:    id[first+1 : last],
		User:      id[last+1:],
	}, nil
}
