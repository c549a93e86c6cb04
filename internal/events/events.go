// Package events turns platform callbacks into typed events and routes them
// through an explicit dispatch table.
package events

import (
	"context"
	"time"

	"whitelist-bot/internal/platform"
)

// Kind identifies an event type in the dispatch table.
type Kind string

const (
	KindDirectMessage Kind = "direct_message"
	KindGuildMessage  Kind = "guild_message"
	KindButton        Kind = "button"
	KindCommand       Kind = "command"
)

// Event is anything the dispatcher can route. Lane returns the key events
// are serialized on; events sharing a key are handled in arrival order.
type Event interface {
	Kind() Kind
	Lane() string
}

// Author describes who sent a message or triggered an interaction.
type Author struct {
	ID          string
	Tag         string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

// Message is a plain message received in a DM or a guild channel.
type Message struct {
	Direct    bool
	ChannelID string
	Author    Author
	Content   string
	SentAt    time.Time
}

func (m Message) Kind() Kind {
	if m.Direct {
		return KindDirectMessage
	}
	return KindGuildMessage
}

func (m Message) Lane() string { return m.ChannelID }

// Responder replies to an interaction. Replies are only visible to the actor.
type Responder func(ctx context.Context, msg platform.Message) error

// Button is a click on an interactive message component.
type Button struct {
	ChannelID string
	CustomID  string
	Actor     Author
	Respond   Responder
}

func (Button) Kind() Kind { return KindButton }

func (b Button) Lane() string { return b.ChannelID }

// Slash commands and their options.
const (
	CommandApprove  = "addwhitelist"
	CommandReject   = "blwhitelist"
	OptionCandidate = "discord_id"
	OptionReason    = "reason"
)

// Command is a slash command invocation.
type Command struct {
	ChannelID string
	Name      string
	Options   map[string]string
	Actor     Author
	Respond   Responder
}

func (Command) Kind() Kind { return KindCommand }

func (c Command) Lane() string { return c.ChannelID }

// Option returns a command option value or "".
func (c Command) Option(name string) string {
	if c.Options == nil {
		return ""
	}
	return c.Options[name]
}
