// Package platform is the chat-platform port used by the lifecycle. The
// discord subpackage implements it against a real guild and platformtest
// provides a recording fake.
package platform

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a channel, user or member does not exist (or
// is no longer visible to the bot).
var ErrNotFound = errors.New("platform: not found")

// Brand colors used in embeds.
const (
	ColorBrand   = 0xFF1A1A
	ColorSuccess = 0x4ADE80
	ColorWarning = 0xF59E0B
)

// DefaultAvatarURL is used when a user has no avatar.
const DefaultAvatarURL = "https://cdn.discordapp.com/embed/avatars/0.png"

// Platform is everything the lifecycle needs from the chat platform. Every
// call is bounded by ctx; implementations add their own request timeout.
type Platform interface {
	BotUserID() string

	// ResolveChannel reports whether channelID still exists.
	ResolveChannel(ctx context.Context, channelID string) error
	CreateTicketChannel(ctx context.Context, spec TicketSpec) (channelID string, err error)
	DeleteChannel(ctx context.Context, channelID string) error

	SendToChannel(ctx context.Context, channelID string, msg Message) error
	SendDirect(ctx context.Context, userID string, msg Message) error

	MemberExists(ctx context.Context, userID string) (bool, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
}

// TicketSpec describes the private staff channel created per application.
type TicketSpec struct {
	Name        string
	CategoryID  string
	StaffRoleID string
	Topic       string
}

// Message is a platform-neutral outbound message.
type Message struct {
	Content    string
	Embed      *Embed
	Components []Button
}

// Embed is a rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
	Thumbnail   string
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// ButtonStyle mirrors the platform button styles the bot uses.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonDanger
)

type Button struct {
	Label    string
	CustomID string
	Style    ButtonStyle
}

const closeTicketPrefix = "close_ticket:"

// CloseTicketID builds the custom id of the close button for candidateID.
func CloseTicketID(candidateID string) string {
	return closeTicketPrefix + candidateID
}

// ParseCloseTicketID extracts the candidate id from a close button custom id.
func ParseCloseTicketID(customID string) (string, bool) {
	if !strings.HasPrefix(customID, closeTicketPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(customID, closeTicketPrefix)
	return id, id != ""
}

// TicketChannelPrefix starts the name of every ticket channel.
const TicketChannelPrefix = "wl-"

// Ticket channel names are capped by the platform at 100 characters; the
// display-name part keeps them short and readable.
const maxNamePart = 20

// TicketChannelName builds "wl-<display name>-<last 4 of id>". The display
// name is lowercased, every character outside [a-z0-9] becomes '-', and the
// result is cut to 20 characters.
func TicketChannelName(displayName, candidateID string) string {
	name := strings.ToLower(displayName)
	if name == "" {
		name = "candidate"
	}
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
		if b.Len() >= maxNamePart {
			break
		}
	}
	suffix := candidateID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return TicketChannelPrefix + b.String() + "-" + suffix
}

// Truncate cuts s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Mention formats a user mention.
func Mention(userID string) string { return "<@" + userID + ">" }

// RoleMention formats a role mention.
func RoleMention(roleID string) string { return "<@&" + roleID + ">" }
