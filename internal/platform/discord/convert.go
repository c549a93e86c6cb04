package discord

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"whitelist-bot/internal/events"
	"whitelist-bot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

// isNotFound reports whether err is a REST 404.
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// mapError turns REST 404s into platform.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return errors.Join(platform.ErrNotFound, err)
	}
	return err
}

func toEmbed(e *platform.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon}
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func toEmbeds(msg platform.Message) []*discordgo.MessageEmbed {
	if msg.Embed == nil {
		return []*discordgo.MessageEmbed{}
	}
	return []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
}

func toComponents(buttons []platform.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		style := discordgo.PrimaryButton
		if b.Style == platform.ButtonDanger {
			style = discordgo.DangerButton
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    style,
			CustomID: b.CustomID,
		})
	}
	return []discordgo.MessageComponent{row}
}

func toMessageSend(msg platform.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg),
		Components: toComponents(msg.Components),
	}
}

// ticketOverwrites hides the channel from @everyone, whose role id is the
// guild id, and opens it to staff. The candidate gets no overwrite at all.
func ticketOverwrites(guildID, staffRoleID string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{{
		ID:   guildID,
		Type: discordgo.PermissionOverwriteTypeRole,
		Deny: discordgo.PermissionViewChannel,
	}}
	if staffRoleID != "" {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:   staffRoleID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel |
				discordgo.PermissionSendMessages |
				discordgo.PermissionReadMessageHistory |
				discordgo.PermissionManageMessages,
		})
	}
	return out
}

// authorFrom prefers the guild nickname, then the global name, then the
// username.
func authorFrom(u *discordgo.User, m *discordgo.Member) events.Author {
	if u == nil && m != nil {
		u = m.User
	}
	if u == nil {
		return events.Author{}
	}
	name := u.Username
	if u.GlobalName != "" {
		name = u.GlobalName
	}
	if m != nil && m.Nick != "" {
		name = m.Nick
	}
	return events.Author{
		ID:          u.ID,
		Tag:         u.String(),
		DisplayName: name,
		AvatarURL:   u.AvatarURL(""),
		Bot:         u.Bot,
	}
}

// messageEvent converts a gateway message. Guild messages are only kept when
// inTicket reports their channel as a ticket channel.
func messageEvent(m *discordgo.Message, guildID string, inTicket func(channelID string) bool) (events.Message, bool) {
	if m == nil || m.Author == nil {
		return events.Message{}, false
	}
	direct := m.GuildID == ""
	if !direct && (m.GuildID != guildID || !inTicket(m.ChannelID)) {
		return events.Message{}, false
	}
	return events.Message{
		Direct:    direct,
		ChannelID: m.ChannelID,
		Author:    authorFrom(m.Author, m.Member),
		Content:   m.Content,
		SentAt:    m.Timestamp,
	}, true
}

// isTicketChannel checks a channel against the ticket category and prefix.
func isTicketChannel(ch *discordgo.Channel, categoryID string) bool {
	return ch != nil && ch.ParentID == categoryID && strings.HasPrefix(ch.Name, platform.TicketChannelPrefix)
}

func commandOptions(data discordgo.ApplicationCommandInteractionData) map[string]string {
	out := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			out[opt.Name] = strings.TrimSpace(opt.StringValue())
		}
	}
	return out
}
