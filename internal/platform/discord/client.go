// Package discord implements platform.Platform and the event gateway over a
// discordgo session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whitelist-bot/internal/common/config"
	"whitelist-bot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

// Intents the bot needs: guild and DM messages with their content, and
// member lookups for role sync.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// NewSession builds an unopened session for the configured bot.
func NewSession(cfg config.DiscordConfig) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	if cfg.RequestTimeout > 0 {
		s.Client.Timeout = cfg.RequestTimeout
	}
	return s, nil
}

// Client is the REST side of the platform. Every call is bounded by the
// configured request timeout and never retried on failure.
type Client struct {
	session *discordgo.Session
	guildID string
	timeout time.Duration
}

var _ platform.Platform = (*Client)(nil)

func NewClient(session *discordgo.Session, guildID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{session: session, guildID: guildID, timeout: timeout}
}

func (c *Client) opts(ctx context.Context) (context.Context, context.CancelFunc, []discordgo.RequestOption) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, []discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(0),
	}
}

func (c *Client) BotUserID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) ResolveChannel(ctx context.Context, channelID string) error {
	if ch, err := c.session.State.Channel(channelID); err == nil && ch != nil {
		return nil
	}
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	_, err := c.session.Channel(channelID, opts...)
	return mapError(err)
}

func (c *Client) CreateTicketChannel(ctx context.Context, spec platform.TicketSpec) (string, error) {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	ch, err := c.session.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.CategoryID,
		PermissionOverwrites: ticketOverwrites(c.guildID, spec.StaffRoleID),
	}, opts...)
	if err != nil {
		return "", mapError(err)
	}
	return ch.ID, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	_, err := c.session.ChannelDelete(channelID, opts...)
	return mapError(err)
}

func (c *Client) SendToChannel(ctx context.Context, channelID string, msg platform.Message) error {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	_, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), opts...)
	return mapError(err)
}

// SendDirect opens (or reuses) the DM channel and sends into it. Both calls
// share one timeout.
func (c *Client) SendDirect(ctx context.Context, userID string, msg platform.Message) error {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	dm, err := c.session.UserChannelCreate(userID, opts...)
	if err != nil {
		return mapError(err)
	}
	_, err = c.session.ChannelMessageSendComplex(dm.ID, toMessageSend(msg), opts...)
	return mapError(err)
}

func (c *Client) MemberExists(ctx context.Context, userID string) (bool, error) {
	if m, err := c.session.State.Member(c.guildID, userID); err == nil && m != nil {
		return true, nil
	}
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	_, err := c.session.GuildMember(c.guildID, userID, opts...)
	if err != nil {
		if errors.Is(mapError(err), platform.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) AddRole(ctx context.Context, userID, roleID string) error {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	return mapError(c.session.GuildMemberRoleAdd(c.guildID, userID, roleID, opts...))
}

func (c *Client) RemoveRole(ctx context.Context, userID, roleID string) error {
	ctx, cancel, opts := c.opts(ctx)
	defer cancel()
	return mapError(c.session.GuildMemberRoleRemove(c.guildID, userID, roleID, opts...))
}
