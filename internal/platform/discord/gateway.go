package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/events"
	"whitelist-bot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

// Dispatcher accepts converted gateway events.
type Dispatcher interface {
	Dispatch(ev events.Event) error
}

// GatewayConfig scopes which guild traffic is turned into events.
type GatewayConfig struct {
	AppID      string
	GuildID    string
	CategoryID string
	Timeout    time.Duration
}

// Gateway subscribes to the session and feeds the dispatcher. Interaction
// acknowledgements happen here, before dispatch, because the platform gives
// only a few seconds to answer.
type Gateway struct {
	session    *discordgo.Session
	dispatcher Dispatcher
	cfg        GatewayConfig
	logger     logger.Logger

	mu       sync.Mutex
	removers []func()
}

func NewGateway(session *discordgo.Session, d Dispatcher, cfg GatewayConfig, log logger.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Gateway{
		session:    session,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger.Component(log, "discord-gateway"),
	}
}

// Start registers the handlers, opens the websocket and installs the slash
// commands for the guild. It may be retried after a failure.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if len(g.removers) == 0 {
		g.removers = append(g.removers,
			g.session.AddHandler(g.onReady),
			g.session.AddHandler(g.onMessageCreate),
			g.session.AddHandler(g.onInteractionCreate),
		)
	}
	g.mu.Unlock()

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	if err := g.RegisterCommands(); err != nil {
		_ = g.session.Close()
		return err
	}
	return nil
}

// Stop removes the handlers and closes the websocket.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil
	g.mu.Unlock()
	return g.session.Close()
}

// Commands returns the slash command definitions installed by
// RegisterCommands.
func Commands() []*discordgo.ApplicationCommand {
	perm := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     events.CommandApprove,
			Description:              "Whitelist a candidate with a submitted application",
			DefaultMemberPermissions: &perm,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        events.OptionCandidate,
				Description: "Discord ID of the candidate",
				Required:    true,
			}},
		},
		{
			Name:                     events.CommandReject,
			Description:              "Reject and blacklist a candidate",
			DefaultMemberPermissions: &perm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        events.OptionCandidate,
					Description: "Discord ID of the candidate",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        events.OptionReason,
					Description: "Reason shown to the candidate",
				},
			},
		},
	}
}

func (g *Gateway) RegisterCommands() error {
	appID := g.cfg.AppID
	if appID == "" && g.session.State != nil && g.session.State.User != nil {
		appID = g.session.State.User.ID
	}
	if appID == "" {
		return errors.New("discord application id unknown, cannot register commands")
	}
	cmds, err := g.session.ApplicationCommandBulkOverwrite(appID, g.cfg.GuildID, Commands())
	if err != nil {
		return fmt.Errorf("failed to register slash commands: %w", err)
	}
	g.logger.Info("slash commands registered", map[string]interface{}{"count": len(cmds)})
	return nil
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	fields := map[string]interface{}{"guilds": len(r.Guilds)}
	if r.User != nil {
		fields["user"] = r.User.String()
	}
	g.logger.Info("discord gateway ready", fields)
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ev, ok := messageEvent(m.Message, g.cfg.GuildID, func(channelID string) bool {
		return g.inTicketCategory(s, channelID)
	})
	if !ok {
		return
	}
	if err := g.dispatcher.Dispatch(ev); err != nil {
		g.logger.Warn("message not dispatched", map[string]interface{}{
			"channel": ev.ChannelID,
			"error":   err.Error(),
		})
	}
}

func (g *Gateway) inTicketCategory(s *discordgo.Session, channelID string) bool {
	ch, err := s.State.Channel(channelID)
	if err != nil || ch == nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
		defer cancel()
		ch, err = s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			g.logger.Debug("channel lookup failed", map[string]interface{}{
				"channel": channelID,
				"error":   err.Error(),
			})
			return false
		}
	}
	return isTicketChannel(ch, g.cfg.CategoryID)
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID != "" && i.GuildID != g.cfg.GuildID {
		return
	}
	respond := g.responder(s, i.Interaction)
	ev, ok := interactionEvent(i.Interaction, respond)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
	defer cancel()
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		g.logger.Warn("failed to acknowledge interaction", map[string]interface{}{
			"interaction": i.ID,
			"error":       err.Error(),
		})
		return
	}

	if err := g.dispatcher.Dispatch(ev); err != nil {
		g.logger.Warn("interaction not dispatched", map[string]interface{}{
			"interaction": i.ID,
			"error":       err.Error(),
		})
		_ = respond(ctx, busyReply())
	}
}

// responder edits the deferred ephemeral reply of interaction.
func (g *Gateway) responder(s *discordgo.Session, interaction *discordgo.Interaction) events.Responder {
	return func(ctx context.Context, msg platform.Message) error {
		ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		content := msg.Content
		embeds := toEmbeds(msg)
		edit := &discordgo.WebhookEdit{Content: &content, Embeds: &embeds}
		if comps := toComponents(msg.Components); comps != nil {
			edit.Components = &comps
		}
		_, err := s.InteractionResponseEdit(interaction, edit, discordgo.WithContext(ctx))
		return mapError(err)
	}
}

// interactionEvent converts button clicks and slash commands. Other
// interaction types are ignored.
func interactionEvent(i *discordgo.Interaction, respond events.Responder) (events.Event, bool) {
	if i == nil {
		return nil, false
	}
	actor := authorFrom(i.User, i.Member)
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		return events.Button{
			ChannelID: i.ChannelID,
			CustomID:  i.MessageComponentData().CustomID,
			Actor:     actor,
			Respond:   respond,
		}, true
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		return events.Command{
			ChannelID: i.ChannelID,
			Name:      data.Name,
			Options:   commandOptions(data),
			Actor:     actor,
			Respond:   respond,
		}, true
	}
	return nil, false
}

func busyReply() platform.Message {
	return platform.Message{Embed: &platform.Embed{
		Title:       "Busy",
		Description: "The bot is handling too many requests, try again in a moment.",
		Color:       platform.ColorWarning,
	}}
}
