// Package bot binds platform events to the relay and the staff decisions.
package bot

import (
	"context"
	"fmt"
	"strings"

	apperrors "whitelist-bot/internal/common/errors"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/decision"
	"whitelist-bot/internal/effects"
	"whitelist-bot/internal/events"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/platform"
	"whitelist-bot/internal/relay"
)

type Relay interface {
	FromCandidate(ctx context.Context, msg relay.CandidateMessage) (relay.Result, error)
	FromStaff(ctx context.Context, msg relay.StaffMessage) (relay.Result, error)
	Close(ctx context.Context, req relay.CloseRequest) (effects.Report, error)
}

type Decisions interface {
	Approve(ctx context.Context, req decision.ApproveRequest) (decision.Result, error)
	Reject(ctx context.Context, req decision.RejectRequest) (decision.Result, error)
}

// Handlers implements the dispatch table of the bot.
type Handlers struct {
	relay     Relay
	decisions Decisions
	messages  *messages.Builder
	logger    logger.Logger
}

func NewHandlers(r Relay, d Decisions, msgs *messages.Builder, log logger.Logger) *Handlers {
	return &Handlers{
		relay:     r,
		decisions: d,
		messages:  msgs,
		logger:    logger.Component(log, "bot"),
	}
}

// Register installs every handler on d.
func (h *Handlers) Register(d *events.Dispatcher) {
	d.Register(events.KindDirectMessage, h.handleDirectMessage)
	d.Register(events.KindGuildMessage, h.handleGuildMessage)
	d.Register(events.KindButton, h.handleButton)
	d.Register(events.KindCommand, h.handleCommand)
}

func (h *Handlers) handleDirectMessage(ctx context.Context, ev events.Event) error {
	msg, ok := ev.(events.Message)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}
	_, err := h.relay.FromCandidate(ctx, relay.CandidateMessage{
		AuthorID:    msg.Author.ID,
		DisplayName: msg.Author.DisplayName,
		AvatarURL:   msg.Author.AvatarURL,
		Bot:         msg.Author.Bot,
		Content:     msg.Content,
	})
	return err
}

func (h *Handlers) handleGuildMessage(ctx context.Context, ev events.Event) error {
	msg, ok := ev.(events.Message)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}
	_, err := h.relay.FromStaff(ctx, relay.StaffMessage{
		ChannelID:   msg.ChannelID,
		AuthorID:    msg.Author.ID,
		DisplayName: msg.Author.DisplayName,
		AvatarURL:   msg.Author.AvatarURL,
		Bot:         msg.Author.Bot,
		Content:     msg.Content,
		SentAt:      msg.SentAt,
	})
	return err
}

func (h *Handlers) handleButton(ctx context.Context, ev events.Event) error {
	btn, ok := ev.(events.Button)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}
	candidateID, ok := platform.ParseCloseTicketID(btn.CustomID)
	if !ok {
		h.logger.Debug("ignoring unknown button", map[string]interface{}{"customId": btn.CustomID})
		return nil
	}

	report, err := h.relay.Close(ctx, relay.CloseRequest{
		CandidateID: candidateID,
		ChannelID:   btn.ChannelID,
		ClosedBy:    platform.Mention(btn.Actor.ID),
	})
	var reply platform.Message
	switch {
	case err != nil:
		reply = h.failureReply(err, candidateID)
	case !report.StateChanged:
		reply = h.messages.Reply("Already closed", "This ticket is already closed.", platform.ColorWarning)
	default:
		reply = h.messages.Reply("Ticket closed", withFailures("The channel will be deleted shortly.", report), platform.ColorSuccess)
	}
	return h.respond(ctx, btn.Respond, reply, err)
}

func (h *Handlers) handleCommand(ctx context.Context, ev events.Event) error {
	cmd, ok := ev.(events.Command)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}
	candidateID := cmd.Option(events.OptionCandidate)
	log := h.logger.WithFields(map[string]interface{}{
		"command":     cmd.Name,
		"candidateId": candidateID,
		"actor":       cmd.Actor.ID,
	})

	var (
		reply platform.Message
		err   error
	)
	switch cmd.Name {
	case events.CommandApprove:
		var res decision.Result
		res, err = h.decisions.Approve(ctx, decision.ApproveRequest{
			CandidateID: candidateID,
			Approver:    cmd.Actor.ID,
		})
		if err == nil {
			reply = h.messages.Reply("Candidate whitelisted",
				withFailures(platform.Mention(candidateID)+" is now whitelisted.", res.Report), platform.ColorSuccess)
		}
	case events.CommandReject:
		var res decision.Result
		res, err = h.decisions.Reject(ctx, decision.RejectRequest{
			CandidateID: candidateID,
			Approver:    cmd.Actor.ID,
			Reason:      cmd.Option(events.OptionReason),
		})
		if err == nil {
			reason := decision.DefaultRejectReason
			if res.Application != nil && res.Application.BlacklistReason != "" {
				reason = res.Application.BlacklistReason
			}
			reply = h.messages.Reply("Candidate blacklisted",
				withFailures(platform.Mention(candidateID)+" was blacklisted.\n> **Reason:** "+reason, res.Report), platform.ColorBrand)
		}
	default:
		log.Debug("ignoring unknown command", nil)
		return nil
	}

	if err != nil {
		log.Info("command refused", map[string]interface{}{"code": string(apperrors.CodeOf(err))})
		reply = h.failureReply(err, candidateID)
	}
	return h.respond(ctx, cmd.Respond, reply, err)
}

// failureReply maps a lifecycle error to what the staff member sees.
func (h *Handlers) failureReply(err error, candidateID string) platform.Message {
	se := apperrors.Normalize(err)
	switch se.Code {
	case apperrors.ErrCodeNotFound:
		return h.messages.Reply("Not found", "No submitted application for "+platform.Mention(candidateID)+".", platform.ColorWarning)
	case apperrors.ErrCodeAlreadyProcessed:
		return h.messages.Reply("Already whitelisted", platform.Mention(candidateID)+" is already whitelisted.", platform.ColorWarning)
	case apperrors.ErrCodeValidationFailed:
		return h.messages.Reply("Invalid request", se.Details, platform.ColorWarning)
	}
	return h.messages.Reply("Error", "Something went wrong, check the bot logs.", platform.ColorBrand)
}

// respond sends the reply and returns the operation error when it is not
// an expected refusal, so the dispatcher logs it.
func (h *Handlers) respond(ctx context.Context, respond events.Responder, reply platform.Message, opErr error) error {
	if respond != nil {
		if err := respond(ctx, reply); err != nil {
			h.logger.Warn("failed to reply to interaction", map[string]interface{}{"error": err.Error()})
		}
	}
	if opErr == nil {
		return nil
	}
	switch apperrors.CodeOf(opErr) {
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeAlreadyProcessed, apperrors.ErrCodeValidationFailed:
		return nil
	}
	return opErr
}

func withFailures(text string, report effects.Report) string {
	failed := report.Failed()
	if len(failed) == 0 {
		return text
	}
	return text + "\n\nSome steps failed: `" + strings.Join(failed, "`, `") + "`"
}
