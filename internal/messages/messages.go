// Package messages builds the embeds the bot posts in tickets and DMs.
package messages

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/platform"
)

// Platform embed limits.
const (
	maxFieldValue   = 1024
	maxDescription  = 4096
	shortFieldValue = 512
)

// EmptyContent replaces a relayed message that carried no text.
const EmptyContent = "*[message without text]*"

const placeholder = "—"

// Builder renders messages with the community's wording.
type Builder struct {
	Community   string
	StaffRoleID string
	now         func() time.Time
}

func NewBuilder(community, staffRoleID string) *Builder {
	return &Builder{Community: community, StaffRoleID: staffRoleID, now: time.Now}
}

// WithClock returns a copy of b that stamps embeds with now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	c := *b
	c.now = now
	return &c
}

// TicketIntro is the first message of a ticket: a staff mention, the
// application card and the close button.
func (b *Builder) TicketIntro(app *application.Application) platform.Message {
	content := "New whitelist application"
	if b.StaffRoleID != "" {
		content = platform.RoleMention(b.StaffRoleID) + " " + content
	}
	return platform.Message{
		Content: content,
		Embed:   b.ApplicationCard(app),
		Components: []platform.Button{{
			Label:    "Close ticket",
			CustomID: platform.CloseTicketID(app.CandidateID),
			Style:    platform.ButtonDanger,
		}},
	}
}

// ApplicationCard renders every answer of an application for staff.
func (b *Builder) ApplicationCard(app *application.Application) *platform.Embed {
	avatar := avatarOr(app.Profile.AvatarURL)
	character := fmt.Sprintf("**%s**, %s y/o, origin: %s",
		orPlaceholder(app.CharacterName()),
		orPlaceholder(app.Field(application.FieldCharacterAge)),
		orPlaceholder(app.Field(application.FieldCharacterOrigin)))

	return &platform.Embed{
		Color:      platform.ColorBrand,
		AuthorName: "Whitelist application - " + app.DisplayNameOr(app.CandidateID),
		AuthorIcon: avatar,
		Thumbnail:  avatar,
		Fields: []platform.EmbedField{
			{Name: "Screening score", Value: scoreLine(app.Score), Inline: true},
			{Name: "Discord", Value: platform.Mention(app.CandidateID), Inline: true},
			{Name: "First name", Value: field(app, application.FieldFirstName, maxFieldValue), Inline: true},
			{Name: "Age", Value: field(app, application.FieldAge, maxFieldValue), Inline: true},
			{Name: "Availability", Value: field(app, application.FieldAvailability, maxFieldValue), Inline: true},
			{Name: "Role-play experience", Value: field(app, application.FieldExperience, maxFieldValue), Inline: true},
			{Name: "Why " + b.Community + "?", Value: field(app, application.FieldMotivation, maxFieldValue)},
			{Name: "Character", Value: platform.Truncate(character, maxFieldValue)},
			{Name: "Qualities", Value: field(app, application.FieldQualities, shortFieldValue), Inline: true},
			{Name: "Flaws", Value: field(app, application.FieldFlaws, shortFieldValue), Inline: true},
			{Name: "Backstory", Value: field(app, application.FieldBackstory, maxFieldValue)},
			{Name: "Goals", Value: field(app, application.FieldGoals, shortFieldValue)},
		},
		Footer:    b.Community + " · Application · Reply in this channel, the candidate is notified by DM",
		Timestamp: b.now(),
	}
}

// Confirmation is the DM sent to a candidate once their application is stored.
func (b *Builder) Confirmation(app *application.Application) platform.Message {
	desc := strings.Join([]string{
		"Hello **" + app.DisplayNameOr("there") + "**,",
		"",
		"The " + b.Community + " staff received your whitelist application.",
		"We will review it and get back to you as soon as possible.",
		"",
		"**Summary of your application:**",
	}, "\n")

	return platform.Message{Embed: &platform.Embed{
		Title:       "Application received",
		Description: desc,
		Color:       platform.ColorBrand,
		Fields: []platform.EmbedField{
			{Name: "Screening score", Value: scoreLine(app.Score), Inline: true},
			{Name: "Character", Value: orPlaceholder(app.CharacterName()), Inline: true},
			{Name: "Character age", Value: orPlaceholder(app.Field(application.FieldCharacterAge)), Inline: true},
			{Name: "Origin", Value: orPlaceholder(app.Field(application.FieldCharacterOrigin)), Inline: true},
			{Name: "Why us?", Value: field(app, application.FieldMotivation, shortFieldValue)},
			{Name: "Backstory", Value: field(app, application.FieldBackstory, shortFieldValue)},
		},
		Footer:    b.Community + " · Reply to this DM to talk to the staff",
		Timestamp: b.now(),
	}}
}

// CandidateReply relays a candidate DM into their ticket.
func (b *Builder) CandidateReply(name, avatar, content string) platform.Message {
	return platform.Message{Embed: &platform.Embed{
		Color:       platform.ColorBrand,
		AuthorName:  name + " - Candidate",
		AuthorIcon:  avatarOr(avatar),
		Description: relayContent(content),
		Footer:      b.Community + " · Candidate reply via DM",
		Timestamp:   b.now(),
	}}
}

// StaffMessage relays a staff message into the candidate's DM, keeping the
// original send time.
func (b *Builder) StaffMessage(name, avatar, content string, sentAt time.Time) platform.Message {
	if sentAt.IsZero() {
		sentAt = b.now()
	}
	return platform.Message{Embed: &platform.Embed{
		Color:       platform.ColorBrand,
		AuthorName:  name + " - Staff",
		AuthorIcon:  avatarOr(avatar),
		Description: relayContent(content),
		Footer:      b.Community + " · Staff message",
		Timestamp:   sentAt,
	}}
}

// TicketClosedNotice is posted in the ticket before it is deleted.
func (b *Builder) TicketClosedNotice(actor string, delay time.Duration) platform.Message {
	return platform.Message{Embed: &platform.Embed{
		Title:       "Ticket closed",
		Description: fmt.Sprintf("Closed by %s. This channel will be deleted in %s.", orPlaceholder(actor), delay),
		Color:       platform.ColorBrand,
		Timestamp:   b.now(),
	}}
}

// TicketClosedDM tells the candidate the conversation is over.
func (b *Builder) TicketClosedDM() platform.Message {
	return platform.Message{Embed: &platform.Embed{
		Title:       "Ticket closed",
		Description: "The staff closed your application ticket. Messages sent here are no longer forwarded.",
		Color:       platform.ColorBrand,
		Footer:      b.Community,
		Timestamp:   b.now(),
	}}
}

// Approved is the outcome DM for a whitelisted candidate.
func (b *Builder) Approved(app *application.Application) platform.Message {
	lines := []string{
		"Hello **" + app.DisplayNameOr("there") + "**,",
		"",
		"After reviewing your application, the " + b.Community + " staff granted your **whitelist**.",
		"",
		"You can now join the server and start your story.",
	}
	if name := app.CharacterName(); name != "" {
		lines = append(lines, "", "> **Character:** "+name)
	}
	if app.Score > 0 {
		lines = append(lines, "> **Screening score:** "+scoreLine(app.Score))
	}
	return platform.Message{Embed: &platform.Embed{
		Title:       "Congratulations, you are whitelisted!",
		Description: platform.Truncate(strings.Join(lines, "\n"), maxDescription),
		Color:       platform.ColorSuccess,
		Footer:      b.Community + " · Have fun!",
		Timestamp:   b.now(),
	}}
}

// Rejected is the outcome DM for a blacklisted candidate.
func (b *Builder) Rejected(reason string) platform.Message {
	desc := strings.Join([]string{
		"Your whitelist request on **" + b.Community + "** was **declined**.",
		"",
		"> **Reason:** " + reason,
		"",
		"If you believe this is a mistake, open a ticket on our server and explain your situation.",
	}, "\n")
	return platform.Message{Embed: &platform.Embed{
		Title:       "Whitelist declined",
		Description: platform.Truncate(desc, maxDescription),
		Color:       platform.ColorBrand,
		Footer:      b.Community,
		Timestamp:   b.now(),
	}}
}

// Reply is a short ephemeral answer to a staff command.
func (b *Builder) Reply(title, description string, color int) platform.Message {
	return platform.Message{Embed: &platform.Embed{
		Title:       title,
		Description: platform.Truncate(description, maxDescription),
		Color:       color,
		Timestamp:   b.now(),
	}}
}

func field(app *application.Application, key string, limit int) string {
	return platform.Truncate(orPlaceholder(app.Field(key)), limit)
}

func relayContent(content string) string {
	if strings.TrimSpace(content) == "" {
		return EmptyContent
	}
	return platform.Truncate(content, maxDescription)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

func avatarOr(url string) string {
	if url == "" {
		return platform.DefaultAvatarURL
	}
	return url
}

// MaxScore is the top score of the pre-screen quiz.
const MaxScore = 20

func scoreLine(score int) string {
	return strconv.Itoa(score) + " / " + strconv.Itoa(MaxScore)
}
