package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the part of the SES client the mailer uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// ErrNoRecipients is returned when no staff address is configured.
var ErrNoRecipients = errors.New("no staff email recipients configured")

const (
	submissionSubject = "New whitelist application: {{displayName}}"
	submissionBody    = `A new whitelist application was submitted on {{community}}.

Candidate: {{displayName}} ({{candidateId}})
Character: {{character}}
Screening score: {{score}}

Review it in the ticket channel {{ticketChannel}}.`
)

// SESMailer emails staff when an application is submitted.
type SESMailer struct {
	client    SESService
	from      string
	to        []string
	community string
	logger    logger.Logger
}

func NewSESMailer(client SESService, from string, to []string, community string, log logger.Logger) *SESMailer {
	return &SESMailer{
		client:    client,
		from:      from,
		to:        to,
		community: community,
		logger:    logger.Component(log, "notify.ses"),
	}
}

func (m *SESMailer) NotifySubmission(ctx context.Context, app *application.Application) error {
	if len(m.to) == 0 {
		return ErrNoRecipients
	}

	data := map[string]interface{}{
		"community":     m.community,
		"displayName":   app.DisplayNameOr(app.CandidateID),
		"candidateId":   app.CandidateID,
		"character":     app.CharacterName(),
		"score":         strconv.Itoa(app.Score),
		"ticketChannel": app.TicketChannelID,
	}
	subject := renderTemplate(submissionSubject, data)
	body := renderTemplate(submissionBody, data)

	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: m.to,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return fmt.Errorf("send staff email: %w", err)
	}

	m.logger.Debug("staff email sent", map[string]interface{}{
		"candidateId": app.CandidateID,
		"recipients":  len(m.to),
	})
	return nil
}

// renderTemplate replaces {{key}} placeholders and drops unknown ones.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}
