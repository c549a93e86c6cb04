package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"whitelist-bot/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the part of the SNS client the publisher uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events as JSON with an eventType attribute so
// subscribers can filter.
type SNSPublisher struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewSNSPublisher(client SNSService, topicARN string, log logger.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger.Component(log, "notify.sns"),
	}
}

func (p *SNSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(string(ev.Type)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.logger.Debug("event published", map[string]interface{}{
		"eventId":     ev.ID,
		"type":        ev.Type,
		"candidateId": ev.CandidateID,
		"messageId":   aws.ToString(out.MessageId),
	})
	return nil
}
