// Package events publishes send outcomes to an SNS topic so downstream
// systems (dashboards, CRM sync) can react without polling the
// delivery log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

// OutcomeEvent is the published payload for one send outcome.
type OutcomeEvent struct {
	LogID      string `json:"log_id"`
	Channel    string `json:"channel"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

// Publisher publishes outcome events to an SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

// NewPublisher creates an SNS publisher for the given topic.
func NewPublisher(ctx context.Context, topicARN, region string) (*Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// PublishSendOutcome publishes one outcome with the channel as a message
// attribute so subscribers can filter without parsing the body.
func (p *Publisher) PublishSendOutcome(ctx context.Context, logID uuid.UUID, channel, reason string) error {
	event := OutcomeEvent{
		LogID:      logID.String(),
		Channel:    channel,
		Reason:     reason,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(channel),
			},
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return nil
}
