package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSTextGateway delivers the text/SMS channel via AWS SNS.
type SNSTextGateway struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSTextGateway creates an SNS-backed SMS gateway.
func NewSNSTextGateway(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTextGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSTextGateway{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// SendText publishes an SMS to the recipient's phone number.
func (g *SNSTextGateway) SendText(ctx context.Context, recipient, message string) (*Result, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(message),
	}

	result, err := g.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	g.logger.Info("SMS sent via SNS",
		zap.String("phone_number", recipient),
		zap.String("message_id", *result.MessageId),
	)

	raw, _ := json.Marshal(map[string]string{"message_id": *result.MessageId})
	return &Result{Success: true, MessageID: *result.MessageId, Raw: raw}, nil
}

// SendTextWithAttachment appends the attachment's public URL to the
// message; SMS has no native attachment support.
func (g *SNSTextGateway) SendTextWithAttachment(ctx context.Context, recipient, message, filePath string) (*Result, error) {
	if filePath != "" {
		message = message + "\n" + filePath
	}
	return g.SendText(ctx, recipient, message)
}
