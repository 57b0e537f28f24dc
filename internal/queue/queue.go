// Package queue carries send requests over SQS so the originating
// business operation never blocks on notification delivery. The API
// enqueues; a consumer loop in the worker drains the queue into the
// dispatcher.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/dispatch"
	"github.com/coverly/courier/internal/metrics"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the payload carried over SQS.
type Message struct {
	Request    dispatch.SendRequest `json:"request"`
	EnqueuedAt int64                `json:"enqueued_at"`
}

// Producer enqueues send requests.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates an SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Enqueue sends a request to SQS for asynchronous dispatch. Returns the
// SQS message ID.
func (p *Producer) Enqueue(ctx context.Context, req dispatch.SendRequest) (string, error) {
	msg := Message{
		Request:    req,
		EnqueuedAt: time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("type_code", req.TypeCode),
			zap.String("channel", req.Channel),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// Consumer drains send requests from SQS into the dispatcher.
type Consumer struct {
	client     *sqs.Client
	queueURL   string
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewConsumer creates an SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, dispatcher *dispatch.Dispatcher, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:     client,
		queueURL:   cfg.QueueURL,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Run long-polls the queue until the context is canceled. Each message
// is dispatched and deleted; outcomes are recorded in the delivery log
// by the dispatcher itself, so a message is deleted even when the send
// fails (the sweeper owns retries, not SQS redelivery).
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("queue consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopping")
			return
		default:
		}

		msg, receipt, err := c.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to receive from sqs", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		metrics.SetQueueMessagesInFlight(1)
		outcome := c.dispatcher.Send(ctx, msg.Request)
		metrics.SetQueueMessagesInFlight(0)

		if !outcome.Success {
			c.logger.Warn("queued send did not succeed",
				zap.String("type_code", msg.Request.TypeCode),
				zap.String("channel", msg.Request.Channel),
				zap.String("reason", outcome.Reason),
			)
		}

		if err := c.delete(ctx, receipt); err != nil {
			c.logger.Error("failed to delete sqs message", zap.Error(err))
		}
	}
}

func (c *Consumer) receive(ctx context.Context) (*Message, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	raw := result.Messages[0]

	var msg Message
	if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
		// Poison message: log and drop so it does not loop forever.
		c.logger.Error("dropping malformed queue message", zap.Error(err))
		if delErr := c.delete(ctx, *raw.ReceiptHandle); delErr != nil {
			c.logger.Error("failed to delete malformed message", zap.Error(delErr))
		}
		return nil, "", nil
	}

	return &msg, *raw.ReceiptHandle, nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := c.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}
