package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESEmailGateway delivers the email channel via AWS SES.
type SESEmailGateway struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESEmailGateway creates an SES-backed email gateway.
func NewSESEmailGateway(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESEmailGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESEmailGateway{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// SendEmail sends an HTML email. Messages without attachments use the
// structured SendEmail API; attachments require a raw MIME message.
func (g *SESEmailGateway) SendEmail(ctx context.Context, recipient, subject, htmlBody string, attachmentPaths []string) (*Result, error) {
	if len(attachmentPaths) > 0 {
		return g.sendRaw(ctx, recipient, subject, htmlBody, attachmentPaths)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	g.logger.Info("email sent via SES",
		zap.String("to", recipient),
		zap.String("message_id", *result.MessageId),
	)

	raw, _ := json.Marshal(map[string]string{"message_id": *result.MessageId})
	return &Result{Success: true, MessageID: *result.MessageId, Raw: raw}, nil
}

func (g *SESEmailGateway) sendRaw(ctx context.Context, recipient, subject, htmlBody string, attachmentPaths []string) (*Result, error) {
	var buf bytes.Buffer
	boundary := "courier-mime-boundary"

	fmt.Fprintf(&buf, "From: %s\r\n", g.from)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n", htmlBody)

	for _, path := range attachmentPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", path, err)
		}

		name := filepath.Base(path)
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n", name)
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: base64\r\n\r\n")
		fmt.Fprintf(&buf, "%s\r\n", base64.StdEncoding.EncodeToString(data))
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	result, err := g.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		RawMessage: &types.RawMessage{Data: buf.Bytes()},
	})
	if err != nil {
		return nil, fmt.Errorf("ses raw send failed: %w", err)
	}

	g.logger.Info("email with attachments sent via SES",
		zap.String("to", recipient),
		zap.Int("attachments", len(attachmentPaths)),
		zap.String("message_id", *result.MessageId),
	)

	raw, _ := json.Marshal(map[string]string{"message_id": *result.MessageId})
	return &Result{Success: true, MessageID: *result.MessageId, Raw: raw}, nil
}
