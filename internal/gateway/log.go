package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LogGateway logs sends instead of delivering them, for development and
// local runs. It implements all three gateway interfaces.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendText(ctx context.Context, recipient, message string) (*Result, error) {
	g.logger.Info("logging text send (development mode)",
		zap.String("to", recipient),
		zap.String("message", message),
	)
	return devResult(), nil
}

func (g *LogGateway) SendTextWithAttachment(ctx context.Context, recipient, message, filePath string) (*Result, error) {
	g.logger.Info("logging text send with attachment (development mode)",
		zap.String("to", recipient),
		zap.String("message", message),
		zap.String("attachment", filePath),
	)
	return devResult(), nil
}

func (g *LogGateway) SendEmail(ctx context.Context, recipient, subject, htmlBody string, attachmentPaths []string) (*Result, error) {
	g.logger.Info("logging email send (development mode)",
		zap.String("to", recipient),
		zap.String("subject", subject),
		zap.Int("attachments", len(attachmentPaths)),
	)
	return devResult(), nil
}

func (g *LogGateway) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) (*Result, error) {
	g.logger.Info("logging push send (development mode)",
		zap.Int("tokens", len(tokens)),
		zap.String("title", title),
	)
	result := devResult()
	result.PerToken = make(map[string]bool, len(tokens))
	for _, t := range tokens {
		result.PerToken[t] = true
	}
	return result, nil
}

func devResult() *Result {
	return &Result{
		Success:   true,
		MessageID: fmt.Sprintf("dev-%d", time.Now().UnixNano()),
	}
}
