package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChatHTTPGateway delivers the chat channel through a WhatsApp-style
// HTTP message gateway.
type ChatHTTPGateway struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewChatHTTPGateway creates a chat gateway client.
func NewChatHTTPGateway(cfg ChatConfig, logger *zap.Logger) *ChatHTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ChatHTTPGateway{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type chatRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	MediaURL string `json:"media_url,omitempty"`
}

type chatResponse struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// SendText posts a chat message to the gateway.
func (g *ChatHTTPGateway) SendText(ctx context.Context, recipient, message string) (*Result, error) {
	return g.post(ctx, chatRequest{To: recipient, Message: message})
}

// SendTextWithAttachment posts a chat message with a media attachment.
func (g *ChatHTTPGateway) SendTextWithAttachment(ctx context.Context, recipient, message, filePath string) (*Result, error) {
	return g.post(ctx, chatRequest{To: recipient, Message: message, MediaURL: filePath})
}

func (g *ChatHTTPGateway) post(ctx context.Context, payload chatRequest) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat gateway response: %w", err)
	}

	if !parsed.Sent {
		return &Result{Success: false, Raw: raw}, fmt.Errorf("chat gateway rejected message: %s", parsed.Error)
	}

	g.logger.Info("chat message sent",
		zap.String("to", payload.To),
		zap.String("message_id", parsed.MessageID),
	)

	return &Result{Success: true, MessageID: parsed.MessageID, Raw: raw}, nil
}
