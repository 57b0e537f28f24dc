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

// PushHTTPGateway delivers the push channel through an FCM-style HTTP
// gateway that fans out to device tokens.
type PushHTTPGateway struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

type PushConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewPushHTTPGateway creates a push gateway client.
func NewPushHTTPGateway(cfg PushConfig, logger *zap.Logger) *PushHTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &PushHTTPGateway{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type pushRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Results   []struct {
		Token   string `json:"token"`
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	} `json:"results"`
}

// SendPush posts a notification for the given device tokens. The result
// carries per-token outcomes; the call succeeds when at least one token
// was accepted.
func (g *PushHTTPGateway) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) (*Result, error) {
	payload, err := json.Marshal(pushRequest{Tokens: tokens, Title: title, Body: body, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/push", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed pushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode push gateway response: %w", err)
	}

	perToken := make(map[string]bool, len(parsed.Results))
	delivered := 0
	for _, r := range parsed.Results {
		perToken[r.Token] = r.Success
		if r.Success {
			delivered++
		}
	}

	result := &Result{
		Success:   delivered > 0,
		MessageID: parsed.MessageID,
		Raw:       raw,
		PerToken:  perToken,
	}

	if delivered == 0 {
		return result, fmt.Errorf("push gateway accepted no tokens (%d attempted)", len(tokens))
	}

	g.logger.Info("push notification sent",
		zap.Int("tokens", len(tokens)),
		zap.Int("delivered", delivered),
		zap.String("message_id", parsed.MessageID),
	)

	return result, nil
}
