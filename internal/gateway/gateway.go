// Package gateway holds the provider adapters behind the engine's
// abstract per-channel send capability. The dispatch core only sees
// these interfaces; wire-level concerns stay here.
package gateway

import (
	"context"
	"encoding/json"
)

// Result is the normalized outcome of one provider call.
type Result struct {
	Success   bool            `json:"success"`
	MessageID string          `json:"message_id,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	// PerToken carries per-device outcomes for push fan-out.
	PerToken map[string]bool `json:"per_token,omitempty"`
}

// TextGateway sends plain text messages. Both the chat and text/SMS
// channels are backed by a TextGateway implementation.
type TextGateway interface {
	SendText(ctx context.Context, recipient, message string) (*Result, error)
	SendTextWithAttachment(ctx context.Context, recipient, message, filePath string) (*Result, error)
}

// EmailGateway sends HTML email with optional attachments.
type EmailGateway interface {
	SendEmail(ctx context.Context, recipient, subject, htmlBody string, attachmentPaths []string) (*Result, error)
}

// PushGateway sends a push notification to one or more device tokens.
type PushGateway interface {
	SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) (*Result, error)
}
