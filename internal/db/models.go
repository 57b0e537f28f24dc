package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle status constants for a notification log.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Channel constants
const (
	ChannelChat  = "chat"
	ChannelEmail = "email"
	ChannelText  = "text"
	ChannelPush  = "push"
)

// Subject type constants name the business entity a notification is about.
const (
	SubjectCustomer  = "customer"
	SubjectPolicy    = "policy"
	SubjectQuotation = "quotation"
	SubjectClaim     = "claim"
)

// NotificationLog is one record per send attempt.
type NotificationLog struct {
	ID                uuid.UUID       `json:"id"`
	SubjectType       string          `json:"subject_type"`
	SubjectID         uuid.UUID       `json:"subject_id"`
	TypeCode          string          `json:"type_code"`
	Channel           string          `json:"channel"`
	Recipient         string          `json:"recipient"`
	Subject           *string         `json:"subject,omitempty"`
	Body              string          `json:"body"`
	Variables         json.RawMessage `json:"variables,omitempty"`
	Status            string          `json:"status"`
	TriggeredBy       string          `json:"triggered_by"`
	RetryCount        int             `json:"retry_count"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	LastError         *string         `json:"last_error,omitempty"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	ReadAt            *time.Time      `json:"read_at,omitempty"`
}

// TrackingEntry is one immutable record per lifecycle transition.
type TrackingEntry struct {
	ID             uuid.UUID       `json:"id"`
	LogID          uuid.UUID       `json:"log_id"`
	Status         string          `json:"status"`
	ProviderStatus json.RawMessage `json:"provider_status,omitempty"`
	Metadata       string          `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NotificationType is a static catalog entry.
type NotificationType struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Template is a per-(type, channel) content pattern.
type Template struct {
	ID        uuid.UUID `json:"id"`
	TypeCode  string    `json:"type_code"`
	Channel   string    `json:"channel"`
	Subject   *string   `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables,omitempty"`
	Active    bool      `json:"active"`
}

// RecipientPreferences holds a recipient's delivery preferences.
// A nil Channels slice means no explicit channel restriction.
type RecipientPreferences struct {
	RecipientID     uuid.UUID `json:"recipient_id"`
	Channels        []string  `json:"channels,omitempty"`
	OptOuts         []string  `json:"opt_outs,omitempty"`
	QuietHoursStart string    `json:"quiet_hours_start,omitempty"` // "HH:MM"
	QuietHoursEnd   string    `json:"quiet_hours_end,omitempty"`   // "HH:MM"
}

// StatusCounts aggregates log counts for one (status, channel) pair.
type StatusCounts struct {
	Status  string `json:"status"`
	Channel string `json:"channel"`
	Count   int64  `json:"count"`
}

// statusRank orders the success path. failed shares sent's rank: a late
// delivery report may still move a failed log forward.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusSent, StatusFailed:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// CanAdvance reports whether a log may move forward to next along the
// pending < sent < delivered < read partial order. Equal or lower ranks
// are rejected so out-of-order webhooks cannot regress a log.
func CanAdvance(current, next string) bool {
	cr, nr := statusRank(current), statusRank(next)
	if cr < 0 || nr < 0 {
		return false
	}
	return nr > cr
}

// CanFail reports whether a log may transition to failed.
// failed is only reachable from pending or sent.
func CanFail(current string) bool {
	return current == StatusPending || current == StatusSent
}

// IsTerminalSuccess reports whether the status is a terminal success.
func IsTerminalSuccess(status string) bool {
	return status == StatusDelivered || status == StatusRead
}

// ValidChannel reports whether ch is a known delivery channel.
func ValidChannel(ch string) bool {
	switch ch {
	case ChannelChat, ChannelEmail, ChannelText, ChannelPush:
		return true
	}
	return false
}

// ValidSubjectType reports whether st names a known subject entity.
func ValidSubjectType(st string) bool {
	switch st {
	case SubjectCustomer, SubjectPolicy, SubjectQuotation, SubjectClaim:
		return true
	}
	return false
}
