// Package dispatch orchestrates one logical send: resolve content, check
// recipient preferences, call the channel provider, and record the
// outcome in the delivery log. Expected failures (no content, opt-out,
// bad address, provider error) are returned as outcomes, never as
// errors, so business workflows are not disrupted by notification
// failures.
package dispatch

import (
	"context"
	"encoding/json"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/circuitbreaker"
	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/gateway"
	"github.com/coverly/courier/internal/metrics"
	"github.com/coverly/courier/internal/preference"
	"github.com/coverly/courier/internal/render"
)

// Outcome reason codes.
const (
	ReasonSent                = "sent"
	ReasonNoContent           = "no_content"
	ReasonBlockedByPreference = "blocked_by_preference"
	ReasonInvalidRecipient    = "invalid_recipient"
	ReasonProviderError       = "provider_error"
	ReasonInternalError       = "internal_error"
)

// Outcome is the structured result of one send.
type Outcome struct {
	Success bool      `json:"success"`
	Reason  string    `json:"reason"`
	LogID   uuid.UUID `json:"log_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// SendRequest describes one logical send. RecipientID identifies a known
// recipient entity whose preferences apply; when nil the send is a
// direct-address send (e.g. "share with this other number") and the
// preference gate is bypassed. Flat, when set, selects legacy flat-map
// rendering instead of loading a structured snapshot for the subject.
type SendRequest struct {
	SubjectType    string            `json:"subject_type"`
	SubjectID      uuid.UUID         `json:"subject_id"`
	TypeCode       string            `json:"type_code"`
	Channel        string            `json:"channel"`
	Recipient      string            `json:"recipient"`
	Tokens         []string          `json:"tokens,omitempty"`
	RecipientID    *uuid.UUID        `json:"recipient_id,omitempty"`
	Flat           map[string]string `json:"flat,omitempty"`
	AttachmentPath string            `json:"attachment_path,omitempty"`
	TriggeredBy    string            `json:"triggered_by"`
}

// LogStore is the slice of the delivery log store the dispatcher mutates.
type LogStore interface {
	LogAttempt(ctx context.Context, log *db.NotificationLog) error
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, providerResponse json.RawMessage) (*db.NotificationLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, providerResponse json.RawMessage) (*db.NotificationLog, error)
}

// PreferenceSource loads stored recipient preferences.
type PreferenceSource interface {
	GetRecipientPreferences(ctx context.Context, recipientID uuid.UUID) (*db.RecipientPreferences, error)
}

// SnapshotSource loads the structured render context for a subject.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, subjectType string, subjectID uuid.UUID) (*render.Snapshot, error)
}

// Renderer resolves templates into channel content.
type Renderer interface {
	Render(ctx context.Context, typeCode, channel string, rc render.RenderContext) (*render.Rendered, bool, error)
	RenderPush(ctx context.Context, typeCode string, rc render.RenderContext) (*render.Rendered, bool, error)
}

// EventPublisher receives send outcomes for downstream consumers. May be
// nil when event publishing is disabled.
type EventPublisher interface {
	PublishSendOutcome(ctx context.Context, logID uuid.UUID, channel, reason string) error
}

// Config holds dispatcher tuning.
type Config struct {
	ProviderTimeout time.Duration
}

// outcomeWriteTimeout bounds the detached MarkSent/MarkFailed writes
// after a provider call.
const outcomeWriteTimeout = 10 * time.Second

// Dispatcher coordinates the send pipeline across the per-channel
// gateways.
type Dispatcher struct {
	store     LogStore
	prefs     PreferenceSource
	snapshots SnapshotSource
	renderer  Renderer
	fallbacks *FallbackRegistry

	chat  gateway.TextGateway
	text  gateway.TextGateway
	email gateway.EmailGateway
	push  gateway.PushGateway

	breakers *circuitbreaker.Set
	events   EventPublisher
	config   Config
	logger   *zap.Logger
}

// New creates a dispatcher. events may be nil.
func New(
	store LogStore,
	prefs PreferenceSource,
	snapshots SnapshotSource,
	renderer Renderer,
	fallbacks *FallbackRegistry,
	chat, text gateway.TextGateway,
	email gateway.EmailGateway,
	push gateway.PushGateway,
	breakers *circuitbreaker.Set,
	events EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if fallbacks == nil {
		fallbacks = NewFallbackRegistry()
	}

	return &Dispatcher{
		store:     store,
		prefs:     prefs,
		snapshots: snapshots,
		renderer:  renderer,
		fallbacks: fallbacks,
		chat:      chat,
		text:      text,
		email:     email,
		push:      push,
		breakers:  breakers,
		events:    events,
		config:    cfg,
		logger:    logger,
	}
}

var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Send performs one logical send. At most one provider call is made; no
// retries happen here, the sweeper drives those.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) Outcome {
	if !db.ValidChannel(req.Channel) {
		return Outcome{Reason: ReasonInvalidRecipient, Error: "unknown channel " + req.Channel}
	}

	rc, err := d.buildContext(ctx, req)
	if err != nil {
		return d.internalError("load render context", req, err)
	}

	rendered, ok, err := d.resolveContent(ctx, req, rc)
	if err != nil {
		return d.internalError("render template", req, err)
	}
	if !ok {
		d.logger.Info("skipping send, no content available",
			zap.String("type_code", req.TypeCode),
			zap.String("channel", req.Channel),
		)
		metrics.RecordSend(req.Channel, ReasonNoContent)
		return Outcome{Reason: ReasonNoContent}
	}

	if req.RecipientID != nil {
		prefs, err := d.prefs.GetRecipientPreferences(ctx, *req.RecipientID)
		if err != nil {
			return d.internalError("load recipient preferences", req, err)
		}
		if !preference.CanSend(prefs, req.TypeCode, req.Channel, time.Now()) {
			d.logger.Info("send blocked by recipient preferences",
				zap.String("recipient_id", req.RecipientID.String()),
				zap.String("type_code", req.TypeCode),
				zap.String("channel", req.Channel),
			)
			metrics.RecordSend(req.Channel, ReasonBlockedByPreference)
			return Outcome{Reason: ReasonBlockedByPreference}
		}
	}

	if reason := validateRecipient(req); reason != "" {
		metrics.RecordSend(req.Channel, ReasonInvalidRecipient)
		return Outcome{Reason: ReasonInvalidRecipient, Error: reason}
	}

	log := d.newLog(req, rendered)
	if err := d.store.LogAttempt(ctx, log); err != nil {
		return d.internalError("create notification log", req, err)
	}

	return d.deliver(ctx, log, req.AttachmentPath)
}

// Resend pushes a pending log back out to its provider, reusing the
// stored rendered content. The sweeper and the manual retry path call
// this after the log has been reset to pending.
func (d *Dispatcher) Resend(ctx context.Context, log *db.NotificationLog) Outcome {
	return d.deliver(ctx, log, "")
}

func (d *Dispatcher) deliver(ctx context.Context, log *db.NotificationLog, attachmentPath string) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, d.config.ProviderTimeout)
	defer cancel()

	result, err := d.callProvider(callCtx, log, attachmentPath)

	// Once a provider call has been made the outcome must land in the
	// log even if the caller has gone away; a log stuck in pending is
	// invisible to the sweeper. Detach from the caller's cancellation.
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer writeCancel()

	if err != nil || !result.Success {
		errMsg := "provider reported failure"
		if err != nil {
			errMsg = err.Error()
		}
		var raw json.RawMessage
		if result != nil {
			raw = result.Raw
		}
		if _, ferr := d.store.MarkFailed(writeCtx, log.ID, errMsg, raw); ferr != nil {
			d.logger.Error("failed to record provider failure",
				zap.String("log_id", log.ID.String()),
				zap.Error(ferr),
			)
		}
		metrics.RecordSend(log.Channel, ReasonProviderError)
		metrics.RecordStatusTransition(db.StatusFailed)
		d.publishOutcome(writeCtx, log.ID, log.Channel, ReasonProviderError)
		return Outcome{Reason: ReasonProviderError, LogID: log.ID, Error: errMsg}
	}

	if _, err := d.store.MarkSent(writeCtx, log.ID, result.MessageID, result.Raw); err != nil {
		return Outcome{Reason: ReasonInternalError, LogID: log.ID, Error: err.Error()}
	}
	metrics.RecordSend(log.Channel, ReasonSent)
	metrics.RecordStatusTransition(db.StatusSent)
	d.publishOutcome(writeCtx, log.ID, log.Channel, ReasonSent)

	return Outcome{Success: true, Reason: ReasonSent, LogID: log.ID}
}

func (d *Dispatcher) callProvider(ctx context.Context, log *db.NotificationLog, attachmentPath string) (*gateway.Result, error) {
	var result *gateway.Result

	call := func(fn func() (*gateway.Result, error)) error {
		return d.breakers.For(log.Channel).Execute(func() error {
			var err error
			result, err = fn()
			return err
		})
	}

	var err error
	switch log.Channel {
	case db.ChannelChat:
		err = call(func() (*gateway.Result, error) {
			if attachmentPath != "" {
				return d.chat.SendTextWithAttachment(ctx, log.Recipient, log.Body, attachmentPath)
			}
			return d.chat.SendText(ctx, log.Recipient, log.Body)
		})
	case db.ChannelText:
		err = call(func() (*gateway.Result, error) {
			if attachmentPath != "" {
				return d.text.SendTextWithAttachment(ctx, log.Recipient, log.Body, attachmentPath)
			}
			return d.text.SendText(ctx, log.Recipient, log.Body)
		})
	case db.ChannelEmail:
		err = call(func() (*gateway.Result, error) {
			subject := ""
			if log.Subject != nil {
				subject = *log.Subject
			}
			var attachments []string
			if attachmentPath != "" {
				attachments = []string{attachmentPath}
			}
			return d.email.SendEmail(ctx, log.Recipient, subject, log.Body, attachments)
		})
	case db.ChannelPush:
		err = call(func() (*gateway.Result, error) {
			title := ""
			if log.Subject != nil {
				title = *log.Subject
			}
			data := map[string]string{
				"type_code":    log.TypeCode,
				"subject_type": log.SubjectType,
				"subject_id":   log.SubjectID.String(),
			}
			return d.push.SendPush(ctx, strings.Split(log.Recipient, ","), title, log.Body, data)
		})
	}

	if err != nil {
		return result, err
	}
	return result, nil
}

// resolveContent renders via the template catalog and falls back to the
// hardcoded per-type generator when no template exists.
func (d *Dispatcher) resolveContent(ctx context.Context, req SendRequest, rc render.RenderContext) (*render.Rendered, bool, error) {
	var (
		rendered *render.Rendered
		found    bool
		err      error
	)
	if req.Channel == db.ChannelPush {
		rendered, found, err = d.renderer.RenderPush(ctx, req.TypeCode, rc)
	} else {
		rendered, found, err = d.renderer.Render(ctx, req.TypeCode, req.Channel, rc)
	}
	if err != nil {
		return nil, false, err
	}
	if found {
		return rendered, true, nil
	}

	if fb := d.fallbacks.Generate(req.TypeCode, req.Channel, rc); fb != nil {
		d.logger.Info("template not found, using hardcoded fallback",
			zap.String("type_code", req.TypeCode),
			zap.String("channel", req.Channel),
		)
		return fb, true, nil
	}

	return nil, false, nil
}

func (d *Dispatcher) buildContext(ctx context.Context, req SendRequest) (render.RenderContext, error) {
	if req.Flat != nil {
		return render.RenderContext{Flat: req.Flat}, nil
	}
	snap, err := d.snapshots.LoadSnapshot(ctx, req.SubjectType, req.SubjectID)
	if err != nil {
		return render.RenderContext{}, err
	}
	return render.RenderContext{Snapshot: snap}, nil
}

func (d *Dispatcher) newLog(req SendRequest, rendered *render.Rendered) *db.NotificationLog {
	recipient := req.Recipient
	if req.Channel == db.ChannelPush && len(req.Tokens) > 0 {
		recipient = strings.Join(req.Tokens, ",")
	}

	var subject *string
	switch {
	case req.Channel == db.ChannelPush && rendered.Title != "":
		t := rendered.Title
		subject = &t
	case rendered.Subject != "":
		s := rendered.Subject
		subject = &s
	}

	vars, _ := json.Marshal(rendered.Variables)

	return &db.NotificationLog{
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		TypeCode:    req.TypeCode,
		Channel:     req.Channel,
		Recipient:   recipient,
		Subject:     subject,
		Body:        rendered.Body,
		Variables:   vars,
		TriggeredBy: req.TriggeredBy,
	}
}

func validateRecipient(req SendRequest) string {
	switch req.Channel {
	case db.ChannelEmail:
		if _, err := mail.ParseAddress(req.Recipient); err != nil {
			return "malformed email address"
		}
	case db.ChannelText, db.ChannelChat:
		if !phoneRe.MatchString(req.Recipient) {
			return "malformed phone number"
		}
	case db.ChannelPush:
		if len(req.Tokens) == 0 && req.Recipient == "" {
			return "no device tokens"
		}
	}
	return ""
}

func (d *Dispatcher) publishOutcome(ctx context.Context, logID uuid.UUID, channel, reason string) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishSendOutcome(ctx, logID, channel, reason); err != nil {
		d.logger.Warn("failed to publish send outcome event",
			zap.String("log_id", logID.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) internalError(op string, req SendRequest, err error) Outcome {
	d.logger.Error("dispatch failed",
		zap.String("op", op),
		zap.String("type_code", req.TypeCode),
		zap.String("channel", req.Channel),
		zap.Error(err),
	)
	return Outcome{Reason: ReasonInternalError, Error: err.Error()}
}
