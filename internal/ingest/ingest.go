// Package ingest applies asynchronous provider status callbacks to the
// delivery log. Providers speak different status vocabularies; this
// package normalizes them onto the internal lifecycle transitions.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/metrics"
)

// LogStore is the slice of the delivery log store the ingestor needs.
type LogStore interface {
	GetLog(ctx context.Context, id uuid.UUID) (*db.NotificationLog, error)
	GetLogByProviderMessageID(ctx context.Context, messageID string) (*db.NotificationLog, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, providerStatus json.RawMessage, metadata string) (*db.NotificationLog, error)
	MarkRead(ctx context.Context, id uuid.UUID, providerStatus json.RawMessage, metadata string) (*db.NotificationLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, providerResponse json.RawMessage) (*db.NotificationLog, error)
}

// Update is a normalized provider callback. Either LogID or
// ProviderMessageID must be set; LogID wins when both are present.
type Update struct {
	Provider          string
	LogID             uuid.UUID
	ProviderMessageID string
	Status            string
	Payload           json.RawMessage
	SourceIP          string
}

// statusMap folds provider vocabularies onto internal statuses.
var statusMap = map[string]string{
	"delivered":   db.StatusDelivered,
	"delivrd":     db.StatusDelivered,
	"delivery":    db.StatusDelivered,
	"read":        db.StatusRead,
	"seen":        db.StatusRead,
	"opened":      db.StatusRead,
	"failed":      db.StatusFailed,
	"undelivered": db.StatusFailed,
	"undeliv":     db.StatusFailed,
	"bounce":      db.StatusFailed,
	"bounced":     db.StatusFailed,
	"rejected":    db.StatusFailed,
}

// Ingestor maps provider callbacks to lifecycle transitions.
type Ingestor struct {
	store  LogStore
	logger *zap.Logger
}

// New creates a webhook ingestor.
func New(store LogStore, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// ApplyProviderUpdate resolves the referenced log and applies the
// reported status. Unknown statuses and out-of-order failure reports
// leave the log unchanged without raising an error, so the webhook
// endpoint can always acknowledge the provider. Idempotent: reapplying
// the same update lands in the same end state.
func (i *Ingestor) ApplyProviderUpdate(ctx context.Context, upd Update) (*db.NotificationLog, error) {
	log, err := i.resolveLog(ctx, upd)
	if err != nil {
		return nil, err
	}

	internal, ok := normalizeStatus(upd.Status)
	if !ok {
		i.logger.Warn("ignoring unknown provider status",
			zap.String("provider", upd.Provider),
			zap.String("status", upd.Status),
			zap.String("log_id", log.ID.String()),
		)
		metrics.RecordWebhookUpdate(upd.Provider, "unknown_status")
		return log, nil
	}

	meta := fmt.Sprintf("updated by webhook from %s", upd.Provider)
	if upd.SourceIP != "" {
		meta = fmt.Sprintf("%s (ip %s)", meta, upd.SourceIP)
	}

	var updated *db.NotificationLog
	switch internal {
	case db.StatusDelivered:
		updated, err = i.store.MarkDelivered(ctx, log.ID, upd.Payload, meta)
	case db.StatusRead:
		updated, err = i.store.MarkRead(ctx, log.ID, upd.Payload, meta)
	case db.StatusFailed:
		updated, err = i.store.MarkFailed(ctx, log.ID, fmt.Sprintf("provider %s reported %s", upd.Provider, upd.Status), upd.Payload)
		if errors.Is(err, db.ErrInvalidTransition) {
			// Late failure report on an already-terminal log.
			i.logger.Debug("ignoring late failure report",
				zap.String("log_id", log.ID.String()),
				zap.String("current", log.Status),
			)
			metrics.RecordWebhookUpdate(upd.Provider, "ignored")
			return log, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if updated.Status != log.Status {
		metrics.RecordStatusTransition(updated.Status)
	}
	metrics.RecordWebhookUpdate(upd.Provider, "applied")

	i.logger.Info("provider status applied",
		zap.String("provider", upd.Provider),
		zap.String("log_id", updated.ID.String()),
		zap.String("status", updated.Status),
	)

	return updated, nil
}

func (i *Ingestor) resolveLog(ctx context.Context, upd Update) (*db.NotificationLog, error) {
	if upd.LogID != uuid.Nil {
		return i.store.GetLog(ctx, upd.LogID)
	}
	if upd.ProviderMessageID != "" {
		return i.store.GetLogByProviderMessageID(ctx, upd.ProviderMessageID)
	}
	return nil, db.ErrLogNotFound
}

func normalizeStatus(reported string) (string, bool) {
	s, ok := statusMap[strings.ToLower(reported)]
	return s, ok
}
