package ingest

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
)

// webhookPayload is the normalized inbound callback shape. Providers
// reference our log ID when they echo it back, or their own message ID
// otherwise.
type webhookPayload struct {
	LogID     string          `json:"log_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handler exposes the webhook endpoint.
type Handler struct {
	ingestor *Ingestor
	logger   *zap.Logger
}

// NewHandler creates the webhook HTTP handler.
func NewHandler(ingestor *Ingestor, logger *zap.Logger) *Handler {
	return &Handler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes mounts the webhook endpoint on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/webhooks/{provider}", h.handleWebhook)
}

// handleWebhook always acknowledges the provider with 200. Returning an
// error status would only make the provider redeliver the same webhook.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("malformed webhook payload",
			zap.String("provider", provider),
			zap.Error(err),
		)
		h.acknowledge(w)
		return
	}

	upd := Update{
		Provider:          provider,
		ProviderMessageID: payload.MessageID,
		Status:            payload.Status,
		Payload:           payload.Payload,
		SourceIP:          clientIP(r),
	}
	if payload.LogID != "" {
		if id, err := uuid.Parse(payload.LogID); err == nil {
			upd.LogID = id
		}
	}

	if _, err := h.ingestor.ApplyProviderUpdate(r.Context(), upd); err != nil {
		if errors.Is(err, db.ErrLogNotFound) {
			h.logger.Warn("webhook for unknown log",
				zap.String("provider", provider),
				zap.String("log_id", payload.LogID),
				zap.String("message_id", payload.MessageID),
			)
		} else {
			h.logger.Error("failed to apply webhook update",
				zap.String("provider", provider),
				zap.Error(err),
			)
		}
	}

	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
