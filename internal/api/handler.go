// Package api exposes the HTTP surface of the notification engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/dispatch"
	"github.com/coverly/courier/internal/metrics"
	"github.com/coverly/courier/internal/redisx"
)

// LogRepository defines the delivery log operations the API reads and
// the manual retry path.
type LogRepository interface {
	GetLog(ctx context.Context, id uuid.UUID) (*db.NotificationLog, error)
	ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID, limit, offset int) ([]*db.NotificationLog, error)
	ListTracking(ctx context.Context, logID uuid.UUID) ([]*db.TrackingEntry, error)
	CountByStatusChannel(ctx context.Context) ([]*db.StatusCounts, error)
	RetryNow(ctx context.Context, id uuid.UUID) (*db.NotificationLog, error)
}

// Sender is the dispatch surface the API drives.
type Sender interface {
	Send(ctx context.Context, req dispatch.SendRequest) dispatch.Outcome
	Resend(ctx context.Context, log *db.NotificationLog) dispatch.Outcome
}

// Enqueuer pushes send requests onto the async queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req dispatch.SendRequest) (string, error)
}

// SendResponse is returned for send and retry requests.
type SendResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	LogID  string `json:"log_id,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        LogRepository
	dispatcher  Sender
	idempotency *redisx.IdempotencyService // nil if Redis not configured
	producer    Enqueuer                   // nil if SQS not configured
}

// NewHandler creates a new API handler. idempotency and producer are
// optional.
func NewHandler(logger *zap.Logger, repo LogRepository, dispatcher Sender, idempotency *redisx.IdempotencyService, producer Enqueuer) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		dispatcher:  dispatcher,
		idempotency: idempotency,
		producer:    producer,
	}
}

// RegisterRoutes mounts the API endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/sends", h.CreateSend)
	r.Get("/v1/logs", h.ListLogs)
	r.Get("/v1/logs/{id}", h.GetLog)
	r.Get("/v1/logs/{id}/tracking", h.GetTracking)
	r.Post("/v1/logs/{id}/retry", h.RetryLog)
	r.Get("/v1/stats", h.GetStats)
}

// CreateSend handles POST /v1/sends.
// Supports idempotency via the Idempotency-Key header. When the queue
// producer is configured the request is enqueued and answered with 202;
// otherwise it is dispatched inline.
func (h *Handler) CreateSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TypeCode == "" || req.Channel == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "type_code and channel are required")
		return
	}
	if !db.ValidChannel(req.Channel) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be chat, email, text, or push")
		return
	}
	if !db.ValidSubjectType(req.SubjectType) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subject_type", "subject_type must be customer, policy, quotation, or claim")
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redisx.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(SendResponse{
				Status: cached.Reason,
				LogID:  cached.LogID,
			})
			return
		}
	}

	if h.producer != nil {
		msgID, err := h.producer.Enqueue(ctx, req)
		if err != nil {
			h.logger.Error("failed to enqueue send request",
				zap.Error(err),
				zap.String("type_code", req.TypeCode),
			)
			h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue send request", "")
			return
		}
		h.logger.Info("send request enqueued",
			zap.String("type_code", req.TypeCode),
			zap.String("channel", req.Channel),
			zap.String("sqs_message_id", msgID),
		)

		h.storeIdempotency(ctx, idempotencyKey, &redisx.IdempotencyResult{
			Reason:     "queued",
			StatusCode: http.StatusAccepted,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(SendResponse{Status: "queued"})
		return
	}

	outcome := h.dispatcher.Send(ctx, req)

	resp := SendResponse{Status: outcomeStatus(outcome), Reason: outcome.Reason}
	if outcome.LogID != uuid.Nil {
		resp.LogID = outcome.LogID.String()
	}

	h.storeIdempotency(ctx, idempotencyKey, &redisx.IdempotencyResult{
		LogID:      resp.LogID,
		Reason:     outcome.Reason,
		StatusCode: http.StatusOK,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetLog handles GET /v1/logs/{id}
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	log, err := h.repo.GetLog(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrLogNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification log not found", "")
			return
		}
		h.logger.Error("failed to get notification log",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load notification log", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(log)
}

// ListLogs handles GET /v1/logs?subject_type=policy&subject_id=xxx&limit=20&offset=0
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectType := r.URL.Query().Get("subject_type")
	if !db.ValidSubjectType(subjectType) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subject_type", "subject_type must be customer, policy, quotation, or claim")
		return
	}

	subjectID, err := uuid.Parse(r.URL.Query().Get("subject_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subject_id", "subject_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	logs, err := h.repo.ListBySubject(ctx, subjectType, subjectID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notification logs",
			zap.Error(err),
			zap.String("subject_type", subjectType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notification logs", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   logs,
		"limit":  limit,
		"offset": offset,
		"count":  len(logs),
	})
}

// GetTracking handles GET /v1/logs/{id}/tracking
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if _, err := h.repo.GetLog(ctx, id); err != nil {
		if errors.Is(err, db.ErrLogNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification log not found", "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load notification log", "")
		return
	}

	entries, err := h.repo.ListTracking(ctx, id)
	if err != nil {
		h.logger.Error("failed to list tracking entries",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list tracking entries", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  entries,
		"count": len(entries),
	})
}

// RetryLog handles POST /v1/logs/{id}/retry. The log is reset to
// pending and immediately resubmitted to its provider.
func (h *Handler) RetryLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	log, err := h.repo.RetryNow(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrLogNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Notification log not found", "")
		case errors.Is(err, db.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "invalid_state", "Log is not in a failed state", "only failed notifications can be retried")
		default:
			h.logger.Error("failed to reset log for retry",
				zap.Error(err),
				zap.String("id", id.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to retry notification", "")
		}
		return
	}

	outcome := h.dispatcher.Resend(ctx, log)

	resp := SendResponse{Status: outcomeStatus(outcome), Reason: outcome.Reason, LogID: id.String()}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.repo.CountByStatusChannel(ctx)
	if err != nil {
		h.logger.Error("failed to aggregate stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to aggregate stats", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":         counts,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid log ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) storeIdempotency(ctx context.Context, key string, result *redisx.IdempotencyResult) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Store(ctx, key, result); err != nil {
		h.logger.Warn("failed to store idempotency result",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

func outcomeStatus(outcome dispatch.Outcome) string {
	switch {
	case outcome.Success:
		return "sent"
	case outcome.Reason == dispatch.ReasonProviderError || outcome.Reason == dispatch.ReasonInternalError:
		return "failed"
	default:
		return "skipped"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
