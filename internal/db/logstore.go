package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrLogNotFound indicates the requested notification log does not exist.
	ErrLogNotFound = errors.New("notification log not found")

	// ErrInvalidTransition indicates a caller requested a transition the
	// state machine forbids. This is a programming-contract violation in
	// the dispatch path; webhook callers are expected to swallow it.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RetryPolicy maps an attempt number to the backoff before that attempt,
// or reports that the automatic retry budget is exhausted.
type RetryPolicy interface {
	NextDelay(attempt int) (time.Duration, bool)
}

// LogStore owns all lifecycle mutation of notification logs. Every status
// change runs in one transaction with a row lock on the log and an
// appended tracking entry, so a log never shows a status without a
// corresponding trace entry.
type LogStore struct {
	db     *DB
	policy RetryPolicy
	logger *zap.Logger
}

// NewLogStore creates a delivery log store backed by postgres.
func NewLogStore(db *DB, policy RetryPolicy, logger *zap.Logger) *LogStore {
	return &LogStore{
		db:     db,
		policy: policy,
		logger: logger,
	}
}

const logColumns = `
	id, subject_type, subject_id, type_code, channel, recipient,
	subject, body, variables, status, triggered_by, retry_count,
	next_retry_at, last_error, provider_message_id, provider_response,
	created_at, sent_at, delivered_at, read_at
`

func scanLog(row pgx.Row) (*NotificationLog, error) {
	var l NotificationLog
	err := row.Scan(
		&l.ID,
		&l.SubjectType,
		&l.SubjectID,
		&l.TypeCode,
		&l.Channel,
		&l.Recipient,
		&l.Subject,
		&l.Body,
		&l.Variables,
		&l.Status,
		&l.TriggeredBy,
		&l.RetryCount,
		&l.NextRetryAt,
		&l.LastError,
		&l.ProviderMessageID,
		&l.ProviderResponse,
		&l.CreatedAt,
		&l.SentAt,
		&l.DeliveredAt,
		&l.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LogAttempt creates a new log in pending state with its initial tracking
// entry.
func (s *LogStore) LogAttempt(ctx context.Context, log *NotificationLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Status == "" {
		log.Status = StatusPending
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO notification_logs (
			id, subject_type, subject_id, type_code, channel, recipient,
			subject, body, variables, status, triggered_by, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		log.ID,
		log.SubjectType,
		log.SubjectID,
		log.TypeCode,
		log.Channel,
		log.Recipient,
		log.Subject,
		log.Body,
		log.Variables,
		log.Status,
		log.TriggeredBy,
		log.RetryCount,
	).Scan(&log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}

	meta := fmt.Sprintf("created by %s", log.TriggeredBy)
	if err := s.appendTracking(ctx, tx, log.ID, log.Status, nil, meta); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("notification log created",
		zap.String("log_id", log.ID.String()),
		zap.String("type_code", log.TypeCode),
		zap.String("channel", log.Channel),
	)

	return nil
}

// MarkSent transitions a pending log to sent and records the provider
// response. Calling it on a log that is not pending is a bug in the
// dispatch path and returns ErrInvalidTransition.
func (s *LogStore) MarkSent(ctx context.Context, id uuid.UUID, messageID string, providerResponse json.RawMessage) (*NotificationLog, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	log, err := s.lockLog(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if log.Status != StatusPending {
		return nil, fmt.Errorf("mark sent on %s log %s: %w", log.Status, id, ErrInvalidTransition)
	}

	var msgID *string
	if messageID != "" {
		msgID = &messageID
	}

	row := tx.QueryRow(ctx, `
		UPDATE notification_logs
		SET status = $1, sent_at = NOW(), provider_message_id = $2, provider_response = $3
		WHERE id = $4
		RETURNING `+logColumns,
		StatusSent, msgID, providerResponse, id,
	)
	log, err = scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("update notification log: %w", err)
	}

	if err := s.appendTracking(ctx, tx, id, StatusSent, providerResponse, "accepted by provider"); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return log, nil
}

// MarkDelivered advances a log to delivered. A report that would move the
// log backward is ignored and the current row returned unchanged.
func (s *LogStore) MarkDelivered(ctx context.Context, id uuid.UUID, providerStatus json.RawMessage, metadata string) (*NotificationLog, error) {
	return s.advance(ctx, id, StatusDelivered, "delivered_at", providerStatus, metadata)
}

// MarkRead advances a log to read. Same monotonicity rules as MarkDelivered.
func (s *LogStore) MarkRead(ctx context.Context, id uuid.UUID, providerStatus json.RawMessage, metadata string) (*NotificationLog, error) {
	return s.advance(ctx, id, StatusRead, "read_at", providerStatus, metadata)
}

func (s *LogStore) advance(ctx context.Context, id uuid.UUID, next, stampColumn string, providerStatus json.RawMessage, metadata string) (*NotificationLog, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	log, err := s.lockLog(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !CanAdvance(log.Status, next) {
		s.logger.Debug("ignoring out-of-order status report",
			zap.String("log_id", id.String()),
			zap.String("current", log.Status),
			zap.String("reported", next),
		)
		return log, nil
	}

	if metadata == "" {
		metadata = fmt.Sprintf("previous status %s", log.Status)
	}

	// A failed log can still advance on a late delivery report; its
	// retry state must not survive the move.
	row := tx.QueryRow(ctx, `
		UPDATE notification_logs
		SET status = $1, `+stampColumn+` = COALESCE(`+stampColumn+`, NOW()),
		    next_retry_at = NULL, last_error = NULL
		WHERE id = $2
		RETURNING `+logColumns,
		next, id,
	)
	log, err = scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("update notification log: %w", err)
	}

	if err := s.appendTracking(ctx, tx, id, next, providerStatus, metadata); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return log, nil
}

// nextRetryAt maps a post-failure retry count to the time of the next
// automatic attempt, or nil when the policy's budget is exhausted. The
// initial send is attempt 1, so the attempt being scheduled after the
// retryCount-th failure is retryCount+1.
func nextRetryAt(policy RetryPolicy, retryCount int, now time.Time) *time.Time {
	delay, ok := policy.NextDelay(retryCount + 1)
	if !ok {
		return nil
	}
	t := now.Add(delay)
	return &t
}

// MarkFailed records a failed attempt: increments the retry count and
// schedules the next automatic retry via the retry policy. When the
// policy reports exhaustion next_retry_at stays null; no further
// automatic retry, though manual retry remains possible.
func (s *LogStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, providerResponse json.RawMessage) (*NotificationLog, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	log, err := s.lockLog(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !CanFail(log.Status) {
		return nil, fmt.Errorf("mark failed on %s log %s: %w", log.Status, id, ErrInvalidTransition)
	}

	retryCount := log.RetryCount + 1
	nextRetry := nextRetryAt(s.policy, retryCount, time.Now())

	row := tx.QueryRow(ctx, `
		UPDATE notification_logs
		SET status = $1, retry_count = $2, last_error = $3,
		    next_retry_at = $4, provider_response = $5
		WHERE id = $6
		RETURNING `+logColumns,
		StatusFailed, retryCount, errMsg, nextRetry, providerResponse, id,
	)
	prevStatus := log.Status
	log, err = scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("update notification log: %w", err)
	}

	meta := fmt.Sprintf("previous status %s", prevStatus)
	if err := s.appendTracking(ctx, tx, id, StatusFailed, providerResponse, meta); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Warn("notification delivery failed",
		zap.String("log_id", id.String()),
		zap.String("channel", log.Channel),
		zap.Int("retry_count", retryCount),
		zap.Bool("retry_scheduled", nextRetry != nil),
		zap.String("error", errMsg),
	)

	return log, nil
}

// RetryNow resets a failed log to pending for a fresh attempt. The error
// is cleared but retry_count is preserved. Manual retries are allowed
// even after the automatic budget is exhausted.
func (s *LogStore) RetryNow(ctx context.Context, id uuid.UUID) (*NotificationLog, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	log, err := s.lockLog(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if log.Status != StatusFailed {
		return nil, fmt.Errorf("retry on %s log %s: %w", log.Status, id, ErrInvalidTransition)
	}

	row := tx.QueryRow(ctx, `
		UPDATE notification_logs
		SET status = $1, last_error = NULL, next_retry_at = NULL
		WHERE id = $2
		RETURNING `+logColumns,
		StatusPending, id,
	)
	log, err = scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("update notification log: %w", err)
	}

	if err := s.appendTracking(ctx, tx, id, StatusPending, nil, "manual retry"); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("notification log reset for retry",
		zap.String("log_id", id.String()),
		zap.Int("retry_count", log.RetryCount),
	)

	return log, nil
}

// ClaimRetryable atomically claims up to limit failed logs whose retry
// time has passed, flipping them back to pending so that concurrent
// sweepers cannot pick the same row twice. SKIP LOCKED keeps sweepers
// from blocking each other.
func (s *LogStore) ClaimRetryable(ctx context.Context, limit int) ([]*NotificationLog, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		WITH ready AS (
			SELECT id FROM notification_logs
			WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_logs n
		SET status = $3, next_retry_at = NULL, last_error = NULL
		FROM ready
		WHERE n.id = ready.id
		RETURNING `+logColumns,
		StatusFailed, limit, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim retryable logs: %w", err)
	}

	var claimed []*NotificationLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimed log: %w", err)
		}
		claimed = append(claimed, log)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed logs: %w", err)
	}

	for _, log := range claimed {
		if err := s.appendTracking(ctx, tx, log.ID, StatusPending, nil, "claimed by retry sweeper"); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return claimed, nil
}

// GetLog retrieves a notification log by ID.
func (s *LogStore) GetLog(ctx context.Context, id uuid.UUID) (*NotificationLog, error) {
	row := s.db.Pool().QueryRow(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE id = $1`, id)
	log, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification log: %w", err)
	}
	return log, nil
}

// GetLogByProviderMessageID retrieves a log by the provider-assigned
// message identifier, used by webhooks that do not echo our log ID.
func (s *LogStore) GetLogByProviderMessageID(ctx context.Context, messageID string) (*NotificationLog, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+logColumns+` FROM notification_logs WHERE provider_message_id = $1`, messageID)
	log, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification log by message id: %w", err)
	}
	return log, nil
}

// ListBySubject retrieves the notification history for one business entity.
func (s *LogStore) ListBySubject(ctx context.Context, subjectType string, subjectID uuid.UUID, limit, offset int) ([]*NotificationLog, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+logColumns+`
		FROM notification_logs
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, subjectType, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*NotificationLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}

// ListTracking returns the append-only tracking history for a log,
// ordered oldest first.
func (s *LogStore) ListTracking(ctx context.Context, logID uuid.UUID) ([]*TrackingEntry, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, log_id, status, provider_status, metadata, created_at
		FROM tracking_entries
		WHERE log_id = $1
		ORDER BY created_at
	`, logID)
	if err != nil {
		return nil, fmt.Errorf("query tracking entries: %w", err)
	}
	defer rows.Close()

	var entries []*TrackingEntry
	for rows.Next() {
		var e TrackingEntry
		if err := rows.Scan(&e.ID, &e.LogID, &e.Status, &e.ProviderStatus, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// CountByStatusChannel aggregates log counts for the stats endpoint.
func (s *LogStore) CountByStatusChannel(ctx context.Context) ([]*StatusCounts, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT status, channel, COUNT(*)
		FROM notification_logs
		GROUP BY status, channel
		ORDER BY status, channel
	`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	var counts []*StatusCounts
	for rows.Next() {
		var c StatusCounts
		if err := rows.Scan(&c.Status, &c.Channel, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

// ArchiveTerminalSuccess deletes delivered/read logs older than the
// cutoff together with their tracking entries. Failed logs are never
// archived; they stay visible for manual retry.
func (s *LogStore) ArchiveTerminalSuccess(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		DELETE FROM tracking_entries
		WHERE log_id IN (
			SELECT id FROM notification_logs
			WHERE status IN ($1, $2) AND created_at < $3
		)
	`, StatusDelivered, StatusRead, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete tracking entries: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM notification_logs
		WHERE status IN ($1, $2) AND created_at < $3
	`, StatusDelivered, StatusRead, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete notification logs: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info("archived notification logs",
			zap.Int64("count", removed),
			zap.Time("cutoff", cutoff),
		)
	}

	return removed, nil
}

func (s *LogStore) lockLog(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*NotificationLog, error) {
	row := tx.QueryRow(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE id = $1 FOR UPDATE`, id)
	log, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock notification log: %w", err)
	}
	return log, nil
}

func (s *LogStore) appendTracking(ctx context.Context, tx pgx.Tx, logID uuid.UUID, status string, providerStatus json.RawMessage, metadata string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tracking_entries (id, log_id, status, provider_status, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), logID, status, providerStatus, metadata)
	if err != nil {
		return fmt.Errorf("insert tracking entry: %w", err)
	}
	return nil
}
