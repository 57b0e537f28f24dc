package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Catalog provides read-only access to the notification type and template
// catalogs and to recipient preferences. The engine never mutates these.
type Catalog struct {
	db     *DB
	logger *zap.Logger
}

// NewCatalog creates a catalog store.
func NewCatalog(db *DB, logger *zap.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

// GetNotificationType looks up an active notification type by code.
// Returns (nil, nil) when the code is unknown or inactive.
func (c *Catalog) GetNotificationType(ctx context.Context, code string) (*NotificationType, error) {
	var t NotificationType
	err := c.db.Pool().QueryRow(ctx, `
		SELECT code, name, active
		FROM notification_types
		WHERE code = $1 AND active
	`, code).Scan(&t.Code, &t.Name, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification type: %w", err)
	}
	return &t, nil
}

// GetTemplate looks up the active template for a (type, channel) pair.
// Returns (nil, nil) when no active template exists.
func (c *Catalog) GetTemplate(ctx context.Context, typeCode, channel string) (*Template, error) {
	var t Template
	err := c.db.Pool().QueryRow(ctx, `
		SELECT id, type_code, channel, subject, body, variables, active
		FROM templates
		WHERE type_code = $1 AND channel = $2 AND active
	`, typeCode, channel).Scan(&t.ID, &t.TypeCode, &t.Channel, &t.Subject, &t.Body, &t.Variables, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &t, nil
}

// GetRecipientPreferences loads stored preferences for a recipient.
// Returns (nil, nil) when the recipient has no preference row; callers
// treat that as opt-in to everything.
func (c *Catalog) GetRecipientPreferences(ctx context.Context, recipientID uuid.UUID) (*RecipientPreferences, error) {
	var p RecipientPreferences
	err := c.db.Pool().QueryRow(ctx, `
		SELECT recipient_id, channels, opt_outs, quiet_hours_start, quiet_hours_end
		FROM recipient_preferences
		WHERE recipient_id = $1
	`, recipientID).Scan(&p.RecipientID, &p.Channels, &p.OptOuts, &p.QuietHoursStart, &p.QuietHoursEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query recipient preferences: %w", err)
	}
	return &p, nil
}
