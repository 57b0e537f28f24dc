// Package subject loads the read-only context snapshot for the business
// entity a notification is about. The engine itself never mutates these
// tables.
package subject

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/render"
)

// ErrSubjectNotFound indicates the referenced business entity does not
// exist.
var ErrSubjectNotFound = errors.New("subject not found")

// BrandingSource supplies the app branding settings, typically the
// redis-backed read-through cache.
type BrandingSource interface {
	Branding(ctx context.Context) (*render.Branding, error)
}

// Loader builds render snapshots from the business tables.
type Loader struct {
	db       *db.DB
	branding BrandingSource
	logger   *zap.Logger
}

// NewLoader creates a snapshot loader. branding may be nil, in which
// case settings are read from the database on every call.
func NewLoader(database *db.DB, branding BrandingSource, logger *zap.Logger) *Loader {
	return &Loader{
		db:       database,
		branding: branding,
		logger:   logger,
	}
}

// LoadSnapshot loads the entity referenced by (subjectType, subjectID)
// together with its customer and the branding settings.
func (l *Loader) LoadSnapshot(ctx context.Context, subjectType string, subjectID uuid.UUID) (*render.Snapshot, error) {
	snap := &render.Snapshot{}

	var err error
	switch subjectType {
	case db.SubjectCustomer:
		err = l.loadCustomer(ctx, subjectID, snap)
	case db.SubjectPolicy:
		err = l.loadPolicy(ctx, subjectID, snap)
	case db.SubjectQuotation:
		err = l.loadQuotation(ctx, subjectID, snap)
	case db.SubjectClaim:
		err = l.loadClaim(ctx, subjectID, snap)
	default:
		return nil, fmt.Errorf("unknown subject type %q", subjectType)
	}
	if err != nil {
		return nil, err
	}

	branding, err := l.loadBranding(ctx)
	if err != nil {
		// Branding is cosmetic; a send should not fail because the
		// settings table is unreadable.
		l.logger.Warn("failed to load branding settings", zap.Error(err))
	} else {
		snap.Branding = branding
	}

	return snap, nil
}

func (l *Loader) loadCustomer(ctx context.Context, id uuid.UUID, snap *render.Snapshot) error {
	var c render.Customer
	err := l.db.Pool().QueryRow(ctx, `
		SELECT name, email, phone FROM customers WHERE id = $1
	`, id).Scan(&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubjectNotFound
	}
	if err != nil {
		return fmt.Errorf("query customer: %w", err)
	}
	snap.Customer = &c
	return nil
}

func (l *Loader) loadPolicy(ctx context.Context, id uuid.UUID, snap *render.Snapshot) error {
	var (
		p render.Policy
		c render.Customer
	)
	err := l.db.Pool().QueryRow(ctx, `
		SELECT p.policy_no, p.product, p.premium, p.start_date, p.end_date,
		       c.name, c.email, c.phone
		FROM policies p
		JOIN customers c ON c.id = p.customer_id
		WHERE p.id = $1
	`, id).Scan(&p.PolicyNo, &p.Product, &p.Premium, &p.StartDate, &p.EndDate,
		&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubjectNotFound
	}
	if err != nil {
		return fmt.Errorf("query policy: %w", err)
	}
	snap.Policy = &p
	snap.Customer = &c
	return nil
}

func (l *Loader) loadQuotation(ctx context.Context, id uuid.UUID, snap *render.Snapshot) error {
	var (
		q render.Quotation
		c render.Customer
	)
	err := l.db.Pool().QueryRow(ctx, `
		SELECT q.quote_no, q.product, q.amount, q.valid_until,
		       c.name, c.email, c.phone
		FROM quotations q
		JOIN customers c ON c.id = q.customer_id
		WHERE q.id = $1
	`, id).Scan(&q.QuoteNo, &q.Product, &q.Amount, &q.ValidUntil,
		&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubjectNotFound
	}
	if err != nil {
		return fmt.Errorf("query quotation: %w", err)
	}
	snap.Quotation = &q
	snap.Customer = &c
	return nil
}

func (l *Loader) loadClaim(ctx context.Context, id uuid.UUID, snap *render.Snapshot) error {
	var (
		cl render.Claim
		c  render.Customer
	)
	err := l.db.Pool().QueryRow(ctx, `
		SELECT cl.claim_no, cl.amount, cl.status, cl.filed_at,
		       c.name, c.email, c.phone
		FROM claims cl
		JOIN customers c ON c.id = cl.customer_id
		WHERE cl.id = $1
	`, id).Scan(&cl.ClaimNo, &cl.Amount, &cl.Status, &cl.FiledAt,
		&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubjectNotFound
	}
	if err != nil {
		return fmt.Errorf("query claim: %w", err)
	}
	snap.Claim = &cl
	snap.Customer = &c
	return nil
}

func (l *Loader) loadBranding(ctx context.Context) (*render.Branding, error) {
	if l.branding != nil {
		return l.branding.Branding(ctx)
	}
	return l.LoadBranding(ctx)
}

// LoadBranding reads the branding settings straight from the settings
// table. The redis settings cache uses this as its backing loader.
func (l *Loader) LoadBranding(ctx context.Context) (*render.Branding, error) {
	rows, err := l.db.Pool().Query(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, fmt.Errorf("query app settings: %w", err)
	}
	defer rows.Close()

	var b render.Branding
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan app setting: %w", err)
		}
		switch key {
		case "company_name":
			b.CompanyName = value
		case "support_email":
			b.SupportEmail = value
		case "support_phone":
			b.SupportPhone = value
		case "currency":
			b.Currency = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app settings: %w", err)
	}

	return &b, nil
}
