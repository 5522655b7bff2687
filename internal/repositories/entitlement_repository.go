package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"monetaBack/internal/models"
)

type EntitlementRepository struct {
	DB   *sql.DB
	once sync.Once
	err  error
}

func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{DB: db}
}

func (r *EntitlementRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS entitlements (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  purchase_token TEXT NOT NULL,
  product_id TEXT NOT NULL DEFAULT '',
  purchase_time TIMESTAMPTZ NOT NULL DEFAULT now(),
  expiry_time TIMESTAMPTZ NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT FALSE,
  auto_renewing BOOLEAN NOT NULL DEFAULT FALSE,
  purchase_state TEXT NOT NULL DEFAULT 'pending',
  acknowledged_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uniq_purchase_token UNIQUE (purchase_token)
);
CREATE INDEX IF NOT EXISTS idx_entitlements_user_id ON entitlements (user_id);
CREATE INDEX IF NOT EXISTS idx_entitlements_expiry ON entitlements (expiry_time);`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

const entitlementColumns = `id, user_id, purchase_token, product_id, purchase_time, expiry_time, is_active, auto_renewing, purchase_state, acknowledged_at, created_at, updated_at`

func scanEntitlement(scanner interface{ Scan(dest ...any) error }) (models.Entitlement, error) {
	var e models.Entitlement
	var acked sql.NullTime
	err := scanner.Scan(&e.ID, &e.UserID, &e.PurchaseToken, &e.ProductID, &e.PurchaseTime,
		&e.ExpiryTime, &e.IsActive, &e.AutoRenewing, &e.PurchaseState, &acked, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return models.Entitlement{}, err
	}
	if acked.Valid {
		t := acked.Time
		e.AcknowledgedAt = &t
	}
	return e, nil
}

// UpsertFromVerification inserts the row or replaces the provider-derived
// fields of an existing one. The ownership check and the write are a single
// statement: the conflict branch only fires when the stored row belongs to
// the same user, so two concurrent first verifications of a brand-new token
// cannot both win, and a verification under a different user returns
// models.ErrOwnershipConflict without mutating anything. acknowledged_at is
// set once and never cleared.
func (r *EntitlementRepository) UpsertFromVerification(ctx context.Context, e models.Entitlement) (models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Entitlement{}, err
	}
	if e.PurchaseToken == "" {
		return models.Entitlement{}, fmt.Errorf("purchase_token is required")
	}

	var acked sql.NullTime
	if e.AcknowledgedAt != nil {
		acked = sql.NullTime{Time: *e.AcknowledgedAt, Valid: true}
	}

	row := r.DB.QueryRowContext(ctx, `
INSERT INTO entitlements (user_id, purchase_token, product_id, purchase_time, expiry_time, is_active, auto_renewing, purchase_state, acknowledged_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (purchase_token) DO UPDATE SET
  product_id = EXCLUDED.product_id,
  purchase_time = EXCLUDED.purchase_time,
  expiry_time = EXCLUDED.expiry_time,
  is_active = EXCLUDED.is_active,
  auto_renewing = EXCLUDED.auto_renewing,
  purchase_state = EXCLUDED.purchase_state,
  acknowledged_at = COALESCE(entitlements.acknowledged_at, EXCLUDED.acknowledged_at),
  updated_at = now()
WHERE entitlements.user_id = EXCLUDED.user_id
RETURNING `+entitlementColumns,
		e.UserID, e.PurchaseToken, e.ProductID, e.PurchaseTime, e.ExpiryTime,
		e.IsActive, e.AutoRenewing, e.PurchaseState, acked,
	)

	saved, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict row exists but under another user.
			return models.Entitlement{}, models.ErrOwnershipConflict
		}
		return models.Entitlement{}, err
	}
	return saved, nil
}

// ApplyNotification performs the reconciler's partial update. Nil fields of
// upd keep their stored values. It never creates rows: an unknown token is
// models.ErrNoRecord, which the reconciler treats as a notification racing
// ahead of the client-driven verification.
func (r *EntitlementRepository) ApplyNotification(ctx context.Context, purchaseToken string, upd models.EntitlementUpdate) (models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Entitlement{}, err
	}

	var isActive, autoRenewing sql.NullBool
	var state sql.NullString
	var expiry sql.NullTime
	if upd.IsActive != nil {
		isActive = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}
	if upd.AutoRenewing != nil {
		autoRenewing = sql.NullBool{Bool: *upd.AutoRenewing, Valid: true}
	}
	if upd.PurchaseState != nil {
		state = sql.NullString{String: *upd.PurchaseState, Valid: true}
	}
	if upd.ExpiryTime != nil {
		expiry = sql.NullTime{Time: *upd.ExpiryTime, Valid: true}
	}

	row := r.DB.QueryRowContext(ctx, `
UPDATE entitlements SET
  is_active = COALESCE($2, is_active),
  auto_renewing = COALESCE($3, auto_renewing),
  purchase_state = COALESCE($4, purchase_state),
  expiry_time = COALESCE($5, expiry_time),
  updated_at = now()
WHERE purchase_token = $1
RETURNING `+entitlementColumns,
		purchaseToken, isActive, autoRenewing, state, expiry,
	)

	saved, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entitlement{}, models.ErrNoRecord
		}
		return models.Entitlement{}, err
	}
	return saved, nil
}

func (r *EntitlementRepository) FindByToken(ctx context.Context, purchaseToken string) (models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Entitlement{}, err
	}
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE purchase_token = $1`,
		purchaseToken,
	)
	e, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entitlement{}, models.ErrNoRecord
		}
		return models.Entitlement{}, err
	}
	return e, nil
}

// FindActiveForUser returns the user's entitlement with the latest future
// expiry among rows still flagged active. The flag is a cache of provider
// truth, so the expiry comparison happens here against the caller's clock.
func (r *EntitlementRepository) FindActiveForUser(ctx context.Context, userID string, now time.Time) (models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Entitlement{}, err
	}
	row := r.DB.QueryRowContext(ctx, `
SELECT `+entitlementColumns+`
FROM entitlements
WHERE user_id = $1 AND is_active = TRUE AND expiry_time > $2
ORDER BY expiry_time DESC
LIMIT 1`,
		userID, now,
	)
	e, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entitlement{}, models.ErrNoRecord
		}
		return models.Entitlement{}, err
	}
	return e, nil
}

// GetOwnerByToken reports which user a purchase token is bound to.
func (r *EntitlementRepository) GetOwnerByToken(ctx context.Context, purchaseToken string) (string, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return "", err
	}
	var userID string
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id FROM entitlements WHERE purchase_token = $1`,
		purchaseToken,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrNoRecord
		}
		return "", err
	}
	return userID, nil
}

// ListStaleActive returns rows still flagged active whose expiry has passed.
// The refresher re-queries the provider for each; the store itself never
// flips a row to expired on its own clock.
func (r *EntitlementRepository) ListStaleActive(ctx context.Context, now time.Time, limit int) ([]models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+entitlementColumns+`
FROM entitlements
WHERE is_active = TRUE AND expiry_time <= $1
ORDER BY expiry_time ASC
LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
