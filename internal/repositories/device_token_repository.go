package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"monetaBack/internal/models"
)

// DeviceTokenRepository stores one FCM registration token per user, used for
// billing state-change pushes.
type DeviceTokenRepository struct {
	DB   *sql.DB
	once sync.Once
	err  error
}

func NewDeviceTokenRepository(db *sql.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{DB: db}
}

func (r *DeviceTokenRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS billing_device_tokens (
  user_id TEXT PRIMARY KEY,
  fcm_token TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

func (r *DeviceTokenRepository) SaveDeviceToken(ctx context.Context, userID, fcmToken string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO billing_device_tokens (user_id, fcm_token)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET fcm_token = EXCLUDED.fcm_token, updated_at = now()`,
		userID, fcmToken,
	)
	return err
}

func (r *DeviceTokenRepository) GetDeviceToken(ctx context.Context, userID string) (string, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return "", err
	}
	var token string
	err := r.DB.QueryRowContext(ctx,
		`SELECT fcm_token FROM billing_device_tokens WHERE user_id = $1`,
		userID,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrNoRecord
		}
		return "", err
	}
	return token, nil
}
