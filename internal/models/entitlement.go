package models

import "time"

// Purchase states mirrored from provider-reported subscription state.
// IsActive is a projection of these, not a synonym: canceled and grace_period
// rows stay active until the expiry actually passes.
const (
	PurchaseStatePending     = "pending"
	PurchaseStateActive      = "active"
	PurchaseStateCanceled    = "canceled"
	PurchaseStateOnHold      = "on_hold"
	PurchaseStateGracePeriod = "grace_period"
	PurchaseStateExpired     = "expired"
	PurchaseStateRevoked     = "revoked"
)

// Google RTDN subscription notification types.
const (
	NotificationRecovered     = 1
	NotificationRenewed       = 2
	NotificationCanceled      = 3
	NotificationPurchased     = 4
	NotificationOnHold        = 5
	NotificationInGracePeriod = 6
	NotificationRestarted     = 7
	NotificationRevoked       = 12
	NotificationExpired       = 13
)

// Entitlement is one row per purchase token. A user accumulates historical
// rows across purchases; at most one is active at query time. Rows are never
// deleted, expired and revoked ones stay for audit and so a token can never
// be re-verified under another account.
type Entitlement struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	PurchaseToken  string     `json:"purchase_token"`
	ProductID      string     `json:"product_id"`
	PurchaseTime   time.Time  `json:"purchase_time"`
	ExpiryTime     time.Time  `json:"expiry_time"`
	IsActive       bool       `json:"is_active"`
	AutoRenewing   bool       `json:"auto_renewing"`
	PurchaseState  string     `json:"purchase_state"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ActiveNow reports whether the row grants premium access at the given
// instant. IsActive is provider truth as of the last sync, so callers that
// need "active right now" must also compare the expiry against the clock.
func (e Entitlement) ActiveNow(now time.Time) bool {
	return e.IsActive && e.ExpiryTime.After(now)
}

// EntitlementUpdate is a partial update applied by the webhook reconciler.
// Nil fields keep their stored values.
type EntitlementUpdate struct {
	IsActive      *bool
	AutoRenewing  *bool
	PurchaseState *string
	ExpiryTime    *time.Time
}
