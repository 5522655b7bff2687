package models

import "time"

// GoogleSubscription is the authoritative state of one purchase token as
// returned by the Play Developer API subscriptions.get endpoint. Client
// supplied state is never trusted; both write paths re-fetch this before
// touching the store.
type GoogleSubscription struct {
	ProductID     string
	PurchaseToken string
	OrderID       string
	PackageName   string

	PurchaseTime time.Time
	ExpiryTime   time.Time

	AutoRenewing   bool
	PaymentPending bool
	Acknowledged   bool

	Raw string
}

// Active reports whether the provider considers the subscription paid up at
// the given instant. Canceled-but-not-expired still counts.
func (g GoogleSubscription) Active(now time.Time) bool {
	return !g.PaymentPending && !g.ExpiryTime.IsZero() && g.ExpiryTime.After(now)
}
