package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"monetaBack/internal/models"
)

// NotificationDeduper marks a transport message id and reports whether it was
// already handled. Implemented by repositories.NotificationDedup.
type NotificationDeduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// StatePusher notifies the user's device about billing state changes.
type StatePusher interface {
	NotifySubscriptionState(ctx context.Context, userID, purchaseState string)
}

// RTDN payload carried inside the Pub/Sub envelope.
type developerNotification struct {
	Version     string `json:"version,omitempty"`
	PackageName string `json:"packageName,omitempty"`

	SubscriptionNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionId   string `json:"subscriptionId"`
	} `json:"subscriptionNotification,omitempty"`
}

// ReconcilerService applies provider-initiated subscription changes to the
// store. It never creates rows and never propagates errors to the transport:
// the push contract requires unconditional acknowledgment, so every failure
// is absorbed and logged.
type ReconcilerService struct {
	Store       EntitlementStore
	Play        PlayStoreClient
	Dedup       NotificationDeduper
	PackageName string
	ProductID   string

	Events EventPublisher
	Push   StatePusher

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

// ProcessNotification handles one decoded Pub/Sub message. data is the
// base64-encoded RTDN payload. All outcomes are terminal; the HTTP handler
// has already committed to answering 200.
func (s *ReconcilerService) ProcessNotification(ctx context.Context, messageID, data string) {
	if data == "" {
		return
	}
	if s.Dedup != nil {
		seen, err := s.Dedup.Seen(ctx, messageID)
		if err != nil {
			// Dedupe is storm suppression only; processing is idempotent.
			s.logError("rtdn dedupe check failed message=%s err=%v", messageID, err)
		} else if seen {
			return
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		s.logError("rtdn decode failed message=%s err=%v", messageID, err)
		return
	}
	var notif developerNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		s.logError("rtdn unmarshal failed message=%s err=%v", messageID, err)
		return
	}

	if notif.PackageName != s.PackageName {
		return
	}
	if notif.SubscriptionNotification == nil {
		// Other notification kinds (one-time products, voided purchases) are
		// out of scope for the entitlement store.
		return
	}

	token := strings.TrimSpace(notif.SubscriptionNotification.PurchaseToken)
	sku := strings.TrimSpace(notif.SubscriptionNotification.SubscriptionId)
	if token == "" || sku == "" {
		return
	}

	existing, err := s.Store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			// A brand-new purchase racing ahead of the client-driven
			// verification. That path creates the row after ownership and
			// acknowledgment checks; the reconciler only ever updates.
			return
		}
		s.logError("rtdn store lookup failed message=%s err=%v", messageID, err)
		return
	}

	// The notification carries only a change-type code. Re-fetch the
	// authoritative state before writing anything.
	fresh, err := s.Play.GetSubscription(ctx, sku, token)
	if err != nil {
		s.logError("rtdn provider query failed message=%s err=%v", messageID, err)
		return
	}

	s.apply(ctx, existing, notif.SubscriptionNotification.NotificationType, fresh)
}

func (s *ReconcilerService) apply(ctx context.Context, existing models.Entitlement, notificationType int, fresh models.GoogleSubscription) {
	upd, ok := PlanNotificationUpdate(existing, notificationType, fresh, time.Now())
	if !ok {
		return
	}

	row, err := s.Store.ApplyNotification(ctx, existing.PurchaseToken, upd)
	if err != nil {
		s.logError("rtdn store update failed token_len=%d type=%d err=%v", len(existing.PurchaseToken), notificationType, err)
		return
	}

	if s.InfoLog != nil {
		s.InfoLog.Printf("[billing] reconciled user=%s type=%d state=%s active=%v", row.UserID, notificationType, row.PurchaseState, row.IsActive)
	}
	if s.Events != nil {
		s.Events.PublishEntitlement(row.UserID, row)
	}
	if s.Push != nil {
		switch row.PurchaseState {
		case models.PurchaseStateOnHold, models.PurchaseStateRevoked, models.PurchaseStateGracePeriod:
			s.Push.NotifySubscriptionState(ctx, row.UserID, row.PurchaseState)
		}
	}
}

// RefreshStale re-syncs rows still flagged active whose expiry has passed.
// The store never infers a transition from its own clock; it asks the
// provider again and applies whatever comes back.
func (s *ReconcilerService) RefreshStale(ctx context.Context, lister interface {
	ListStaleActive(ctx context.Context, now time.Time, limit int) ([]models.Entitlement, error)
}, now time.Time) (int, error) {
	stale, err := lister.ListStaleActive(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, row := range stale {
		fresh, err := s.Play.GetSubscription(ctx, row.ProductID, row.PurchaseToken)
		if err != nil {
			s.logError("stale refresh provider query failed token_len=%d err=%v", len(row.PurchaseToken), err)
			continue
		}
		// Unmapped type: fall back to syncing from live provider state.
		s.apply(ctx, row, 0, fresh)
		refreshed++
	}
	return refreshed, nil
}

func (s *ReconcilerService) logError(format string, args ...any) {
	if s.ErrorLog != nil {
		s.ErrorLog.Printf("[billing] "+format, args...)
	}
}

// PlanNotificationUpdate maps a notification type plus the freshly fetched
// provider state to a partial store update. Pure: no I/O, fully table-driven,
// independent of transport. The second return is false for a no-op.
func PlanNotificationUpdate(existing models.Entitlement, notificationType int, fresh models.GoogleSubscription, now time.Time) (models.EntitlementUpdate, bool) {
	upd := models.EntitlementUpdate{}
	if !fresh.ExpiryTime.IsZero() {
		t := fresh.ExpiryTime
		upd.ExpiryTime = &t
	}
	autoRenew := fresh.AutoRenewing
	upd.AutoRenewing = &autoRenew

	setActive := func(v bool) { upd.IsActive = &v }
	setState := func(v string) { upd.PurchaseState = &v }

	switch notificationType {
	case models.NotificationRecovered:
		setActive(fresh.Active(now))
		setState(models.PurchaseStateActive)
	case models.NotificationRenewed:
		setActive(true)
		setState(models.PurchaseStateActive)
	case models.NotificationCanceled:
		// Access survives until natural expiry; only renewal stops.
		off := false
		upd.AutoRenewing = &off
		setState(models.PurchaseStateCanceled)
	case models.NotificationOnHold:
		setActive(false)
		setState(models.PurchaseStateOnHold)
	case models.NotificationInGracePeriod:
		setState(models.PurchaseStateGracePeriod)
	case models.NotificationRestarted:
		setActive(true)
		setState(models.PurchaseStateActive)
	case models.NotificationRevoked:
		setActive(false)
		setState(models.PurchaseStateRevoked)
	case models.NotificationExpired:
		setActive(false)
		setState(models.PurchaseStateExpired)
	default:
		// Unknown or informational type: sync the activity flag from live
		// provider state, leave purchase_state alone.
		setActive(fresh.Active(now))
	}
	return upd, true
}
