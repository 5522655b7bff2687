package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"monetaBack/internal/models"
)

// How far in the future a pending row's placeholder expiry sits. The true
// expiry is unknown until payment completes; the refresher re-queries the
// provider if no webhook resolves it first.
const pendingPlaceholderTTL = 48 * time.Hour

// EntitlementStore is the durable record of subscription state, keyed by
// purchase token. Implemented by repositories.EntitlementRepository.
type EntitlementStore interface {
	UpsertFromVerification(ctx context.Context, e models.Entitlement) (models.Entitlement, error)
	ApplyNotification(ctx context.Context, purchaseToken string, upd models.EntitlementUpdate) (models.Entitlement, error)
	FindByToken(ctx context.Context, purchaseToken string) (models.Entitlement, error)
	FindActiveForUser(ctx context.Context, userID string, now time.Time) (models.Entitlement, error)
	GetOwnerByToken(ctx context.Context, purchaseToken string) (string, error)
}

// PlayStoreClient is the authoritative billing provider API. Implemented by
// GooglePlayService.
type PlayStoreClient interface {
	GetSubscription(ctx context.Context, subscriptionID, token string) (models.GoogleSubscription, error)
	AcknowledgeSubscription(ctx context.Context, subscriptionID, token string) error
}

// EventPublisher fans an updated entitlement out to the owner's connected
// sessions. Implementations must not block.
type EventPublisher interface {
	PublishEntitlement(userID string, e models.Entitlement)
}

// ReconciliationArchive keeps raw provider responses for purchases that were
// acknowledged but could not be recorded locally, so an operator can
// reconcile by hand.
type ReconciliationArchive interface {
	Upload(ctx context.Context, key string, body []byte) (string, error)
}

type VerificationService struct {
	Store     EntitlementStore
	Play      PlayStoreClient
	ProductID string

	Events  EventPublisher
	Archive ReconciliationArchive

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

type VerifyResult struct {
	Pending     bool
	Entitlement models.Entitlement
}

// Verify runs the synchronous, user-initiated path: authoritative provider
// query, product and expiry validation, token-ownership check, mandatory
// acknowledgment, then the upsert. Client-supplied state is never trusted;
// the provider query is the single source of truth.
func (s *VerificationService) Verify(ctx context.Context, userID, purchaseToken string) (VerifyResult, error) {
	if strings.TrimSpace(userID) == "" {
		return VerifyResult{}, models.ErrUnauthorized
	}
	purchaseToken = strings.TrimSpace(purchaseToken)
	if purchaseToken == "" {
		return VerifyResult{}, models.ErrInvalidInput
	}

	sub, err := s.Play.GetSubscription(ctx, s.ProductID, purchaseToken)
	if err != nil {
		return VerifyResult{}, err
	}

	now := time.Now()

	if sub.PaymentPending {
		// Record the attempt without granting anything and without
		// acknowledging; the webhook path or the scheduled client recheck
		// picks it up once payment completes.
		row, err := s.Store.UpsertFromVerification(ctx, models.Entitlement{
			UserID:        userID,
			PurchaseToken: purchaseToken,
			ProductID:     s.ProductID,
			PurchaseTime:  now,
			ExpiryTime:    now.Add(pendingPlaceholderTTL),
			IsActive:      false,
			AutoRenewing:  sub.AutoRenewing,
			PurchaseState: models.PurchaseStatePending,
		})
		if err != nil {
			if errors.Is(err, models.ErrOwnershipConflict) {
				return VerifyResult{}, err
			}
			return VerifyResult{}, fmt.Errorf("%w: %v", models.ErrStoreWrite, err)
		}
		return VerifyResult{Pending: true, Entitlement: row}, nil
	}

	if sub.ExpiryTime.IsZero() {
		return VerifyResult{}, fmt.Errorf("%w: subscription has no expiry", models.ErrSubscriptionNotActive)
	}
	// The provider query above is already scoped to the configured SKU, and
	// GooglePlayService echoes that SKU back, so with the live client this
	// cannot fire. It guards PlayStoreClient implementations that report a
	// product id of their own.
	if sub.ProductID != s.ProductID {
		return VerifyResult{}, models.ErrInvalidProduct
	}
	if !sub.ExpiryTime.After(now) {
		return VerifyResult{}, models.ErrAlreadyExpired
	}

	// Anti-theft: a purchase token belongs to one user for life. The upsert
	// below enforces this atomically; checking first avoids acknowledging a
	// purchase we will refuse to record.
	if owner, err := s.Store.GetOwnerByToken(ctx, purchaseToken); err == nil {
		if owner != "" && owner != userID {
			return VerifyResult{}, models.ErrOwnershipConflict
		}
	} else if !errors.Is(err, models.ErrNoRecord) {
		return VerifyResult{}, fmt.Errorf("%w: check purchase owner: %v", models.ErrStoreWrite, err)
	}

	if !sub.Acknowledged {
		if err := s.Play.AcknowledgeSubscription(ctx, s.ProductID, purchaseToken); err != nil {
			return VerifyResult{}, err
		}
	}

	ackedAt := now
	row, err := s.Store.UpsertFromVerification(ctx, models.Entitlement{
		UserID:         userID,
		PurchaseToken:  purchaseToken,
		ProductID:      s.ProductID,
		PurchaseTime:   purchaseTimeOr(sub.PurchaseTime, now),
		ExpiryTime:     sub.ExpiryTime,
		IsActive:       true,
		AutoRenewing:   sub.AutoRenewing,
		PurchaseState:  models.PurchaseStateActive,
		AcknowledgedAt: &ackedAt,
	})
	if err != nil {
		if errors.Is(err, models.ErrOwnershipConflict) {
			return VerifyResult{}, err
		}
		// Money has moved (acknowledgment succeeded) but the local record
		// failed. No automatic retry: archive the raw provider response and
		// flag for manual reconciliation.
		s.flagForReconciliation(ctx, userID, purchaseToken, sub, err)
		return VerifyResult{}, fmt.Errorf("%w: %v", models.ErrStoreWrite, err)
	}

	if s.Events != nil {
		s.Events.PublishEntitlement(row.UserID, row)
	}
	if s.InfoLog != nil {
		s.InfoLog.Printf("[billing] verified user=%s product=%s expiry=%s", userID, s.ProductID, row.ExpiryTime.Format(time.RFC3339))
	}
	return VerifyResult{Entitlement: row}, nil
}

func (s *VerificationService) flagForReconciliation(ctx context.Context, userID, purchaseToken string, sub models.GoogleSubscription, cause error) {
	key := fmt.Sprintf("reconcile/%s.json", uuid.NewString())
	location := ""
	if s.Archive != nil {
		if loc, err := s.Archive.Upload(ctx, key, []byte(sub.Raw)); err == nil {
			location = loc
		} else if s.ErrorLog != nil {
			s.ErrorLog.Printf("[billing] RECONCILE archive upload failed key=%s err=%v", key, err)
		}
	}
	if s.ErrorLog != nil {
		s.ErrorLog.Printf("[billing] RECONCILE REQUIRED acknowledged purchase not recorded user=%s token_len=%d order=%s archive=%s cause=%v",
			userID, len(purchaseToken), sub.OrderID, location, cause)
	}
}

func purchaseTimeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// UserMessage collapses the verification error taxonomy to the fixed set of
// user-facing messages. Internal detail stays in server logs.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, models.ErrInvalidInput):
		return "The purchase could not be read. Please try again."
	case errors.Is(err, models.ErrOwnershipConflict):
		return "This purchase is already linked to another account."
	case errors.Is(err, models.ErrAlreadyExpired):
		return "This subscription has already expired. Please purchase a new one."
	case errors.Is(err, models.ErrInvalidProduct):
		return "This purchase cannot be applied to your account. Please contact support."
	case errors.Is(err, models.ErrSubscriptionNotActive):
		return "Your payment has not completed yet. Please wait a moment and try again."
	case errors.Is(err, models.ErrStoreWrite):
		return "Something went wrong while saving your subscription. Please contact support."
	default:
		return "Purchase verification failed. Please try again later."
	}
}
