package services

import (
	"context"
	"errors"
	"log"

	"firebase.google.com/go/messaging"

	"monetaBack/internal/models"
)

// DeviceTokenStore resolves the FCM registration token for a user.
type DeviceTokenStore interface {
	GetDeviceToken(ctx context.Context, userID string) (string, error)
}

// PushService sends billing state-change notifications to the user's device.
// Failures never surface to callers; a missed push is self-correcting the
// next time the app opens and queries the entitlement endpoint.
type PushService struct {
	Client   *messaging.Client
	Tokens   DeviceTokenStore
	ErrorLog *log.Logger
}

func (s *PushService) NotifySubscriptionState(ctx context.Context, userID, purchaseState string) {
	if s == nil || s.Client == nil || s.Tokens == nil {
		return
	}
	token, err := s.Tokens.GetDeviceToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNoRecord) && s.ErrorLog != nil {
			s.ErrorLog.Printf("[billing] push token lookup failed user=%s err=%v", userID, err)
		}
		return
	}

	title, body := pushText(purchaseState)
	if title == "" {
		return
	}
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":           "billing_state",
			"purchase_state": purchaseState,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := s.Client.Send(ctx, msg); err != nil && s.ErrorLog != nil {
		s.ErrorLog.Printf("[billing] push send failed user=%s state=%s err=%v", userID, purchaseState, err)
	}
}

func pushText(purchaseState string) (title, body string) {
	switch purchaseState {
	case models.PurchaseStateOnHold:
		return "Subscription on hold", "We couldn't process your payment. Update your payment method to keep premium access."
	case models.PurchaseStateGracePeriod:
		return "Payment issue", "Your last renewal failed. Premium stays active while the payment is retried."
	case models.PurchaseStateRevoked:
		return "Subscription refunded", "Your subscription was refunded and premium access has ended."
	default:
		return "", ""
	}
}
