package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"monetaBack/internal/models"
)

type GooglePlayConfig struct {
	PackageName        string
	ServiceAccountJSON string
}

// GooglePlayService wraps the Play Developer API. Credential exchange (the
// signed service-account assertion for a short-lived access token) is
// delegated to the client library, which also caches the token for its
// validity window.
type GooglePlayService struct {
	cfg GooglePlayConfig
	svc *androidpublisher.Service
}

func NewGooglePlayService(cfg GooglePlayConfig) (*GooglePlayService, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, errors.New("GOOGLE_PLAY_PACKAGE_NAME is empty")
	}
	if strings.TrimSpace(cfg.ServiceAccountJSON) == "" {
		return nil, errors.New("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON is empty")
	}

	ctx := context.Background()
	s, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}

	return &GooglePlayService{cfg: cfg, svc: s}, nil
}

func (s *GooglePlayService) PackageName() string {
	return s.cfg.PackageName
}

// GetSubscription fetches the authoritative state for one purchase token.
func (s *GooglePlayService) GetSubscription(ctx context.Context, subscriptionID, token string) (models.GoogleSubscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	token = strings.TrimSpace(token)
	if subscriptionID == "" || token == "" {
		return models.GoogleSubscription{}, fmt.Errorf("%w: subscription_id and purchase_token are required", models.ErrInvalidInput)
	}

	resp, err := s.svc.Purchases.Subscriptions.Get(s.cfg.PackageName, subscriptionID, token).
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == 401 || gerr.Code == 403) {
			return models.GoogleSubscription{}, fmt.Errorf("%w: google subscriptions.get: %v", models.ErrProviderAuth, err)
		}
		return models.GoogleSubscription{}, fmt.Errorf("%w: google subscriptions.get: %v", models.ErrProviderQuery, err)
	}

	raw, _ := json.Marshal(resp)

	sub := models.GoogleSubscription{
		ProductID:     subscriptionID,
		PurchaseToken: token,
		OrderID:       resp.OrderId,
		PackageName:   s.cfg.PackageName,

		AutoRenewing: resp.AutoRenewing,
		// PaymentState: 0 pending, 1 received, 2 free trial, 3 deferred
		PaymentPending: int64PtrEq(resp.PaymentState, 0),
		Acknowledged:   resp.AcknowledgementState == 1,

		Raw: string(raw),
	}
	if resp.StartTimeMillis > 0 {
		sub.PurchaseTime = time.UnixMilli(resp.StartTimeMillis).UTC()
	}
	if resp.ExpiryTimeMillis > 0 {
		sub.ExpiryTime = time.UnixMilli(resp.ExpiryTimeMillis).UTC()
	}
	return sub, nil
}

// AcknowledgeSubscription confirms receipt of payment with the provider.
// Unacknowledged purchases are auto-refunded after the provider's grace
// window, so the caller must not record an active entitlement unless this
// succeeds. A repeat acknowledgment of the same token is reported by the
// provider as an error; that case is treated as success so retried
// verifications stay idempotent end to end.
func (s *GooglePlayService) AcknowledgeSubscription(ctx context.Context, subscriptionID, token string) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	token = strings.TrimSpace(token)
	if subscriptionID == "" || token == "" {
		return fmt.Errorf("%w: subscription_id and purchase_token are required", models.ErrInvalidInput)
	}

	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
	err := s.svc.Purchases.Subscriptions.Acknowledge(s.cfg.PackageName, subscriptionID, token, req).
		Context(ctx).
		Do()
	if err != nil && !isAlreadyAcknowledged(err) {
		return fmt.Errorf("%w: google subscriptions.acknowledge: %v", models.ErrAcknowledgment, err)
	}
	return nil
}

func isAlreadyAcknowledged(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code != 400 {
		return false
	}
	msg := strings.ToLower(gerr.Message)
	if strings.Contains(msg, "already") && strings.Contains(msg, "acknowledged") {
		return true
	}
	for _, item := range gerr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "alreadyacknowledged") {
			return true
		}
	}
	return false
}

func int64PtrEq(v *int64, want int64) bool {
	return v != nil && *v == want
}
