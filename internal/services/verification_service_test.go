package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"monetaBack/internal/models"
)

func newVerification(store *fakeStore, play *fakePlay) *VerificationService {
	return &VerificationService{
		Store:     store,
		Play:      play,
		ProductID: "premium_monthly",
	}
}

func TestVerify_ActivePurchase(t *testing.T) {
	store := newFakeStore()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	play := &fakePlay{sub: models.GoogleSubscription{
		ProductID:    "premium_monthly",
		ExpiryTime:   expiry,
		AutoRenewing: true,
	}}

	res, err := newVerification(store, play).Verify(context.Background(), "user-1", "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pending {
		t.Error("active purchase reported pending")
	}
	if play.ackCalls != 1 {
		t.Errorf("ack calls = %d, want 1", play.ackCalls)
	}

	row := res.Entitlement
	if !row.IsActive {
		t.Error("entitlement not active")
	}
	if row.UserID != "user-1" || row.PurchaseToken != "tok-1" {
		t.Errorf("row identity = %q/%q", row.UserID, row.PurchaseToken)
	}
	if !row.ExpiryTime.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", row.ExpiryTime, expiry)
	}
	if row.AcknowledgedAt == nil {
		t.Error("acknowledged_at not set")
	}
}

func TestVerify_AlreadyAcknowledgedSkipsAck(t *testing.T) {
	store := newFakeStore()
	play := &fakePlay{sub: models.GoogleSubscription{
		ProductID:    "premium_monthly",
		ExpiryTime:   time.Now().Add(time.Hour),
		Acknowledged: true,
	}}

	if _, err := newVerification(store, play).Verify(context.Background(), "user-1", "tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if play.ackCalls != 0 {
		t.Errorf("ack calls = %d, want 0 for already-acknowledged purchase", play.ackCalls)
	}
}

func TestVerify_PendingPaymentRecordsInactiveRow(t *testing.T) {
	store := newFakeStore()
	play := &fakePlay{sub: models.GoogleSubscription{
		ProductID:      "premium_monthly",
		PaymentPending: true,
	}}

	res, err := newVerification(store, play).Verify(context.Background(), "user-1", "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Pending {
		t.Fatal("expected pending result")
	}
	if play.ackCalls != 0 {
		t.Error("pending purchase must not be acknowledged")
	}

	row := store.rows["tok-1"]
	if row.IsActive {
		t.Error("pending row must not grant access")
	}
	if row.PurchaseState != models.PurchaseStatePending {
		t.Errorf("purchase state = %q, want pending", row.PurchaseState)
	}
}

func TestVerify_OwnershipConflict(t *testing.T) {
	store := newFakeStore()
	store.rows["tok-1"] = models.Entitlement{
		UserID:        "owner",
		PurchaseToken: "tok-1",
		ProductID:     "premium_monthly",
	}
	play := &fakePlay{sub: models.GoogleSubscription{
		ProductID:  "premium_monthly",
		ExpiryTime: time.Now().Add(time.Hour),
	}}

	_, err := newVerification(store, play).Verify(context.Background(), "thief", "tok-1")
	if !errors.Is(err, models.ErrOwnershipConflict) {
		t.Fatalf("err = %v, want ErrOwnershipConflict", err)
	}
	if play.ackCalls != 0 {
		t.Error("conflicting purchase must not be acknowledged")
	}
	if store.rows["tok-1"].UserID != "owner" {
		t.Errorf("owner changed to %q", store.rows["tok-1"].UserID)
	}
}

func TestVerify_SameUserReVerifyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	play := &fakePlay{sub: models.GoogleSubscription{
		ProductID:    "premium_monthly",
		ExpiryTime:   time.Now().Add(time.Hour),
		Acknowledged: true,
	}}
	svc := newVerification(store, play)

	if _, err := svc.Verify(context.Background(), "user-1", "tok-1"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := svc.Verify(context.Background(), "user-1", "tok-1"); err != nil {
		t.Fatalf("second verify: %v", err)
	}
}

func TestVerify_AckFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	play := &fakePlay{
		sub: models.GoogleSubscription{
			ProductID:  "premium_monthly",
			ExpiryTime: time.Now().Add(time.Hour),
		},
		ackErr: models.ErrAcknowledgment,
	}

	_, err := newVerification(store, play).Verify(context.Background(), "user-1", "tok-1")
	if !errors.Is(err, models.ErrAcknowledgment) {
		t.Fatalf("err = %v, want ErrAcknowledgment", err)
	}
	if len(store.upserts) != 0 {
		t.Error("store written despite acknowledgment failure")
	}
}

func TestVerify_Rejections(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		sub  models.GoogleSubscription
		want error
	}{
		{
			name: "expired purchase",
			sub:  models.GoogleSubscription{ProductID: "premium_monthly", ExpiryTime: time.Now().Add(-time.Minute)},
			want: models.ErrAlreadyExpired,
		},
		{
			name: "wrong product",
			sub:  models.GoogleSubscription{ProductID: "some_other_sku", ExpiryTime: future},
			want: models.ErrInvalidProduct,
		},
		{
			name: "no expiry",
			sub:  models.GoogleSubscription{ProductID: "premium_monthly"},
			want: models.ErrSubscriptionNotActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			play := &fakePlay{sub: tt.sub}
			_, err := newVerification(store, play).Verify(context.Background(), "user-1", "tok-1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if play.ackCalls != 0 {
				t.Error("rejected purchase must not be acknowledged")
			}
			if len(store.upserts) != 0 {
				t.Error("rejected purchase must not be recorded")
			}
		})
	}
}

func TestVerify_InputValidation(t *testing.T) {
	store := newFakeStore()
	play := &fakePlay{}
	svc := newVerification(store, play)

	if _, err := svc.Verify(context.Background(), "", "tok-1"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("empty user: err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Verify(context.Background(), "user-1", "   "); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("blank token: err = %v, want ErrInvalidInput", err)
	}
	if play.getCalls != 0 {
		t.Error("provider queried before input validation")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{models.ErrOwnershipConflict, "This purchase is already linked to another account."},
		{models.ErrAlreadyExpired, "This subscription has already expired. Please purchase a new one."},
		{models.ErrUnauthorized, "Your session has expired. Please sign in again."},
		{errors.New("googleapi: 500"), "Purchase verification failed. Please try again later."},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
