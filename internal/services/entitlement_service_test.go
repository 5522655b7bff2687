package services

import (
	"context"
	"testing"
	"time"
)

func TestActiveEntitlement(t *testing.T) {
	t.Run("no row means not premium", func(t *testing.T) {
		svc := &EntitlementService{Store: newFakeStore()}
		_, active, err := svc.ActiveEntitlement(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if active {
			t.Error("expected inactive with empty store")
		}
	})

	t.Run("live row is premium", func(t *testing.T) {
		store := newFakeStore()
		store.rows["tok-1"] = activeRow("tok-1", time.Now().Add(time.Hour))
		svc := &EntitlementService{Store: store}

		e, active, err := svc.ActiveEntitlement(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !active {
			t.Fatal("expected active entitlement")
		}
		if e.PurchaseToken != "tok-1" {
			t.Errorf("token = %q", e.PurchaseToken)
		}
	})

	t.Run("stale flag does not grant premium", func(t *testing.T) {
		store := newFakeStore()
		row := activeRow("tok-1", time.Now().Add(-time.Minute))
		store.rows["tok-1"] = row
		svc := &EntitlementService{Store: store}

		_, active, err := svc.ActiveEntitlement(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if active {
			t.Error("expired expiry must read as not premium even with is_active set")
		}
	})
}
