package services

import (
	"context"
	"errors"
	"time"

	"monetaBack/internal/models"
)

// EntitlementService is the read-only premium projection consumed by the
// rest of the application. Premium is always derived from the store plus a
// live expiry check, never cached as mutable global state.
type EntitlementService struct {
	Store EntitlementStore
}

// ActiveEntitlement returns the caller's currently active entitlement, if
// any. The second return is false both when no row matches and when the
// best row's stored flag is stale relative to the clock.
func (s *EntitlementService) ActiveEntitlement(ctx context.Context, userID string) (models.Entitlement, bool, error) {
	now := time.Now()
	e, err := s.Store.FindActiveForUser(ctx, userID, now)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			return models.Entitlement{}, false, nil
		}
		return models.Entitlement{}, false, err
	}
	if !e.ActiveNow(now) {
		return models.Entitlement{}, false, nil
	}
	return e, true, nil
}
