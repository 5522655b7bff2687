package main

import (
	"context"
	"log"
	"time"

	"monetaBack/internal/repositories"
	"monetaBack/internal/services"
)

const (
	refresherInterval = 6 * time.Hour
	refresherTimeout  = 1 * time.Minute
)

// startEntitlementRefresher periodically re-checks rows whose stored expiry
// has passed while is_active is still set. This is the safety net for
// notifications that never arrived.
func startEntitlementRefresher(ctx context.Context, repo *repositories.EntitlementRepository, reconciler *services.ReconcilerService, infoLog, errorLog *log.Logger) {
	if repo == nil || reconciler == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(refresherInterval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, refresherTimeout)
			refreshed, err := reconciler.RefreshStale(runCtx, repo, time.Now().UTC())
			cancel()
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("entitlement refresher: %v", err)
				}
			} else if refreshed > 0 && infoLog != nil {
				infoLog.Printf("entitlement refresher: re-checked %d stale entitlements", refreshed)
			}
		}

		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}
