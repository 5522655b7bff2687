package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"monetaBack/internal/models"
	"monetaBack/internal/services"
)

// Verifier runs the synchronous purchase verification path.
type Verifier interface {
	Verify(ctx context.Context, userID, purchaseToken string) (services.VerifyResult, error)
}

// NotificationProcessor applies one provider push message.
type NotificationProcessor interface {
	ProcessNotification(ctx context.Context, messageID, data string)
}

// EntitlementReader is the premium projection.
type EntitlementReader interface {
	ActiveEntitlement(ctx context.Context, userID string) (models.Entitlement, bool, error)
}

// DeviceTokenSaver registers a device for billing pushes.
type DeviceTokenSaver interface {
	SaveDeviceToken(ctx context.Context, userID, fcmToken string) error
}

type BillingHandler struct {
	Verification Verifier
	Reconciler   NotificationProcessor
	Entitlements EntitlementReader
	DeviceTokens DeviceTokenSaver

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

// VerifyPurchase handles POST /billing/google/verify.
func (h *BillingHandler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	if h.Verification == nil {
		jsonError(w, http.StatusNotImplemented, "billing is not configured")
		return
	}
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		jsonError(w, http.StatusUnauthorized, services.UserMessage(models.ErrUnauthorized))
		return
	}

	var req struct {
		PurchaseToken string `json:"purchaseToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, services.UserMessage(models.ErrInvalidInput))
		return
	}
	req.PurchaseToken = strings.TrimSpace(req.PurchaseToken)
	if req.PurchaseToken == "" {
		jsonError(w, http.StatusBadRequest, services.UserMessage(models.ErrInvalidInput))
		return
	}

	if h.InfoLog != nil {
		h.InfoLog.Printf("[billing] verify incoming user=%s token_len=%d", userID, len(req.PurchaseToken))
	}

	result, err := h.Verification.Verify(r.Context(), userID, req.PurchaseToken)
	if err != nil {
		verificationsTotal.WithLabelValues(verifyOutcome(err)).Inc()
		if h.ErrorLog != nil {
			h.ErrorLog.Printf("[billing] verify failed user=%s err=%v", userID, err)
		}
		switch {
		case errors.Is(err, models.ErrOwnershipConflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": services.UserMessage(err),
				"code":  "PURCHASE_ALREADY_LINKED",
			})
		case errors.Is(err, models.ErrUnauthorized):
			jsonError(w, http.StatusUnauthorized, services.UserMessage(err))
		default:
			jsonError(w, http.StatusBadRequest, services.UserMessage(err))
		}
		return
	}

	if result.Pending {
		verificationsTotal.WithLabelValues("pending").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"pending": true,
			"message": "Your payment is still processing. Premium unlocks automatically once it completes.",
		})
		return
	}

	verificationsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"subscription": result.Entitlement,
	})
}

// GoogleNotifications handles POST /billing/google/notifications, the
// Pub/Sub RTDN push endpoint. It always answers 200: the broker retries
// indefinitely on anything else, and a malformed or irrelevant message will
// not get better on redelivery. All internal failures are logged, never
// surfaced.
func (h *BillingHandler) GoogleNotifications(w http.ResponseWriter, r *http.Request) {
	var push struct {
		Message struct {
			Data        string `json:"data"`
			MessageID   string `json:"messageId"`
			PublishTime string `json:"publishTime"`
		} `json:"message"`
		Subscription string `json:"subscription,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		if h.ErrorLog != nil {
			h.ErrorLog.Printf("[billing] rtdn envelope decode failed: %v", err)
		}
		ackWebhook(w)
		return
	}

	notificationsTotal.WithLabelValues("received").Inc()
	if h.Reconciler != nil && push.Message.Data != "" {
		h.Reconciler.ProcessNotification(r.Context(), push.Message.MessageID, push.Message.Data)
	}
	ackWebhook(w)
}

// GetEntitlement handles GET /billing/entitlement.
func (h *BillingHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		jsonError(w, http.StatusUnauthorized, services.UserMessage(models.ErrUnauthorized))
		return
	}
	e, active, err := h.Entitlements.ActiveEntitlement(r.Context(), userID)
	if err != nil {
		if h.ErrorLog != nil {
			h.ErrorLog.Printf("[billing] entitlement lookup failed user=%s err=%v", userID, err)
		}
		jsonError(w, http.StatusInternalServerError, "could not load subscription state")
		return
	}
	resp := map[string]any{"active": active}
	if active {
		resp["subscription"] = e
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterDeviceToken handles POST /billing/device_token.
func (h *BillingHandler) RegisterDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		jsonError(w, http.StatusUnauthorized, services.UserMessage(models.ErrUnauthorized))
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		jsonError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := h.DeviceTokens.SaveDeviceToken(r.Context(), userID, strings.TrimSpace(req.Token)); err != nil {
		if h.ErrorLog != nil {
			h.ErrorLog.Printf("[billing] device token save failed user=%s err=%v", userID, err)
		}
		jsonError(w, http.StatusInternalServerError, "could not save device token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrOwnershipConflict):
		return "ownership_conflict"
	case errors.Is(err, models.ErrAcknowledgment):
		return "acknowledgment_failed"
	case errors.Is(err, models.ErrStoreWrite):
		return "store_write_failed"
	default:
		return "failed"
	}
}

func ackWebhook(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
