package purchaseclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monetaBack/internal/models"
)

type fakeBilling struct {
	token     string
	err       error
	purchases []Purchase
	listErr   error
}

func (f *fakeBilling) Purchase(ctx context.Context, productID string) (string, error) {
	return f.token, f.err
}

func (f *fakeBilling) ListPurchases(ctx context.Context) ([]Purchase, error) {
	return f.purchases, f.listErr
}

func readyProbe(b Billing) ProbeFunc {
	return func(ctx context.Context) (Billing, error) { return b, nil }
}

func bearer(tok string) func() string {
	return func() string { return tok }
}

// verifyServer responds like the backend verification endpoint, mapping
// each token to a canned response.
func verifyServer(t *testing.T, responses map[string]func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PurchaseToken string `json:"purchaseToken"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		respond, ok := responses[req.PurchaseToken]
		require.True(t, ok, "unexpected token %q", req.PurchaseToken)
		respond(w)
	}))
}

func respondSuccess(token string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"subscription": models.Entitlement{
				PurchaseToken: token,
				ProductID:     "premium_monthly",
				IsActive:      true,
				ExpiryTime:    time.Now().Add(time.Hour),
			},
		})
	}
}

func respondPending(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{"success": false, "pending": true, "message": "processing"})
}

func respondStatus(status int, msg, code string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
	}
}

func TestBuy_Success(t *testing.T) {
	srv := verifyServer(t, map[string]func(w http.ResponseWriter){
		"tok-1": respondSuccess("tok-1"),
	})
	defer srv.Close()

	var published atomic.Int32
	c := New(Config{
		VerifyURL:     srv.URL,
		BearerToken:   bearer("jwt"),
		Probe:         readyProbe(&fakeBilling{token: "tok-1"}),
		OnEntitlement: func(models.Entitlement) { published.Add(1) },
	})

	res, err := c.Buy(context.Background(), "premium_monthly")
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assert.Equal(t, "tok-1", res.Entitlement.PurchaseToken)
	assert.Equal(t, int32(1), published.Load())
	assert.Equal(t, StateReady, c.State())
}

func TestBuy_NotSignedIn(t *testing.T) {
	c := New(Config{BearerToken: bearer(""), Probe: readyProbe(&fakeBilling{})})
	_, err := c.Buy(context.Background(), "premium_monthly")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestBuy_UserCanceled(t *testing.T) {
	c := New(Config{
		BearerToken: bearer("jwt"),
		Probe:       readyProbe(&fakeBilling{err: ErrPurchaseCanceled}),
	})
	_, err := c.Buy(context.Background(), "premium_monthly")
	assert.ErrorIs(t, err, ErrPurchaseCanceled)
}

func TestBuy_AlreadyLinked(t *testing.T) {
	srv := verifyServer(t, map[string]func(w http.ResponseWriter){
		"tok-1": respondStatus(http.StatusConflict, "linked elsewhere", "PURCHASE_ALREADY_LINKED"),
	})
	defer srv.Close()

	c := New(Config{
		VerifyURL:   srv.URL,
		BearerToken: bearer("jwt"),
		Probe:       readyProbe(&fakeBilling{token: "tok-1"}),
	})
	_, err := c.Buy(context.Background(), "premium_monthly")
	assert.ErrorIs(t, err, ErrAlreadyLinked)
}

func TestBuy_VerificationFailureCarriesServerMessage(t *testing.T) {
	srv := verifyServer(t, map[string]func(w http.ResponseWriter){
		"tok-1": respondStatus(http.StatusBadRequest, "This subscription has already expired. Please purchase a new one.", ""),
	})
	defer srv.Close()

	c := New(Config{
		VerifyURL:   srv.URL,
		BearerToken: bearer("jwt"),
		Probe:       readyProbe(&fakeBilling{token: "tok-1"}),
	})
	_, err := c.Buy(context.Background(), "premium_monthly")

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "already expired")
}

func TestBuy_PendingSchedulesSingleRecheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respondPending(w)
	}))
	defer srv.Close()

	c := New(Config{
		VerifyURL:    srv.URL,
		BearerToken:  bearer("jwt"),
		Probe:        readyProbe(&fakeBilling{token: "tok-1"}),
		RecheckDelay: 20 * time.Millisecond,
	})

	res, err := c.Buy(context.Background(), "premium_monthly")
	require.ErrorIs(t, err, ErrVerificationPending)
	assert.True(t, res.Pending)

	// A second pending submit for the same token must not stack rechecks.
	c.scheduleRecheck("tok-1")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "want initial submit plus exactly one recheck")

	// Once the recheck has run its guard entry is released, so a long-lived
	// client does not accrue one per pending token.
	c.mu.Lock()
	remaining := len(c.rechecks)
	c.mu.Unlock()
	assert.Zero(t, remaining, "recheck guard entry not released")
}

func TestAvailable_ProbeNeverResolves(t *testing.T) {
	c := New(Config{
		BearerToken: bearer("jwt"),
		GraceDelay:  20 * time.Millisecond,
		Probe: func(ctx context.Context) (Billing, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	start := time.Now()
	ok := c.Available(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second, "Available must respect the grace delay")

	_, err := c.Buy(context.Background(), "premium_monthly")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestAvailable_NoProbe(t *testing.T) {
	c := New(Config{BearerToken: bearer("jwt")})
	assert.False(t, c.Available(context.Background()))
	assert.Equal(t, StateUnavailable, c.State())
}

func TestRestore_Aggregation(t *testing.T) {
	srv := verifyServer(t, map[string]func(w http.ResponseWriter){
		"tok-ok":      respondSuccess("tok-ok"),
		"tok-pending": func(w http.ResponseWriter) { respondPending(w) },
		"tok-bad":     respondStatus(http.StatusBadRequest, "cannot be applied", ""),
	})
	defer srv.Close()

	billing := &fakeBilling{purchases: []Purchase{
		{ProductID: "premium_monthly", PurchaseToken: "tok-ok"},
		{ProductID: "premium_monthly", PurchaseToken: "tok-pending"},
		{ProductID: "premium_monthly", PurchaseToken: "tok-bad"},
	}}

	c := New(Config{VerifyURL: srv.URL, BearerToken: bearer("jwt"), Probe: readyProbe(billing)})

	res, err := c.Restore(context.Background())
	require.NoError(t, err, "restore succeeds when at least one purchase verifies")
	assert.Equal(t, RestoreResult{Verified: 1, Pending: 1, Failed: 1}, res)
}

func TestRestore_OnlyPending(t *testing.T) {
	srv := verifyServer(t, map[string]func(w http.ResponseWriter){
		"tok-pending": func(w http.ResponseWriter) { respondPending(w) },
	})
	defer srv.Close()

	billing := &fakeBilling{purchases: []Purchase{{PurchaseToken: "tok-pending"}}}
	c := New(Config{VerifyURL: srv.URL, BearerToken: bearer("jwt"), Probe: readyProbe(billing)})

	_, err := c.Restore(context.Background())
	assert.ErrorIs(t, err, ErrVerificationPending)
}

func TestRestore_NothingRestorable(t *testing.T) {
	billing := &fakeBilling{}
	c := New(Config{BearerToken: bearer("jwt"), Probe: readyProbe(billing)})

	_, err := c.Restore(context.Background())
	assert.ErrorIs(t, err, ErrPurchaseFailed)

	billing.listErr = errors.New("platform unavailable")
	_, err = c.Restore(context.Background())
	assert.ErrorIs(t, err, ErrPurchaseFailed)
}
