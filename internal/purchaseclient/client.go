package purchaseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"monetaBack/internal/models"
)

// Errors surfaced to the caller. None are retried automatically except the
// single pending recheck.
var (
	ErrNotSignedIn         = errors.New("purchaseclient: not signed in")
	ErrServiceUnavailable  = errors.New("purchaseclient: billing capability unavailable")
	ErrPurchaseCanceled    = errors.New("purchaseclient: purchase canceled by user")
	ErrPurchaseFailed      = errors.New("purchaseclient: platform purchase failed")
	ErrVerificationPending = errors.New("purchaseclient: verification pending")
	ErrAlreadyLinked       = errors.New("purchaseclient: purchase linked to another account")
)

// VerificationError carries the server's fixed user-facing message for a
// failed verification.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "purchaseclient: verification failed: " + e.Reason
}

// Purchase is one platform-known purchase, as reported by the billing
// capability.
type Purchase struct {
	ProductID     string
	PurchaseToken string
}

// Billing abstracts the platform billing capability (Play Billing via the
// Digital Goods API on device). Purchase is user-interactive and may be
// canceled at the OS level; implementations report that as
// ErrPurchaseCanceled.
type Billing interface {
	Purchase(ctx context.Context, productID string) (purchaseToken string, err error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
}

// ProbeFunc resolves the billing capability. On unsupported platforms it may
// block until its context expires or fail outright.
type ProbeFunc func(ctx context.Context) (Billing, error)

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateUnavailable
)

type Config struct {
	// VerifyURL is the backend verification endpoint.
	VerifyURL string
	// BearerToken returns the caller's identity token; empty means signed out.
	BearerToken func() string

	Probe      ProbeFunc
	HTTPClient *http.Client

	// GraceDelay bounds how long Available and purchase preconditions wait
	// for an in-flight probe. Default 2s; the probe may simply never resolve.
	GraceDelay time.Duration
	// ProbeTimeout bounds one probe attempt. Default 10s.
	ProbeTimeout time.Duration
	// RecheckDelay is the single automatic pending recheck. Default 30s.
	RecheckDelay time.Duration

	// OnEntitlement is invoked whenever verification returns a fresh row, so
	// the app can refresh its premium projection.
	OnEntitlement func(models.Entitlement)

	ErrorLog *log.Logger
}

type Result struct {
	Pending     bool
	Entitlement models.Entitlement
}

type RestoreResult struct {
	Verified int
	Pending  int
	Failed   int
}

// Client drives the device-side purchase flow: probe the billing capability,
// run the platform purchase, submit the opaque token for server-side
// verification. It holds no entitlement state of its own.
type Client struct {
	cfg Config

	mu       sync.Mutex
	state    State
	billing  Billing
	waitCh   chan struct{}
	rechecks map[string]bool
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 2 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.RecheckDelay <= 0 {
		cfg.RecheckDelay = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		state:    StateUninitialized,
		rechecks: make(map[string]bool),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Init kicks off an asynchronous capability probe. Safe to call repeatedly;
// a probe already in flight is left alone.
func (c *Client) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
}

func (c *Client) initLocked() {
	if c.state == StateInitializing || c.state == StateReady {
		return
	}
	if c.cfg.Probe == nil {
		c.state = StateUnavailable
		return
	}
	c.state = StateInitializing
	done := make(chan struct{})
	c.waitCh = done

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ProbeTimeout)
		defer cancel()
		b, err := c.cfg.Probe(ctx)

		c.mu.Lock()
		if err != nil || b == nil {
			c.state = StateUnavailable
			c.billing = nil
		} else {
			c.state = StateReady
			c.billing = b
		}
		c.mu.Unlock()
		close(done)
	}()
}

// Available reports whether the billing capability is ready, waiting at most
// the grace delay for an in-flight probe. An unresolved probe counts as
// unavailable; it never blocks indefinitely.
func (c *Client) Available(ctx context.Context) bool {
	b, _ := c.awaitBilling(ctx)
	return b != nil
}

func (c *Client) awaitBilling(ctx context.Context) (Billing, error) {
	c.mu.Lock()
	if c.state == StateUninitialized || c.state == StateUnavailable {
		// Bounded re-initialization before giving up.
		c.state = StateUninitialized
		c.initLocked()
	}
	b := c.billing
	wait := c.waitCh
	c.mu.Unlock()

	if b != nil {
		return b, nil
	}

	timer := time.NewTimer(c.cfg.GraceDelay)
	defer timer.Stop()
	if wait != nil {
		select {
		case <-wait:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ErrServiceUnavailable
		}
	}

	c.mu.Lock()
	b = c.billing
	c.mu.Unlock()
	if b == nil {
		return nil, ErrServiceUnavailable
	}
	return b, nil
}

// Buy runs the platform billing flow for the product and submits the
// resulting token for verification. A server-side pending result is not a
// user-facing failure: one automatic recheck is scheduled and the webhook
// path handles anything after that.
func (c *Client) Buy(ctx context.Context, productID string) (Result, error) {
	if c.cfg.BearerToken == nil || c.cfg.BearerToken() == "" {
		return Result{}, ErrNotSignedIn
	}
	billing, err := c.awaitBilling(ctx)
	if err != nil {
		return Result{}, err
	}

	token, err := billing.Purchase(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrPurchaseCanceled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
	}

	ent, err := c.submit(ctx, token)
	if err != nil {
		if errors.Is(err, ErrVerificationPending) {
			c.scheduleRecheck(token)
			return Result{Pending: true}, err
		}
		return Result{}, err
	}
	return Result{Entitlement: ent}, nil
}

// Restore re-submits every platform-known purchase through the verification
// path. Overall success requires at least one verified, non-pending result.
func (c *Client) Restore(ctx context.Context) (RestoreResult, error) {
	if c.cfg.BearerToken == nil || c.cfg.BearerToken() == "" {
		return RestoreResult{}, ErrNotSignedIn
	}
	billing, err := c.awaitBilling(ctx)
	if err != nil {
		return RestoreResult{}, err
	}

	purchases, err := billing.ListPurchases(ctx)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
	}

	var res RestoreResult
	for _, p := range purchases {
		_, err := c.submit(ctx, p.PurchaseToken)
		switch {
		case err == nil:
			res.Verified++
		case errors.Is(err, ErrVerificationPending):
			res.Pending++
		default:
			res.Failed++
			c.logError("restore: token_len=%d err=%v", len(p.PurchaseToken), err)
		}
	}

	if res.Verified > 0 {
		return res, nil
	}
	if res.Pending > 0 {
		return res, ErrVerificationPending
	}
	return res, fmt.Errorf("%w: no restorable purchases", ErrPurchaseFailed)
}

func (c *Client) submit(ctx context.Context, purchaseToken string) (models.Entitlement, error) {
	bearer := c.cfg.BearerToken()
	if bearer == "" {
		return models.Entitlement{}, ErrNotSignedIn
	}

	body, _ := json.Marshal(map[string]string{"purchaseToken": purchaseToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.VerifyURL, bytes.NewReader(body))
	if err != nil {
		return models.Entitlement{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return models.Entitlement{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return models.Entitlement{}, ErrNotSignedIn
	case http.StatusConflict:
		return models.Entitlement{}, ErrAlreadyLinked
	case http.StatusOK:
		var out struct {
			Success      bool               `json:"success"`
			Pending      bool               `json:"pending"`
			Message      string             `json:"message"`
			Subscription models.Entitlement `json:"subscription"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return models.Entitlement{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
		}
		if out.Pending {
			return models.Entitlement{}, ErrVerificationPending
		}
		if !out.Success {
			return models.Entitlement{}, &VerificationError{Reason: out.Message}
		}
		if c.cfg.OnEntitlement != nil {
			c.cfg.OnEntitlement(out.Subscription)
		}
		return out.Subscription, nil
	default:
		var out struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &out)
		if out.Error == "" {
			out.Error = resp.Status
		}
		return models.Entitlement{}, &VerificationError{Reason: out.Error}
	}
}

// scheduleRecheck queues exactly one automatic re-verification of a pending
// token. Anything beyond that single attempt is the webhook reconciler's
// job.
func (c *Client) scheduleRecheck(purchaseToken string) {
	c.mu.Lock()
	if c.rechecks[purchaseToken] {
		c.mu.Unlock()
		return
	}
	c.rechecks[purchaseToken] = true
	c.mu.Unlock()

	time.AfterFunc(c.cfg.RecheckDelay, func() {
		defer func() {
			c.mu.Lock()
			delete(c.rechecks, purchaseToken)
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.submit(ctx, purchaseToken); err != nil && !errors.Is(err, ErrVerificationPending) {
			c.logError("pending recheck: token_len=%d err=%v", len(purchaseToken), err)
		}
	})
}

func (c *Client) logError(format string, args ...any) {
	if c.cfg.ErrorLog != nil {
		c.cfg.ErrorLog.Printf("[purchase] "+format, args...)
	}
}
