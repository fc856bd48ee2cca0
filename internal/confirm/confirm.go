// Package confirm drives the post-payment confirmation flow: a single
// idempotent confirm for externally-confirmed providers, and a bounded poll
// loop for asynchronously settled ones.
package confirm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
)

const (
	defaultAttempts = 25
	defaultDelay    = 2 * time.Second
)

// Clock is injected so the attempt ceiling is testable without real delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// API is the slice of the upstream client the confirmer needs.
type API interface {
	ConfirmPayment(ctx context.Context, cred, provider, reference string) error
	RefreshSettlement(ctx context.Context, cred, reference string) error
	CheckAccess(ctx context.Context, cred, orderID string) (bool, error)
	ExchangeSSO(ctx context.Context, cred string) (string, error)
}

// EventPublisher receives order-confirmed notifications. Best-effort.
type EventPublisher interface {
	OrderConfirmed(ctx context.Context, orderID, provider string) error
}

type Outcome string

const (
	OutcomeRedirect Outcome = "REDIRECT"
	OutcomeRelogin  Outcome = "RELOGIN"
	OutcomeError    Outcome = "ERROR"
)

// Result tells the caller where to send the user. RedirectAfter is non-zero
// when the redirect should happen after a display delay (error screens).
type Result struct {
	Outcome       Outcome
	Location      string
	Message       string
	RedirectAfter time.Duration
}

// Params come from the payment-result route's query string.
type Params struct {
	Provider  string
	Reference string
	OrderID   string
	Status    string
	Cred      string
}

type Confirmer struct {
	api    API
	events EventPublisher
	clock  Clock

	attempts   int
	delay      time.Duration
	errorDelay time.Duration

	pricingURL string
	loginURL   string
}

func NewConfirmer(api API, events EventPublisher, pricingURL, loginURL string) *Confirmer {
	return &Confirmer{
		api:        api,
		events:     events,
		clock:      realClock{},
		attempts:   defaultAttempts,
		delay:      defaultDelay,
		errorDelay: 5 * time.Second,
		pricingURL: pricingURL,
		loginURL:   loginURL,
	}
}

// WithClock swaps the clock; tests drive the loop with a fake one.
func (c *Confirmer) WithClock(clock Clock) *Confirmer {
	c.clock = clock
	return c
}

// WithPolling overrides the attempt ceiling and inter-attempt delay.
func (c *Confirmer) WithPolling(attempts int, delay time.Duration) *Confirmer {
	if attempts > 0 {
		c.attempts = attempts
	}
	if delay > 0 {
		c.delay = delay
	}
	return c
}

// Run executes the confirmation state machine: Loading -> {Redirecting, Error}.
// Cancellation through ctx stops all further network calls and state writes.
func (c *Confirmer) Run(ctx context.Context, p Params) Result {
	if p.Cred == "" || cancelled(p.Status) {
		// Nothing to confirm: straight back to the offer page, no polling.
		return Result{Outcome: OutcomeRedirect, Location: c.pricingURL}
	}

	if p.Provider == "crypto" {
		return c.pollSettlement(ctx, p)
	}
	return c.confirmOnce(ctx, p)
}

func (c *Confirmer) confirmOnce(ctx context.Context, p Params) Result {
	if err := c.api.ConfirmPayment(ctx, p.Cred, p.Provider, p.Reference); err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return Result{Outcome: OutcomeRelogin, Location: c.loginURL}
		}
		log.Printf("payment confirmation failed for %s: %v", p.Reference, err)
		return Result{
			Outcome:       OutcomeError,
			Location:      c.pricingURL,
			Message:       "payment could not be confirmed",
			RedirectAfter: c.errorDelay,
		}
	}

	c.publish(ctx, p)
	return c.sso(ctx, p.Cred)
}

func (c *Confirmer) pollSettlement(ctx context.Context, p Params) Result {
	// Immediate nudge so server-side settlement detection starts before the
	// first poll delay.
	if err := c.api.RefreshSettlement(ctx, p.Cred, p.Reference); err != nil {
		log.Printf("settlement refresh failed for %s: %v", p.Reference, err)
	}

	for attempt := 0; attempt < c.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeError, Message: "confirmation cancelled"}
		case <-c.clock.After(c.delay):
		}

		// Failures inside the loop never abort it; only the ceiling or an
		// explicit authentication failure ends it early.
		if err := c.api.RefreshSettlement(ctx, p.Cred, p.Reference); err != nil {
			log.Printf("settlement refresh failed for %s: %v", p.Reference, err)
		}

		granted, err := c.api.CheckAccess(ctx, p.Cred, p.OrderID)
		if errors.Is(err, domain.ErrAuthRequired) {
			return Result{Outcome: OutcomeRelogin, Location: c.loginURL}
		}
		if err != nil {
			log.Printf("entitlement check failed for %s: %v", p.OrderID, err)
			continue
		}
		if granted {
			c.publish(ctx, p)
			return c.sso(ctx, p.Cred)
		}
	}

	return Result{
		Outcome:       OutcomeError,
		Location:      c.pricingURL,
		Message:       "payment is still unconfirmed, check your orders later",
		RedirectAfter: c.errorDelay,
	}
}

func (c *Confirmer) sso(ctx context.Context, cred string) Result {
	target, err := c.api.ExchangeSSO(ctx, cred)
	if err != nil {
		log.Printf("sso exchange failed: %v", err)
		return Result{
			Outcome:       OutcomeError,
			Location:      c.pricingURL,
			Message:       "sign-on hand-off failed",
			RedirectAfter: c.errorDelay,
		}
	}
	return Result{Outcome: OutcomeRedirect, Location: target}
}

func (c *Confirmer) publish(ctx context.Context, p Params) {
	if c.events == nil {
		return
	}
	if err := c.events.OrderConfirmed(ctx, p.OrderID, p.Provider); err != nil {
		log.Printf("order confirmed event not published for %s: %v", p.OrderID, err)
	}
}

func cancelled(status string) bool {
	switch status {
	case "cancelled", "canceled", "failed", "error":
		return true
	}
	return false
}
