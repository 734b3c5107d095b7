package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/admitly/backend/internal/models"
)

const maxBodyBytes = 65536

// AccountStore defines the behaviour required from the storage client backing
// the webhook pipeline. The pipeline only ever mutates existing accounts.
type AccountStore interface {
	FindByKey(ctx context.Context, accountRef, tenantRef string) (*models.Account, error)
	FindByCustomerRef(ctx context.Context, customerRef string) (*models.Account, error)
	UpdateFields(ctx context.Context, accountRef, tenantRef string, fields map[string]any) (*models.Account, error)
}

// Handler processes Stripe webhook deliveries. Each delivery is an
// independent, stateless invocation; idempotency comes from handlers
// unconditionally overwriting the fields their event kind owns.
type Handler struct {
	store     AccountStore
	secret    string
	tolerance time.Duration
}

// NewHandler creates a webhook Handler. A zero tolerance falls back to
// DefaultTolerance.
func NewHandler(store AccountStore, secret string, tolerance time.Duration) *Handler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Handler{
		store:     store,
		secret:    secret,
		tolerance: tolerance,
	}
}

// RegisterRoutes registers the webhook route.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/stripe", h.HandleWebhook())
}

// HandleWebhook verifies, dispatches, and reconciles one webhook delivery.
//
// Response contract: 400 for signature-level failures (the sender is not
// Stripe, or the payload is unusable; retries will not help), 200 for
// everything handled or deliberately dropped, and 500 only for store
// failures, which are the one case the upstream should retry.
func (h *Handler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Failed to read body"})
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" || h.secret == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing signature or webhook secret"})
			return
		}

		event, err := ConstructEvent(body, sigHeader, h.secret, h.tolerance)
		if err != nil {
			if errors.Is(err, ErrMalformedPayload) {
				log.Printf("[webhook] signed payload is not a valid event envelope: %v", err)
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
				return
			}
			log.Printf("[webhook] signature verification failed: %v", err)
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid signature"})
			return
		}

		log.Printf("[webhook] received event %s (type: %s)", event.ID, event.Type)

		if err := h.processEvent(r.Context(), event); err != nil {
			log.Printf("[webhook] processing %s failed: %v", event.Type, err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Webhook processing failed"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

// processEvent routes the trusted envelope to the handler for its event kind.
// Unknown kinds are logged and succeed; the upstream adds kinds we do not
// control. A returned error means a store failure worth an upstream retry.
func (h *Handler) processEvent(ctx context.Context, event models.StripeEvent) error {
	switch event.Type {
	case "checkout.session.completed":
		var session models.StripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handleCheckoutCompleted(ctx, session)

	case "customer.subscription.created":
		var sub models.StripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handleSubscriptionCreated(ctx, sub)

	case "customer.subscription.updated":
		var sub models.StripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handleSubscriptionUpdated(ctx, sub)

	case "customer.subscription.deleted":
		var sub models.StripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handleSubscriptionDeleted(ctx, sub)

	case "invoice.payment_succeeded":
		var invoice models.StripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handlePaymentSucceeded(ctx, invoice)

	case "invoice.payment_failed":
		var invoice models.StripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			log.Printf("[webhook] %s: undecodable object, dropping: %v", event.Type, err)
			return nil
		}
		return h.handlePaymentFailed(ctx, invoice)

	default:
		log.Printf("[webhook] unhandled event type: %s", event.Type)
		return nil
	}
}

// handleCheckoutCompleted activates the subscription for the account named in
// the session metadata. This is the only event kind resolved by explicit
// reference, and the one that assigns external_customer_ref (the join key
// every later event resolves through).
func (h *Handler) handleCheckoutCompleted(ctx context.Context, session models.StripeCheckoutSession) error {
	accountRef := session.Metadata["account_ref"]
	tenantRef := session.Metadata["tenant_ref"]
	if accountRef == "" || tenantRef == "" {
		log.Printf("[webhook] checkout.session.completed %s: missing account_ref/tenant_ref metadata, dropping", session.ID)
		return nil
	}

	account, err := h.store.FindByKey(ctx, accountRef, tenantRef)
	if err != nil {
		return fmt.Errorf("find account (%s,%s): %w", accountRef, tenantRef, err)
	}
	if account == nil {
		log.Printf("[webhook] checkout.session.completed %s: account (%s,%s) not found, dropping", session.ID, accountRef, tenantRef)
		return nil
	}

	fields := map[string]any{
		"subscription_status": models.SubscriptionActive,
	}
	if session.Customer != "" {
		fields["external_customer_ref"] = session.Customer
	}
	if session.Subscription != "" {
		fields["external_subscription_ref"] = session.Subscription
	}

	if _, err := h.store.UpdateFields(ctx, accountRef, tenantRef, fields); err != nil {
		return fmt.Errorf("activate account (%s,%s): %w", accountRef, tenantRef, err)
	}

	log.Printf("[webhook] checkout completed: account (%s,%s) activated, customer=%s", accountRef, tenantRef, session.Customer)
	return nil
}

// handleSubscriptionCreated attaches the subscription identity, plan, and
// period to the account owning the customer reference.
func (h *Handler) handleSubscriptionCreated(ctx context.Context, sub models.StripeSubscription) error {
	account, err := h.resolveByCustomer(ctx, "customer.subscription.created", sub.Customer)
	if err != nil || account == nil {
		return err
	}

	fields := map[string]any{
		"external_subscription_ref": sub.ID,
		"plan_ref":                  nullableString(sub.PriceID()),
		"period_end":                epochToTime(sub.CurrentPeriodEnd),
	}

	if _, err := h.store.UpdateFields(ctx, account.AccountRef, account.TenantRef, fields); err != nil {
		return fmt.Errorf("attach subscription %s: %w", sub.ID, err)
	}

	log.Printf("[webhook] subscription %s attached to account (%s,%s)", sub.ID, account.AccountRef, account.TenantRef)
	return nil
}

// handleSubscriptionUpdated overwrites the subscription status, plan, and
// period for the owning account. When the processor reports a terminal
// status, the subscription identity is cleared as well so a cancelled
// account never points at a subscription.
func (h *Handler) handleSubscriptionUpdated(ctx context.Context, sub models.StripeSubscription) error {
	account, err := h.resolveByCustomer(ctx, "customer.subscription.updated", sub.Customer)
	if err != nil || account == nil {
		return err
	}

	status := models.MapStripeSubscriptionStatus(sub.Status)
	fields := map[string]any{
		"subscription_status": status,
		"plan_ref":            nullableString(sub.PriceID()),
		"period_end":          epochToTime(sub.CurrentPeriodEnd),
	}
	if status == models.SubscriptionCancelled {
		fields["external_subscription_ref"] = nil
	}

	if _, err := h.store.UpdateFields(ctx, account.AccountRef, account.TenantRef, fields); err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}

	log.Printf("[webhook] subscription %s updated: account (%s,%s) status=%s", sub.ID, account.AccountRef, account.TenantRef, status)
	return nil
}

// handleSubscriptionDeleted clears the subscription identity and marks the
// account cancelled.
func (h *Handler) handleSubscriptionDeleted(ctx context.Context, sub models.StripeSubscription) error {
	account, err := h.resolveByCustomer(ctx, "customer.subscription.deleted", sub.Customer)
	if err != nil || account == nil {
		return err
	}

	fields := map[string]any{
		"subscription_status":       models.SubscriptionCancelled,
		"external_subscription_ref": nil,
	}

	if _, err := h.store.UpdateFields(ctx, account.AccountRef, account.TenantRef, fields); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
	}

	log.Printf("[webhook] subscription %s deleted: account (%s,%s) cancelled", sub.ID, account.AccountRef, account.TenantRef)
	return nil
}

// handlePaymentSucceeded extends the paid period from the invoice line
// period. The invoice's subscription reference is not required to match the
// stored one; a mismatch is logged but the update still applies.
func (h *Handler) handlePaymentSucceeded(ctx context.Context, invoice models.StripeInvoice) error {
	account, err := h.resolveByCustomer(ctx, "invoice.payment_succeeded", invoice.Customer)
	if err != nil || account == nil {
		return err
	}

	if invoice.Subscription != "" && account.ExternalSubscriptionRef != nil && invoice.Subscription != *account.ExternalSubscriptionRef {
		log.Printf("[webhook] invoice %s references subscription %s but account (%s,%s) stores %s",
			invoice.ID, invoice.Subscription, account.AccountRef, account.TenantRef, *account.ExternalSubscriptionRef)
	}

	periodEnd := invoice.PeriodEnd()
	if periodEnd == 0 {
		log.Printf("[webhook] invoice %s has no line period, dropping", invoice.ID)
		return nil
	}

	fields := map[string]any{
		"period_end": epochToTime(periodEnd),
	}

	if _, err := h.store.UpdateFields(ctx, account.AccountRef, account.TenantRef, fields); err != nil {
		return fmt.Errorf("extend period for invoice %s: %w", invoice.ID, err)
	}

	log.Printf("[webhook] payment succeeded: account (%s,%s) period extended to %s", account.AccountRef, account.TenantRef, epochToTime(periodEnd))
	return nil
}

// handlePaymentFailed marks the account past_due without touching the
// subscription identity or plan.
func (h *Handler) handlePaymentFailed(ctx context.Context, invoice models.StripeInvoice) error {
	account, err := h.resolveByCustomer(ctx, "invoice.payment_failed", invoice.Customer)
	if err != nil || account == nil {
		return err
	}

	fields := map[string]any{
		"subscription_status": models.SubscriptionPastDue,
	}

	if _, err := h.store.UpdateFields(ctx, account.AccountRef, account.TenantRef, fields); err != nil {
		return fmt.Errorf("mark past_due for invoice %s: %w", invoice.ID, err)
	}

	log.Printf("[webhook] payment failed: account (%s,%s) marked past_due", account.AccountRef, account.TenantRef)
	return nil
}

// resolveByCustomer finds the account linked to the processor-assigned
// customer reference. A missing mapping is a dropped event, not an error:
// the account may not have completed checkout metadata propagation yet.
func (h *Handler) resolveByCustomer(ctx context.Context, eventType, customerRef string) (*models.Account, error) {
	if customerRef == "" {
		log.Printf("[webhook] %s: missing customer reference, dropping", eventType)
		return nil, nil
	}

	account, err := h.store.FindByCustomerRef(ctx, customerRef)
	if err != nil {
		return nil, fmt.Errorf("find account by customer %s: %w", customerRef, err)
	}
	if account == nil {
		log.Printf("[webhook] %s: no account for customer %s, dropping", eventType, customerRef)
		return nil, nil
	}
	return account, nil
}

func epochToTime(seconds int64) any {
	if seconds <= 0 {
		return nil
	}
	return time.Unix(seconds, 0).UTC()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
