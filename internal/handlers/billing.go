package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/admitly/backend/internal/models"
)

// AccountReader defines the behaviour required from the storage client
// backing the billing read endpoints.
type AccountReader interface {
	FindByKey(ctx context.Context, accountRef, tenantRef string) (*models.Account, error)
}

// CheckoutClient defines the behaviour required from the Stripe client
// backing the checkout handler.
type CheckoutClient interface {
	CreateCheckoutSession(accountRef, tenantRef, priceID, successURL, cancelURL string) (sessionID, sessionURL string, err error)
}

// GetSubscriptionState creates an HTTP handler that returns the reconciled
// subscription state for an account.
func GetSubscriptionState(store AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountRef := strings.TrimSpace(r.URL.Query().Get("account_ref"))
		tenantRef := strings.TrimSpace(r.URL.Query().Get("tenant_ref"))
		if accountRef == "" || tenantRef == "" {
			http.Error(w, "account_ref and tenant_ref query parameters are required", http.StatusBadRequest)
			return
		}

		account, err := store.FindByKey(r.Context(), accountRef, tenantRef)
		if err != nil {
			log.Printf("GetSubscriptionState: failed to load account: %v", err)
			http.Error(w, "failed to load account", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"account": account,
		})
	}
}

// CreateCheckout creates an HTTP handler that starts a Stripe Checkout
// session for an account. The account/tenant pair is stamped into the session
// metadata, which the checkout-completed webhook later reads back.
func CreateCheckout(store AccountReader, client CheckoutClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}

		if req.AccountRef == "" || req.TenantRef == "" || req.PriceRef == "" {
			http.Error(w, "account_ref, tenant_ref and price_ref are required", http.StatusBadRequest)
			return
		}

		account, err := store.FindByKey(r.Context(), req.AccountRef, req.TenantRef)
		if err != nil {
			log.Printf("CreateCheckout: failed to load account: %v", err)
			http.Error(w, "failed to load account", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}

		sessionID, sessionURL, err := client.CreateCheckoutSession(
			req.AccountRef,
			req.TenantRef,
			req.PriceRef,
			req.SuccessURL,
			req.CancelURL,
		)
		if err != nil {
			log.Printf("CreateCheckout: Stripe error: %v", err)
			http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.CheckoutResponse{
			SessionID:  sessionID,
			SessionURL: sessionURL,
		})
	}
}
