package models

import "encoding/json"

// StripeEvent is the webhook event envelope: {id, type, data: {object: ...}}.
// Data.Object is kept raw so each handler can decode its own payload shape.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
	Created int64 `json:"created"`
}

// StripeCheckoutSession is the data.object of checkout.session.completed.
// Metadata carries the {account_ref, tenant_ref} pair stamped at session
// creation time; it is the only linkage back to a local account for this
// event kind.
type StripeCheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// StripeSubscription is the data.object of customer.subscription.* events.
type StripeSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first non-empty price ID from the subscription items.
func (s StripeSubscription) PriceID() string {
	for _, item := range s.Items.Data {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// StripeInvoice is the data.object of invoice.payment_succeeded and
// invoice.payment_failed events. Lines carry the billing period covered by
// the invoice; PeriodEnd is what payment_succeeded extends access to.
type StripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Lines        struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// PeriodEnd returns the latest line period end on the invoice, in epoch
// seconds, or 0 when the invoice has no lines.
func (i StripeInvoice) PeriodEnd() int64 {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}

// CheckoutRequest is a request to create a Stripe Checkout session for an
// account.
type CheckoutRequest struct {
	AccountRef string `json:"account_ref"`
	TenantRef  string `json:"tenant_ref"`
	PriceRef   string `json:"price_ref"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CheckoutResponse is the response from creating a checkout session.
type CheckoutResponse struct {
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}
