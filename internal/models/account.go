package models

import "time"

// SubscriptionStatus is the authoritative billing state of an account.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Account represents one customer's billing/subscription state. Accounts are
// created by the signup flow; the webhook pipeline only ever mutates them.
// Identified by the composite key (AccountRef, TenantRef).
type Account struct {
	AccountRef              string             `json:"account_ref"`
	TenantRef               string             `json:"tenant_ref"`
	ExternalCustomerRef     *string            `json:"external_customer_ref,omitempty"`
	SubscriptionStatus      SubscriptionStatus `json:"subscription_status"`
	ExternalSubscriptionRef *string            `json:"external_subscription_ref,omitempty"`
	PlanRef                 *string            `json:"plan_ref,omitempty"`
	PeriodEnd               *time.Time         `json:"period_end,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// MapStripeSubscriptionStatus converts a Stripe subscription status string to
// the internal SubscriptionStatus. Anything that no longer grants access maps
// to cancelled.
func MapStripeSubscriptionStatus(status string) SubscriptionStatus {
	switch status {
	case "trialing":
		return SubscriptionTrial
	case "active":
		return SubscriptionActive
	case "past_due", "unpaid":
		return SubscriptionPastDue
	default:
		return SubscriptionCancelled
	}
}
