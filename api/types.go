package api

import (
	"context"

	"planner-api/billing"
	"planner-api/domain"
)

// Authenticator is implemented by types able to extract verified identities
// from Authorization headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// Provider is the outbound payment-provider surface the billing handlers use.
type Provider interface {
	domain.BillingProvider
	RetrieveSubscription(ctx context.Context, id string) (*billing.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) error
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error)
}

// Deduper prevents reprocessing of redelivered webhook events.
type Deduper interface {
	// Add records the event id and returns true if it was newly added.
	Add(ctx context.Context, eventID string) (bool, error)
	// Remove deletes a previously added id, used when processing fails so the
	// provider's retry can go through.
	Remove(ctx context.Context, eventID string) error
}

// Services bundles the domain services the handlers dispatch to.
type Services struct {
	Tasks         domain.TaskService
	Backlogs      domain.BacklogService
	Notes         domain.NoteService
	Users         domain.UserService
	Subscriptions domain.SubscriptionService
}

// Config carries handler-level secrets.
type Config struct {
	// WebhookSecret verifies billing webhook signatures.
	WebhookSecret string
	// PurgeKey guards the internal note purge endpoint.
	PurgeKey string
}
