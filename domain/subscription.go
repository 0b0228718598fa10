package domain

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Normalized billing lifecycle event types.
const (
	CheckoutCompleted   = "checkout-completed"
	InvoicePaid         = "invoice-paid"
	SubscriptionUpdated = "subscription-updated"
	SubscriptionDeleted = "subscription-deleted"
	PaymentFailed       = "payment-failed"
)

// Subscription status values mirrored locally.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusLifetime = "lifetime"
	StatusCanceled = "canceled"
	StatusDeleted  = "deleted"
	StatusPastDue  = "past_due"
)

// BillingEvent is a payment-provider lifecycle event normalized at the
// webhook boundary.
type BillingEvent struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
	// Status accompanies subscription-updated events.
	Status string
	// Mode distinguishes recurring checkouts ("subscription") from one-time
	// lifetime purchases ("payment") on checkout-completed events.
	Mode string
	// CancelAtPeriodEnd accompanies subscription-deleted events.
	CancelAtPeriodEnd bool
}

// ProviderAction is an outbound provider call the reducer asks its caller to
// perform.
type ProviderAction struct {
	// CancelSubscription names a replaced subscription that must be retired
	// at the provider before the new state is persisted.
	CancelSubscription string
}

// ReduceBilling folds one billing event into the user's mirrored subscription
// state. It returns the updated user, provider actions to run, and whether
// anything changed. Replaying an already-applied event changes nothing and
// requests no actions, so webhook redelivery cannot corrupt state.
func ReduceBilling(user User, ev BillingEvent) (User, []ProviderAction, bool) {
	before := user
	var actions []ProviderAction

	switch ev.Type {
	case CheckoutCompleted:
		user.IsSubscribed = true
		switch {
		case ev.Mode == "subscription" && ev.SubscriptionID != "":
			if user.StripeSubscriptionID != "" && user.StripeSubscriptionID != ev.SubscriptionID {
				actions = append(actions, ProviderAction{CancelSubscription: user.StripeSubscriptionID})
			}
			user.StripeSubscriptionID = ev.SubscriptionID
			user.SubscriptionStatus = StatusActive
		case ev.Mode == "payment":
			user.SubscriptionStatus = StatusLifetime
			if user.StripeSubscriptionID != "" {
				actions = append(actions, ProviderAction{CancelSubscription: user.StripeSubscriptionID})
				user.StripeSubscriptionID = ""
			}
		}

	case InvoicePaid:
		user.IsSubscribed = true
		user.SubscriptionStatus = StatusActive

	case SubscriptionUpdated:
		user.StripeSubscriptionID = ev.SubscriptionID
		user.SubscriptionStatus = ev.Status
		user.IsSubscribed = ev.Status == StatusActive || ev.Status == StatusTrialing

	case SubscriptionDeleted:
		if user.StripeSubscriptionID != ev.SubscriptionID {
			break
		}
		if ev.CancelAtPeriodEnd {
			user.SubscriptionStatus = StatusCanceled
		} else {
			user.SubscriptionStatus = StatusDeleted
			user.IsSubscribed = false
			user.StripeSubscriptionID = ""
		}

	case PaymentFailed:
		user.IsSubscribed = false
		user.SubscriptionStatus = StatusPastDue
	}

	return user, actions, user != before
}

// BillingProvider is the outbound provider surface the mirror needs.
type BillingProvider interface {
	CancelSubscription(ctx context.Context, id string) error
}

// SubscriptionService applies billing events to local user state.
type SubscriptionService struct {
	store    UserStore
	provider BillingProvider
}

func NewSubscriptionService(store UserStore, provider BillingProvider) SubscriptionService {
	return SubscriptionService{store: store, provider: provider}
}

// Apply folds the event into the user row linked to its customer id. Events
// for unknown customers are logged and dropped. Provider actions run before
// the new state is persisted so a persist failure replays them harmlessly.
func (s SubscriptionService) Apply(ctx context.Context, ev BillingEvent) error {
	for attempt := 0; ; attempt++ {
		user, err := s.store.GetUserByCustomer(ctx, ev.CustomerID)
		if err != nil {
			return err
		}
		if user == nil {
			log.WithFields(log.Fields{"event": ev.Type, "customer": ev.CustomerID}).
				Warn("billing event for customer not linked to any user")
			return nil
		}
		updated, actions, changed := ReduceBilling(*user, ev)
		if !changed {
			return nil
		}
		for _, a := range actions {
			if a.CancelSubscription == "" {
				continue
			}
			if err := s.provider.CancelSubscription(ctx, a.CancelSubscription); err != nil {
				log.WithFields(log.Fields{"subscription": a.CancelSubscription}).
					WithError(err).Warn("failed to cancel replaced subscription")
			}
		}
		err = s.store.UpdateUser(ctx, updated)
		if retryConflict(err, attempt, user.ID, "billing event") {
			continue
		}
		return err
	}
}
