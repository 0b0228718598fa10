package domain

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// UserStore is the persistence surface for user records. InsertUser must fail
// with ErrConcurrencyConflict when the user already exists.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByCustomer(ctx context.Context, customerID string) (*User, error)
	InsertUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
}

// UserService maps verified identities to local user records.
type UserService struct {
	store UserStore
}

func NewUserService(store UserStore) UserService { return UserService{store: store} }

// Resolve returns the user for the identity, creating one on first sight.
func (s UserService) Resolve(ctx context.Context, id Identity) (*User, error) {
	user, err := s.store.GetUser(ctx, id.Subject)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	fresh := User{
		ID:           id.Subject,
		Name:         id.Name,
		Email:        id.Email,
		IsSubscribed: false,
	}
	err = s.store.InsertUser(ctx, fresh)
	if errors.Is(err, ErrConcurrencyConflict) {
		// Another request created the row first.
		return s.store.GetUser(ctx, id.Subject)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("user", fresh.ID).Info("created new user")
	return &fresh, nil
}

// LinkCustomer stores the provider customer id on the user. Keeping any id
// already present wins a race against a concurrent checkout.
func (s UserService) LinkCustomer(ctx context.Context, userID, customerID string) (*User, error) {
	for attempt := 0; ; attempt++ {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNotFound
		}
		if user.StripeCustomerID != "" {
			return user, nil
		}
		user.StripeCustomerID = customerID
		err = s.store.UpdateUser(ctx, *user)
		if retryConflict(err, attempt, userID, "link customer") {
			continue
		}
		if err != nil {
			return nil, err
		}
		return user, nil
	}
}

// MarkCanceled records the cancellation locally ahead of the webhook
// confirming it, so the UI reflects it immediately.
func (s UserService) MarkCanceled(ctx context.Context, userID string) error {
	for attempt := 0; ; attempt++ {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrNotFound
		}
		if user.SubscriptionStatus == StatusCanceled {
			return nil
		}
		user.SubscriptionStatus = StatusCanceled
		err = s.store.UpdateUser(ctx, *user)
		if retryConflict(err, attempt, userID, "mark canceled") {
			continue
		}
		return err
	}
}
