package domain

// User is a local user record. The billing fields mirror the payment
// provider's state and are only written by the subscription mirror and by
// identity resolution.
type User struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Email                string `json:"email"`
	StripeCustomerID     string `json:"-"`
	StripeSubscriptionID string `json:"-"`
	SubscriptionStatus   string `json:"subscriptionStatus,omitempty"`
	IsSubscribed         bool   `json:"isSubscribed"`

	ETag string `json:"-"`
}

// Identity is the verified external identity of a caller.
type Identity struct {
	Subject string
	Name    string
	Email   string
}
