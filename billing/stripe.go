package billing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	maxResponseLen = 1 << 20
)

// Client is a minimal Stripe REST client covering the calls the planner
// makes: subscription lookup and cancellation, customer creation, and
// checkout sessions.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Error carries the provider's failure back to the handler layer, which
// reports it as a bad gateway.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stripe: %s (status %d)", e.Message, e.Status)
}

// Subscription mirrors the slice of the provider's subscription object the
// planner reads.
type Subscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	TrialEnd          int64  `json:"trial_end"`
	Items             struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

type SubscriptionItem struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            Price `json:"price"`
}

type Price struct {
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Product    struct {
		Name string `json:"name"`
	} `json:"product"`
}

// CheckoutParams describes a checkout session to create. Mode is
// "subscription" for recurring plans or "payment" for the one-time lifetime
// purchase.
type CheckoutParams struct {
	CustomerID string
	Mode       string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// RetrieveSubscription fetches the subscription with its price and product
// expanded so the plan name and amount come back in one call.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	form := url.Values{}
	form.Add("expand[]", "items.data.price.product")
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels the subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil, nil)
}

// CancelAtPeriodEnd schedules the subscription to end with the current
// billing period instead of cutting access right away.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, id string) error {
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), form, nil)
}

// CreateCustomer registers the user with the provider and returns the new
// customer id.
func (c *Client) CreateCustomer(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	var customer struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a hosted checkout page and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	form := url.Values{}
	form.Set("customer", params.CustomerID)
	form.Set("mode", params.Mode)
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	var session struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	target := c.baseURL + path
	var body io.Reader
	if len(form) > 0 {
		if method == http.MethodGet {
			target += "?" + form.Encode()
		} else {
			body = strings.NewReader(form.Encode())
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.apiKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := "provider request failed"
		if sonic.Unmarshal(data, &failure) == nil && failure.Error.Message != "" {
			msg = failure.Error.Message
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return sonic.Unmarshal(data, out)
}
