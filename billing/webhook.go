package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"planner-api/domain"
)

// DefaultTolerance bounds how old a signed webhook payload may be.
const DefaultTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// VerifySignature checks the provider's Stripe-Signature header against the
// raw payload. The header carries a timestamp and one or more v1 signatures,
// each an HMAC-SHA256 of "{timestamp}.{payload}" under the endpoint secret.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleTimestamp
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string `json:"id"`
			Customer          string `json:"customer"`
			Subscription      string `json:"subscription"`
			Mode              string `json:"mode"`
			Status            string `json:"status"`
			CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent normalizes a verified webhook payload into a billing event.
// Event types the planner does not mirror return ok=false.
func ParseEvent(payload []byte) (domain.BillingEvent, bool, error) {
	var env webhookEnvelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return domain.BillingEvent{}, false, err
	}
	obj := env.Data.Object

	ev := domain.BillingEvent{ID: env.ID, CustomerID: obj.Customer}
	switch env.Type {
	case "checkout.session.completed":
		ev.Type = domain.CheckoutCompleted
		ev.SubscriptionID = obj.Subscription
		ev.Mode = obj.Mode
	case "invoice.paid":
		ev.Type = domain.InvoicePaid
	case "customer.subscription.updated":
		ev.Type = domain.SubscriptionUpdated
		ev.SubscriptionID = obj.ID
		ev.Status = obj.Status
	case "customer.subscription.deleted":
		ev.Type = domain.SubscriptionDeleted
		ev.SubscriptionID = obj.ID
		ev.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	case "invoice.payment_failed":
		ev.Type = domain.PaymentFailed
	default:
		return domain.BillingEvent{}, false, nil
	}
	return ev, true, nil
}
