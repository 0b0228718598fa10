package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planner-api/billing"
	"planner-api/domain"
)

const webhookBodyLimit = 256 << 10

type subscriptionStatusResponse struct {
	IsSubscribed      bool     `json:"isSubscribed"`
	Status            string   `json:"status"`
	PeriodEndDate     string   `json:"periodEndDate,omitempty"`
	CancelAtPeriodEnd *bool    `json:"cancelAtPeriodEnd,omitempty"`
	PlanName          string   `json:"planName,omitempty"`
	PriceAmount       *float64 `json:"priceAmount,omitempty"`
	PriceCurrency     string   `json:"priceCurrency,omitempty"`
}

type checkoutRequest struct {
	Mode       string `json:"mode"`
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// getSubscriptionStatus reports the caller's subscription, pulling period end
// and plan details live from the provider for recurring plans.
func getSubscriptionStatus(provider Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := currentUser(c)
		if user.StripeSubscriptionID == "" {
			if user.SubscriptionStatus == domain.StatusLifetime {
				amount := 29.99
				return c.JSON(http.StatusOK, subscriptionStatusResponse{
					IsSubscribed:  true,
					Status:        domain.StatusLifetime,
					PlanName:      "Lifetime Access",
					PriceAmount:   &amount,
					PriceCurrency: "USD",
				})
			}
			return c.JSON(http.StatusOK, subscriptionStatusResponse{Status: "none"})
		}

		sub, err := provider.RetrieveSubscription(c.Request().Context(), user.StripeSubscriptionID)
		if err != nil {
			return httpError(c, err)
		}
		resp := subscriptionStatusResponse{
			IsSubscribed:      sub.Status == domain.StatusActive,
			Status:            sub.Status,
			CancelAtPeriodEnd: &sub.CancelAtPeriodEnd,
		}
		if len(sub.Items.Data) > 0 {
			item := sub.Items.Data[0]
			periodEnd := item.CurrentPeriodEnd
			if periodEnd == 0 {
				periodEnd = sub.TrialEnd
			}
			if periodEnd > 0 {
				resp.PeriodEndDate = time.Unix(periodEnd, 0).UTC().Format("Jan 02, 2006")
			}
			amount := float64(item.Price.UnitAmount) / 100
			resp.PlanName = item.Price.Product.Name
			resp.PriceAmount = &amount
			resp.PriceCurrency = strings.ToUpper(item.Price.Currency)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// postCheckout creates a hosted checkout session, registering the user with
// the provider first if this is their first purchase.
func postCheckout(users domain.UserService, provider Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req checkoutRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Mode != "subscription" && req.Mode != "payment" {
			return c.String(http.StatusBadRequest, "mode must be subscription or payment")
		}
		if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
			return c.String(http.StatusBadRequest, "priceId, successUrl and cancelUrl are required")
		}

		ctx := c.Request().Context()
		user := currentUser(c)
		if user.StripeCustomerID == "" {
			customerID, err := provider.CreateCustomer(ctx, user.Email)
			if err != nil {
				return httpError(c, err)
			}
			user, err = users.LinkCustomer(ctx, user.ID, customerID)
			if err != nil {
				return httpError(c, err)
			}
		}

		url, err := provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
			CustomerID: user.StripeCustomerID,
			Mode:       req.Mode,
			PriceID:    req.PriceID,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"url": url})
	}
}

// postCancelSubscription schedules the subscription to end with the current
// billing period and marks it canceled locally right away.
func postCancelSubscription(users domain.UserService, provider Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := currentUser(c)
		if user.StripeSubscriptionID == "" {
			return c.String(http.StatusBadRequest, "no active subscription to cancel")
		}
		if err := provider.CancelAtPeriodEnd(ctx, user.StripeSubscriptionID); err != nil {
			return httpError(c, err)
		}
		if err := users.MarkCanceled(ctx, user.ID); err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Subscription will be canceled at the end of the current billing period.",
		})
	}
}

// billingWebhook verifies, deduplicates and applies provider lifecycle
// events. Redelivered events are acknowledged without reprocessing.
func billingWebhook(subs domain.SubscriptionService, deduper Deduper, secret string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookBodyLimit))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid payload")
		}
		sig := c.Request().Header.Get("Stripe-Signature")
		if err := billing.VerifySignature(payload, sig, secret, billing.DefaultTolerance, time.Now()); err != nil {
			logger.WithError(err).Warn("rejected billing webhook")
			return c.String(http.StatusBadRequest, "invalid signature")
		}

		ev, ok, err := billing.ParseEvent(payload)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid payload")
		}
		if !ok {
			return c.JSON(http.StatusOK, map[string]bool{"received": true})
		}

		ctx := c.Request().Context()
		fresh, err := deduper.Add(ctx, ev.ID)
		if err != nil {
			// Redis being down must not drop billing events; the reducer is
			// idempotent anyway.
			logger.WithError(err).Warn("webhook dedup unavailable, processing anyway")
			fresh = true
		}
		if !fresh {
			return c.JSON(http.StatusOK, map[string]bool{"received": true})
		}

		if err := subs.Apply(ctx, ev); err != nil {
			if removeErr := deduper.Remove(ctx, ev.ID); removeErr != nil {
				logger.WithError(removeErr).Warn("failed to release webhook dedup key")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to process event")
		}
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}
}
