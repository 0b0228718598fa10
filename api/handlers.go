package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const requestBodyLimit = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, auth Authenticator, provider Provider, deduper Deduper, cfg Config, logger *log.Logger) {
	e.GET("/healthz", healthz())

	// The webhook authenticates by signature, not bearer token, and the purge
	// endpoint by shared key, so both stay outside the authenticated group.
	e.POST("/api/billing/webhook", billingWebhook(svc.Subscriptions, deduper, cfg.WebhookSecret, logger))
	e.POST("/internal/notes/purge", purgeNotes(svc.Notes, cfg.PurgeKey, logger))

	authed := e.Group("/api", authenticate(auth, svc.Users))
	authed.GET("/tasks", getTasks(svc.Tasks))
	authed.GET("/tasks/completion", getCompletion(svc.Tasks))
	authed.POST("/tasks", postTask(svc.Tasks, logger))
	authed.PATCH("/tasks/:id", patchTask(svc.Tasks, logger))
	authed.DELETE("/tasks/:id", deleteTask(svc.Tasks, logger))

	authed.GET("/users/me", getMe())

	bill := authed.Group("/billing")
	bill.GET("/subscription", getSubscriptionStatus(provider))
	bill.POST("/checkout", postCheckout(svc.Users, provider))
	bill.POST("/cancel", postCancelSubscription(svc.Users, provider))

	subscribed := authed.Group("", requireSubscriber)
	subscribed.GET("/backlogs", getBacklogs(svc.Backlogs))
	subscribed.POST("/backlogs", postBacklog(svc.Backlogs, logger))
	subscribed.PATCH("/backlogs/:id", patchBacklog(svc.Backlogs, logger))
	subscribed.DELETE("/backlogs/:id", deleteBacklog(svc.Backlogs, logger))
	subscribed.GET("/notes", getNote(svc.Notes))
	subscribed.POST("/notes", postNote(svc.Notes))
	subscribed.PATCH("/notes/:date", patchNote(svc.Notes))
	subscribed.POST("/notes/:date/clear", clearNote(svc.Notes))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody strictly decodes a size-bounded JSON request body.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyLimit)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
