package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"planner-api/domain"
)

const userContextKey = "planner.user"

// authenticate verifies the bearer token and resolves the caller's user
// record, creating it on first sight. The user is stored on the request
// context for the handlers downstream.
func authenticate(auth Authenticator, users domain.UserService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
			user, err := users.Resolve(c.Request().Context(), identity)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, "failed to resolve user")
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// requireSubscriber gates premium routes on an active subscription.
func requireSubscriber(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if user := currentUser(c); user == nil || !user.IsSubscribed {
			return c.String(http.StatusPaymentRequired, "subscription required")
		}
		return next(c)
	}
}

func currentUser(c echo.Context) *domain.User {
	user, _ := c.Get(userContextKey).(*domain.User)
	return user
}
