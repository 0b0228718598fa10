package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func getMe() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, currentUser(c))
	}
}
