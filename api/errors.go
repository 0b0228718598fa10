package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"planner-api/billing"
	"planner-api/domain"
)

// httpError maps domain and provider failures onto response statuses.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrConflictingUpdate):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateNote):
		return c.String(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return c.String(http.StatusConflict, "concurrent modification, please retry")
	}
	var provErr *billing.Error
	if errors.As(err, &provErr) {
		return c.String(http.StatusBadGateway, provErr.Message)
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, "internal error")
}
