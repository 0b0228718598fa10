package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planner-api/domain"
)

type createBacklogRequest struct {
	Detail string `json:"detail"`
}

func getBacklogs(backlogs domain.BacklogService) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := backlogs.List(c.Request().Context(), currentUser(c).ID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func postBacklog(backlogs domain.BacklogService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "backlogs.create")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var req createBacklogRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if req.Detail == "" {
			metrics.SetErrorStage("missing_detail")
			err = c.String(http.StatusBadRequest, "detail is required")
			return err
		}

		applyStart := time.Now()
		item, createErr := backlogs.Create(c.Request().Context(), currentUser(c).ID, req.Detail)
		metrics.ObserveApply(time.Since(applyStart))
		if createErr != nil {
			metrics.SetErrorStage("apply")
			err = httpError(c, createErr)
			return err
		}
		err = c.JSON(http.StatusCreated, item)
		return err
	}
}

func patchBacklog(backlogs domain.BacklogService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "backlogs.update")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var patch domain.BacklogPatch
		if decodeErr := decodeBody(c, &patch); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}

		applyStart := time.Now()
		item, updateErr := backlogs.Update(c.Request().Context(), currentUser(c).ID, c.Param("id"), patch)
		metrics.ObserveApply(time.Since(applyStart))
		if updateErr != nil {
			metrics.SetErrorStage("apply")
			err = httpError(c, updateErr)
			return err
		}
		err = c.JSON(http.StatusOK, item)
		return err
	}
}

func deleteBacklog(backlogs domain.BacklogService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "backlogs.delete")
		defer func() { metrics.Log(c.Response().Status, err) }()

		applyStart := time.Now()
		deleteErr := backlogs.Delete(c.Request().Context(), currentUser(c).ID, c.Param("id"))
		metrics.ObserveApply(time.Since(applyStart))
		if deleteErr != nil {
			metrics.SetErrorStage("apply")
			err = httpError(c, deleteErr)
			return err
		}
		err = c.NoContent(http.StatusNoContent)
		return err
	}
}
