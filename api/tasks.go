package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planner-api/domain"
)

type createTaskRequest struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Note  string `json:"note"`
}

// dateRange reads the optional start/end query params. A lone bound is
// ignored; a full pair must be two valid dates in order.
func dateRange(c echo.Context) (string, string, bool) {
	start := c.QueryParam("start")
	end := c.QueryParam("end")
	if start == "" || end == "" {
		return "", "", true
	}
	if !validDate(start) || !validDate(end) || end < start {
		return "", "", false
	}
	return start, end, true
}

func getTasks(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		start, end, ok := dateRange(c)
		if !ok {
			return c.String(http.StatusBadRequest, "invalid date range")
		}
		list, err := tasks.List(c.Request().Context(), currentUser(c).ID, start, end)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func getCompletion(tasks domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		start, end, ok := dateRange(c)
		if !ok {
			return c.String(http.StatusBadRequest, "invalid date range")
		}
		summary, err := tasks.Completion(c.Request().Context(), currentUser(c).ID, start, end)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, summary)
	}
}

func postTask(tasks domain.TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "tasks.create")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var req createTaskRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if !validDate(req.Date) {
			metrics.SetErrorStage("invalid_date")
			err = c.String(http.StatusBadRequest, "invalid date")
			return err
		}
		if req.Title == "" {
			metrics.SetErrorStage("missing_title")
			err = c.String(http.StatusBadRequest, "title is required")
			return err
		}

		applyStart := time.Now()
		task, createErr := tasks.Create(c.Request().Context(), currentUser(c).ID, domain.Task{
			Date:  req.Date,
			Title: req.Title,
			Note:  req.Note,
		})
		metrics.ObserveApply(time.Since(applyStart))
		if createErr != nil {
			metrics.SetErrorStage("apply")
			err = httpError(c, createErr)
			return err
		}
		err = c.JSON(http.StatusCreated, task)
		return err
	}
}

func patchTask(tasks domain.TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "tasks.update")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var patch domain.TaskPatch
		if decodeErr := decodeBody(c, &patch); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if patch.Date != nil && !validDate(*patch.Date) {
			metrics.SetErrorStage("invalid_date")
			err = c.String(http.StatusBadRequest, "invalid date")
			return err
		}

		applyStart := time.Now()
		task, updateErr := tasks.Update(c.Request().Context(), currentUser(c).ID, c.Param("id"), patch)
		metrics.ObserveApply(time.Since(applyStart))
		if updateErr != nil {
			metrics.SetErrorStage("apply")
			err = httpError(c, updateErr)
			return err
		}
		err = c.JSON(http.StatusOK, task)
		return err
	}
}

func deleteTask(tasks domain.TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMutationMetrics(logger, "tasks.delete")
		defer func() { metrics.Log(c.Response().Status, err) }()

		applyStart := time.Now()
		deleteErr := tasks.Delete(c.Request().Context(), currentUser(c).ID, c.Param("id"))
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
