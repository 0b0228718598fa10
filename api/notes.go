package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planner-api/domain"
)

const purgeKeyHeader = "X-Purge-Key"

type createNoteRequest struct {
	Date  string `json:"date"`
	Entry string `json:"entry"`
}

type updateNoteRequest struct {
	Entry string `json:"entry"`
}

// getNote returns the note for the requested date, creating an empty one so
// the client always has a row to edit.
func getNote(notes domain.NoteService) echo.HandlerFunc {
	return func(c echo.Context) error {
		date := c.QueryParam("date")
		if !validDate(date) {
			return c.String(http.StatusBadRequest, "invalid date")
		}
		note, err := notes.GetOrCreate(c.Request().Context(), currentUser(c).ID, date)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, note)
	}
}

func postNote(notes domain.NoteService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createNoteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if !validDate(req.Date) {
			return c.String(http.StatusBadRequest, "invalid date")
		}
		note, err := notes.Create(c.Request().Context(), currentUser(c).ID, domain.Note{
			Date:  req.Date,
			Entry: req.Entry,
		})
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusCreated, note)
	}
}

func patchNote(notes domain.NoteService) echo.HandlerFunc {
	return func(c echo.Context) error {
		date := c.Param("date")
		if !validDate(date) {
			return c.String(http.StatusBadRequest, "invalid date")
		}
		var req updateNoteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		note, err := notes.Update(c.Request().Context(), currentUser(c).ID, date, req.Entry)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, note)
	}
}

func clearNote(notes domain.NoteService) echo.HandlerFunc {
	return func(c echo.Context) error {
		date := c.Param("date")
		if !validDate(date) {
			return c.String(http.StatusBadRequest, "invalid date")
		}
		note, err := notes.Clear(c.Request().Context(), currentUser(c).ID, date)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, note)
	}
}

// purgeNotes deletes every still-empty note. An external timer calls it with
// the shared key.
func purgeNotes(notes domain.NoteService, purgeKey string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if purgeKey == "" || c.Request().Header.Get(purgeKeyHeader) != purgeKey {
			return c.String(http.StatusUnauthorized, "invalid purge key")
		}
		purged, err := notes.PurgeEmpty(c.Request().Context())
		if err != nil {
			return httpError(c, err)
		}
		logger.WithField("purged", purged).Info("purged empty notes")
		return c.JSON(http.StatusOK, map[string]int{"purged": purged})
	}
}
