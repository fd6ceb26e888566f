package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/stagegraph/internal/pipeline"
	"github.com/OFFIS-RIT/stagegraph/internal/server/middleware"
	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/extract"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// statusOf maps engine and session errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, extract.ErrMalformedExtraction), errors.Is(err, export.ErrInvalidTurtle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, graph.ErrMergeInProgress),
		errors.Is(err, graph.ErrStageOutOfOrder),
		errors.Is(err, pipeline.ErrMissingDependency):
		return http.StatusConflict
	case errors.Is(err, graph.ErrInvalidStage), errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoAIClient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] request failed", "path", c.Path(), "err", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func currentUser(c echo.Context) *middleware.AppUser {
	return c.(*middleware.AppContext).User
}

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

// sessionFor loads the session named by the :id path parameter for the
// authenticated user.
func sessionFor(c echo.Context) (*session.Session, error) {
	return app(c).Sessions.Get(c.Param("id"), currentUser(c).UserID)
}
