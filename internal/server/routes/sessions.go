package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/summary"

	"github.com/labstack/echo/v4"
)

type stageView struct {
	Record common.StageRecord `json:"record"`
	QA     []summary.Pair     `json:"qa"`
}

type sessionView struct {
	session.Info
	Records []stageView `json:"records"`
}

func CreateSessionHandler(c echo.Context) error {
	user := currentUser(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	s, err := app(c).Sessions.Create(user.UserID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, s.Info())
}

func ListSessionsHandler(c echo.Context) error {
	user := currentUser(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	sessions := app(c).Sessions.List(user.UserID)
	out := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return c.JSON(http.StatusOK, out)
}

func GetSessionHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}

	view := sessionView{Info: s.Info(), Records: []stageView{}}
	for _, r := range s.Records() {
		view.Records = append(view.Records, stageView{Record: r, QA: s.QA(r.Stage)})
	}
	return c.JSON(http.StatusOK, view)
}

func DeleteSessionHandler(c echo.Context) error {
	type deleteSessionResponse struct {
		Message    string            `json:"message"`
		SinkErrors map[string]string `json:"sink_errors,omitempty"`
	}

	user := currentUser(c)
	id := c.Param("id")
	if err := app(c).Sessions.Delete(id, user.UserID); err != nil {
		return errorResponse(c, err)
	}

	failed := app(c).Runner.DeleteSession(c.Request().Context(), id)
	return c.JSON(http.StatusOK, deleteSessionResponse{
		Message:    "Session deleted",
		SinkErrors: failed,
	})
}
