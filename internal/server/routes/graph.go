package routes

import (
	"fmt"
	"io"
	"net/http"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"

	"github.com/labstack/echo/v4"
)

// maxImportSize caps Turtle documents accepted by the import route.
const maxImportSize = 16 << 20

func QueryGraphHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var f graph.Filter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &f); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid query params"})
	}
	for i, t := range f.Types {
		known, ok := common.ParseEntityType(string(t))
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown entity type %q", t)})
		}
		f.Types[i] = known
	}

	return c.JSON(http.StatusOK, s.Graph.Query(f))
}

// stageParam reads the optional ?stage= parameter. Zero means the whole graph.
func stageParam(c echo.Context) (int, error) {
	var stage int
	if err := echo.QueryParamsBinder(c).Int("stage", &stage).BindError(); err != nil {
		return 0, err
	}
	if stage != 0 && !common.ValidStage(stage) {
		return 0, fmt.Errorf("%w: %d", graph.ErrInvalidStage, stage)
	}
	return stage, nil
}

func ExportTurtleHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}
	stage, err := stageParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var doc string
	if stage == 0 {
		doc = export.ToTurtle(s.Graph)
	} else {
		doc = export.StageTurtle(s.Graph, stage)
	}
	return c.Blob(http.StatusOK, "text/turtle; charset=utf-8", []byte(doc))
}

func LayoutHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}
	stage, err := stageParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if stage == 0 {
		return c.JSON(http.StatusOK, export.ToLayout(s.Graph))
	}
	return c.JSON(http.StatusOK, export.StageLayout(s.Graph, stage))
}

// ImportSessionHandler rebuilds a graph from a Turtle export in the request
// body and opens a new session around it.
func ImportSessionHandler(c echo.Context) error {
	user := currentUser(c)

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportSize+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
	}
	if len(body) > maxImportSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "Turtle document too large"})
	}

	g, err := export.Import(string(body))
	if err != nil {
		return errorResponse(c, err)
	}
	s, err := app(c).Sessions.Adopt(user.UserID, g)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, s.Info())
}
