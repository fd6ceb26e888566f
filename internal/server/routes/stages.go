package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetStagesHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, app(c).Runner.Catalog().Stages())
}

func RunStageHandler(c echo.Context) error {
	type runStageData struct {
		ID     string            `param:"id" validate:"required"`
		Stage  int               `param:"stage" validate:"min=1,max=7"`
		Inputs map[string]string `json:"inputs"`
	}

	data := new(runStageData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}

	res, err := app(c).Runner.RunStage(c.Request().Context(), s, data.Stage, data.Inputs)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func SubmitPayloadHandler(c echo.Context) error {
	type submitPayloadData struct {
		ID      string          `param:"id" validate:"required"`
		Stage   int             `param:"stage" validate:"min=1,max=7"`
		Output  string          `json:"output"`
		Payload json.RawMessage `json:"payload" validate:"required"`
	}

	data := new(submitPayloadData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	s, err := sessionFor(c)
	if err != nil {
		return errorResponse(c, err)
	}

	res, err := app(c).Runner.SubmitPayload(c.Request().Context(), s, data.Stage, data.Output, data.Payload)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
