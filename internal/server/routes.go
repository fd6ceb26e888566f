package server

import (
	"github.com/OFFIS-RIT/stagegraph/internal/server/middleware"
	"github.com/OFFIS-RIT/stagegraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Session routes
	apiRoutes.GET("/sessions", routes.ListSessionsHandler)
	apiRoutes.POST("/sessions", routes.CreateSessionHandler)
	apiRoutes.POST("/sessions/import", routes.ImportSessionHandler)
	apiRoutes.GET("/sessions/:id", routes.GetSessionHandler)
	apiRoutes.DELETE("/sessions/:id", routes.DeleteSessionHandler)

	// Stage routes
	apiRoutes.GET("/stages", routes.GetStagesHandler)
	apiRoutes.POST("/sessions/:id/stages/:stage/run", routes.RunStageHandler)
	apiRoutes.POST("/sessions/:id/stages/:stage/payload", routes.SubmitPayloadHandler)

	// Graph routes
	apiRoutes.GET("/sessions/:id/query", routes.QueryGraphHandler)
	apiRoutes.GET("/sessions/:id/export.ttl", routes.ExportTurtleHandler)
	apiRoutes.GET("/sessions/:id/layout", routes.LayoutHandler)
}
