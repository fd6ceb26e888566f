package middleware

import (
	"github.com/OFFIS-RIT/stagegraph/internal/pipeline"
	"github.com/OFFIS-RIT/stagegraph/internal/session"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID string
	Master bool
}

type App struct {
	Sessions     *session.Manager
	Runner       *pipeline.Runner
	Key          keyfunc.Keyfunc
	MasterAPIKey string
	MasterUserID string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
