package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/qr-access/internal/app"
	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/handler"
	"github.com/iliyamo/qr-access/internal/middleware"
	"github.com/iliyamo/qr-access/internal/utils"
)

// New returns an Echo instance with every route of the service.
func New(a *app.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(a.Log.Named("http")))

	RegisterRoutes(e, a)
	RegisterAccess(e, a)
	RegisterAdmin(e, a)
	return e
}

// RegisterRoutes registers routes that do not touch QR state.
func RegisterRoutes(e *echo.Echo, a *app.App) {
	e.GET("/healthz", handler.Health(a.DB))
}

// RegisterAccess registers the public QR endpoints.  Access and playback
// routes share the access rate rule; previews have their own.
func RegisterAccess(e *echo.Echo, a *app.App) {
	h := handler.NewAccessHandler(a.Access, a.Log)
	p := handler.NewPlayHandler(a.Access, a.Log)

	limited := func(scope string) func(c echo.Context) {
		return func(c echo.Context) {
			a.Audit.Emit(c.Request().Context(), audit.RateLimited, middleware.Source(c), c.Param("token"), "",
				map[string]any{"scope": scope, "route": c.Path()})
		}
	}
	accessLimit := middleware.RateLimit(a.RateLimit, a.Limiter, "access", a.RateLimit.Access, limited("access"))
	previewLimit := middleware.RateLimit(a.RateLimit, a.Limiter, "preview", a.RateLimit.Preview, limited("preview"))

	g := e.Group("/v1/access", accessLimit)
	g.POST("/validate", h.Validate)
	g.POST("/register", h.Register)
	g.POST("/reregister", h.Reregister)

	e.GET("/v1/preview/:token", h.Preview, previewLimit)

	play := e.Group("/v1/play", accessLimit)
	play.POST("/auth", p.Auth)
	play.POST("/progress", p.Progress)
}

// RegisterAdmin registers the operator endpoints behind an ADMIN JWT.
func RegisterAdmin(e *echo.Echo, a *app.App) {
	h := handler.NewAdminHandler(a.Access, a.Log)

	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(a.Config.JWTSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	g.GET("/qr/:token", h.Detail)
	g.POST("/qr/:token/block", h.Block)
	g.POST("/qr/:token/reset", h.Reset)
}
