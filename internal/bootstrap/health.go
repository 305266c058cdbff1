package bootstrap

import (
	"github.com/eleven-am/echolens/internal/artifact"
	"github.com/eleven-am/echolens/internal/health"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/vision"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(
	usage *session.Store,
	describer vision.Describer,
	artifacts *artifact.Store,
	sessions *session.Manager,
) *health.Handler {
	deps := health.Deps{
		Describer:    describer,
		ArtifactsDir: artifacts.Dir(),
		Sessions:     sessions,
		Version:      version,
	}
	if usage != nil {
		deps.Usage = usage
	}
	return health.NewHandler(deps)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
