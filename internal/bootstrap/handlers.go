package bootstrap

import (
	"log/slog"
	"os"

	"github.com/eleven-am/echolens/internal/metrics"
	"github.com/eleven-am/echolens/internal/pipeline"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	PipelineHandler *pipeline.Handler
	StreamHandler   *pipeline.StreamHandler
	SessionHandler  *session.Handler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.PipelineHandler.RegisterLegacyRoutes(e)

	api := e.Group("/v1")
	params.PipelineHandler.RegisterRoutes(api)

	sessionsGroup := api.Group("/sessions")
	params.SessionHandler.RegisterRoutes(sessionsGroup)
	params.StreamHandler.RegisterRoutes(sessionsGroup)

	params.SessionHandler.RegisterMetricsRoutes(api.Group("/metrics"))

	metrics.Register(e)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

var HandlersModule = fx.Options(
	fx.Invoke(RegisterRoutes),
)
