package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/eleven-am/echolens/internal/pipeline"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
)

var defaultCORSConfig = middleware.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
	},
	AllowHeaders: []string{
		"Accept",
		"Content-Type",
		"X-Requested-With",
		pipeline.HeaderSessionID,
	},
	ExposeHeaders: []string{
		pipeline.HeaderSessionID,
		pipeline.HeaderFrameID,
		pipeline.HeaderDescription,
		pipeline.HeaderAudioID,
	},
	MaxAge: 86400,
}

func NewEchoServer(cfg *Config, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = shared.HTTPErrorHandler(logger)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(defaultCORSConfig))
	// multipart overhead on top of the largest accepted image
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxImageBytes/1024+64)))
	return e
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server listening", "addr", cfg.ServerAddr)
				if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var ServerModule = fx.Options(
	fx.Provide(NewEchoServer),
	fx.Invoke(StartServer),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		fx.Provide(ProvideLogger),
		InfrastructureModule,
		NarrationModule,
		ServerModule,
		HealthModule,
		HandlersModule,
	).Run()
}
