// Package server exposes stem separation over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cwbudde/algo-karaoke/internal/observe"
	"github.com/cwbudde/algo-karaoke/internal/stems"
)

const (
	ServiceName    = "DeMucs Stem Separation API"
	ServiceVersion = "1.0.0"
)

// Separator is the part of stems.Separator the handlers use.
type Separator interface {
	Separate(ctx context.Context, req stems.Request) (*stems.Archive, error)
	Health(ctx context.Context) stems.Health
	Model() string
	Models() []string
}

var _ Separator = (*stems.Separator)(nil)

type Config struct {
	Separator Separator
	// Metrics and MetricsHandler are optional; /metrics is only routed
	// when MetricsHandler is set.
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
	// Log enables the access log.
	Log bool
}

type App struct {
	echo *echo.Echo
	sep  Separator
}

func NewApp(config Config) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	if config.Log {
		e.Use(middleware.Logger())
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"*"},
		AllowHeaders: []string{"*"},
	}))

	if config.Metrics != nil {
		e.Use(observe.EchoMiddleware(config.Metrics))
	}

	a := &App{echo: e, sep: config.Separator}

	e.GET("/", a.root)
	e.GET("/health", a.health)
	e.GET("/models", a.models)
	e.POST("/separate", a.separate)

	if config.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(config.MetricsHandler))
	}

	return a
}

// Handler returns the router, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.echo
}

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown.
func (a *App) Start(addr string) error {
	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends.
func (a *App) Shutdown(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}
