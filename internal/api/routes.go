// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/config"
	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/metrics"
	"github.com/ismart-scholar/workbench/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Queue      UploadQueue
	Session    SessionState
	Staging    *storage.StagingStore
	Resolver   FileResolver
	History    HistoryReader // nil unless the store is DuckDB
	Bus        *events.Bus
	Logger     *logrus.Logger
	Version    string
	BackendURL string
	Origins    *OriginPolicy // nil falls back to same-origin only
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Upload  UploadHandler
	Results ResultsHandler
	Session SessionHandler
	Events  EventsHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.BackendURL, deps.Queue),
		Upload:  NewUploadHandler(deps.Queue, deps.Staging, deps.Resolver, deps.Logger),
		Results: NewResultsHandler(deps.Queue, deps.History),
		Session: NewSessionHandler(deps.Session),
		Events:  NewEventsHandler(deps.Queue, deps.Bus, deps.Origins, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Upload queue
	uploadGroup := apiGroup.Group("/uploads")
	uploadGroup.GET("", handlers.Upload.HandleListUploads)
	uploadGroup.POST("", handlers.Upload.HandleAddUploads)
	uploadGroup.DELETE("", handlers.Upload.HandleClearUploads)
	uploadGroup.POST("/:id/cancel", handlers.Upload.HandleCancelUpload)
	uploadGroup.POST("/:id/retry", handlers.Upload.HandleRetryUpload)
	uploadGroup.DELETE("/:id", handlers.Upload.HandleRemoveUpload)

	// Results
	apiGroup.GET("/results", handlers.Results.HandleResults)
	apiGroup.GET("/results/msgpack", handlers.Results.HandleResultsMsgpack)
	apiGroup.GET("/results/history", handlers.Results.HandleResultsHistory)

	// Session
	apiGroup.GET("/session", handlers.Session.HandleGetSession)
	apiGroup.PUT("/session/project", handlers.Session.HandleSelectProject)

	// Live updates
	apiGroup.GET("/events", handlers.Events.HandleEventStream)
	apiGroup.GET("/ws/events", handlers.Events.HandleEventSocket)

	e.GET("/metrics", metrics.Handler())
}

func isStreamingPath(path string) bool {
	return path == "/api/events" || strings.HasPrefix(path, "/api/ws/")
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg config.ServerConfig, logger *logrus.Logger) {
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return isStreamingPath(path) || path == "/api/health" || path == "/metrics"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(metrics.Middleware())

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if origins := corsOrigins(cfg.AllowOrigins); cfg.EnableCORS && len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	e.Use(NewOriginPolicy(cfg).Middleware())
}

// NewServer builds a configured echo instance with every route registered
func NewServer(cfg config.ServerConfig, deps *Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if deps.Origins == nil {
		deps.Origins = NewOriginPolicy(cfg)
	}
	SetupMiddleware(e, cfg, deps.Logger)
	RegisterRoutes(e, NewHandlers(deps))
	return e
}
