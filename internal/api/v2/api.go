// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/cora-robotics/cora-server/internal/api/auth"
	"github.com/cora-robotics/cora-server/internal/conf"
	"github.com/cora-robotics/cora-server/internal/datastore"
	"github.com/cora-robotics/cora-server/internal/errors"
	"github.com/cora-robotics/cora-server/internal/logging"
	"github.com/cora-robotics/cora-server/internal/observability"
)

// Cache TTLs for expensive query endpoints.
const (
	summaryCacheTTL     = 30 * time.Second
	summaryCacheCleanup = 5 * time.Minute
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	authService    auth.Service
	metrics        *observability.Metrics
	summaryCache   *cache.Cache // caches unit summary responses
	apiLogger      *slog.Logger
	apiLoggerClose func() error
	startTime      time.Time
}

// New creates the API controller and registers all routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	authService auth.Service, metrics *observability.Metrics) (*Controller, error) {

	c := &Controller{
		Echo:         e,
		DS:           ds,
		Settings:     settings,
		authService:  authService,
		metrics:      metrics,
		summaryCache: cache.New(summaryCacheTTL, summaryCacheCleanup),
		startTime:    time.Now(),
	}

	// API request log goes to its own rotated file; fall back to the
	// default logger when the file cannot be opened.
	if settings.WebServer.LogPath != "" {
		logger, closer, err := logging.NewFileLogger(settings.WebServer.LogPath, "api", slog.LevelInfo)
		if err != nil {
			logging.Warn("Failed to initialize API file logger, using default", "error", err)
			c.apiLogger = logging.ForService("api")
		} else {
			c.apiLogger = logger
			c.apiLoggerClose = closer
		}
	} else {
		c.apiLogger = logging.ForService("api")
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(c.LoggingMiddleware())
	c.initRoutes()

	return c, nil
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	// publicly accessible
	c.Group.GET("/health", c.HealthCheck)
	c.initDetectionRoutes()
	c.initUnitRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Shutdown releases controller resources. Safe to call more than once.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			logging.Warn("Failed to close API log file", "error", err)
		}
		c.apiLoggerClose = nil
	}
}

// Envelope is the uniform response shape of every endpoint. Success and
// failure responses differ only in the success flag and the presence of data.
type Envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// RespondSuccess writes a success envelope with the given payload.
func (c *Controller) RespondSuccess(ctx echo.Context, code int, message string, data any) error {
	return ctx.JSON(code, Envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// HandleError maps an error to its HTTP status via the error's category and
// writes a failure envelope. The envelope carries the operator-facing
// message; internals stay in the log, keyed by a correlation ID.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForCategory(errors.CategoryOf(err))
	correlationID := generateCorrelationID()

	if c.apiLogger != nil {
		c.apiLogger.Error(message,
			"error", err.Error(),
			"correlation_id", correlationID,
			"status", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}

	return ctx.JSON(code, Envelope{
		Success:   false,
		Message:   fmt.Sprintf("%s (ref: %s)", message, correlationID),
		Timestamp: time.Now(),
	})
}

// statusForCategory maps error categories to HTTP status codes. Conflict maps
// to 500 because an unresolved registry conflict is a server-side
// inconsistency, not a caller mistake.
func statusForCategory(category errors.ErrorCategory) int {
	switch category {
	case errors.CategoryValidation, errors.CategoryNoValidRecords:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryAuthentication:
		return http.StatusUnauthorized
	case errors.CategoryConflict, errors.CategoryDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const idLength = 8
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t%07d", time.Now().UnixNano()%10000000)
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// LoggingMiddleware logs every API request and feeds the HTTP metrics.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()

			err := next(ctx)

			elapsed := time.Since(start)
			req := ctx.Request()
			res := ctx.Response()

			if c.metrics != nil {
				c.metrics.HTTP.RecordRequest(req.Method, ctx.Path(), res.Status, elapsed.Seconds())
			}

			if c.apiLogger != nil {
				c.apiLogger.Info("API request",
					"method", req.Method,
					"path", req.URL.Path,
					"query", req.URL.RawQuery,
					"status", res.Status,
					"ip", ctx.RealIP(),
					"latency_ms", elapsed.Milliseconds(),
				)
			}

			return err
		}
	}
}

// AuthMiddleware gates query endpoints behind the authentication service.
// When the service is disabled every caller passes through; ingestion routes
// never use this middleware at all.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.authService == nil || !c.authService.Enabled() {
			return next(ctx)
		}

		principal, err := c.authService.Authenticate(ctx)
		if err != nil {
			if c.metrics != nil {
				c.metrics.HTTP.RecordAuthError(ctx.Path())
			}
			return c.HandleError(ctx, err, "Authentication required")
		}

		if !c.authService.Authorize(principal, ctx.Path()) {
			return ctx.JSON(http.StatusForbidden, Envelope{
				Success:   false,
				Message:   "Access denied",
				Timestamp: time.Now(),
			})
		}

		ctx.Set("principal", principal)
		return next(ctx)
	}
}

// HealthCheck handles GET /api/v2/health.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	return c.RespondSuccess(ctx, http.StatusOK, "Service healthy", map[string]any{
		"status":         "up",
		"version":        c.Settings.Version,
		"build_date":     c.Settings.BuildDate,
		"uptime_seconds": int64(time.Since(c.startTime).Seconds()),
	})
}
