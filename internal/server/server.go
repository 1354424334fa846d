// Package server exposes the operational HTTP surface: health probes,
// Prometheus metrics, websocket thread subscriptions, the notification inbox
// and the moderation review queue. Callers are authenticated upstream and
// identified by the X-User-ID header.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"threadline/internal/config"
	"threadline/internal/models"
	"threadline/internal/notifications"
	"threadline/internal/observability"
	"threadline/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// httpMetrics registers the HTTP collectors on the default registry once, so
// /metrics also serves the domain counters.
func httpMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.NewWithRegistry(prometheus.DefaultRegisterer, "threadline", "http", "", nil)
	})
	return prom
}

// Deps are the collaborators the HTTP surface reads from.
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Hub       *notifications.Hub
	Transport notifications.Transport
	Inbox     *notifications.GormStore
	Comments  *service.CommentService
}

// Server owns the fiber app.
type Server struct {
	cfg        *config.Config
	deps       Deps
	moderators map[uint]struct{}
	prom       *fiberprometheus.FiberPrometheus
	app        *fiber.App
}

// NewServer builds the app and registers every route.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	ids, err := cfg.Moderators()
	if err != nil {
		return nil, err
	}
	mods := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		mods[id] = struct{}{}
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		moderators: mods,
		prom:       httpMetrics(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "threadline",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled request error",
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return s, nil
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(UpstreamIdentity())
	app.Use(ContextMiddleware())

	s.prom.RegisterAt(app, "/metrics")
	app.Use(s.prom.Middleware)

	app.Use(StructuredLogger())
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	api := app.Group("/api", RequireUser())

	inbox := api.Group("/notifications")
	inbox.Get("/", s.ListNotifications)
	inbox.Post("/read-all", s.MarkAllNotificationsRead)
	inbox.Post("/:id/read", s.MarkNotificationRead)

	mod := api.Group("/moderation", s.ModeratorRequired())
	mod.Get("/queue", s.GetReviewQueue)

	ws := app.Group("/ws", RequireUser(), WebsocketUpgrade())
	ws.Get("/threads/:postId", s.ThreadSocket())
	ws.Get("/moderation", s.ModeratorRequired(), s.ModerationSocket())
}

// Listen blocks serving on the configured port.
func (s *Server) Listen() error {
	observability.Logger.Info("ops server starting", slog.String("port", s.cfg.Port))
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown stops accepting requests and closes local websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.deps.Hub != nil {
		if err := s.deps.Hub.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LivenessCheck handles liveness probe requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis reachability.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true

	dbStatus := "healthy"
	if s.deps.DB == nil {
		dbStatus = "unconfigured"
		healthy = false
	} else if sqlDB, err := s.deps.DB.DB(); err != nil {
		dbStatus = "unhealthy"
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
		healthy = false
	}
	checks["database"] = dbStatus

	if s.deps.Redis != nil {
		redisStatus := "healthy"
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
			healthy = false
		}
		checks["redis"] = redisStatus
	}

	status := fiber.StatusOK
	overall := "ready"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": checks,
	})
}

func (s *Server) isModerator(userID uint) bool {
	_, ok := s.moderators[userID]
	return ok
}
