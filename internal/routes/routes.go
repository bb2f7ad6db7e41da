package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/expense-tracker/expense_tracker/internal/auth"
	"github.com/expense-tracker/expense_tracker/internal/config"
	"github.com/expense-tracker/expense_tracker/internal/devicecache"
	"github.com/expense-tracker/expense_tracker/internal/gate"
	"github.com/expense-tracker/expense_tracker/internal/identity"
	"github.com/expense-tracker/expense_tracker/internal/logging"
	"github.com/expense-tracker/expense_tracker/internal/middleware"
	"github.com/expense-tracker/expense_tracker/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	runs, err := buildRegistry(d)
	if err != nil {
		return err
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterGateRoutes(api, gate.NewHandler(runs), runs, d)
	return nil
}

// buildRegistry picks Postgres and Redis backends when they are configured and
// in-memory ones otherwise, then returns the per-device gate registry.
func buildRegistry(d Deps) (*gate.Registry, error) {
	var profiles identity.ProfileRepository
	if d.DB != nil {
		profiles = identity.NewPostgresRepository(d.DB)
	} else {
		profiles = identity.NewMemoryRepository()
	}

	var sessionStore auth.SessionStore
	if d.Cache != nil {
		sessionStore = auth.NewRedisSessionStore(d.Cache)
	} else {
		sessionStore = auth.NewMemorySessionStore()
	}
	sessions, err := auth.NewService(d.Cfg, sessionStore)
	if err != nil {
		return nil, err
	}

	resolver := identity.NewResolver(profiles, sessions, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	memStores := devicecache.NewMemoryStores()

	return gate.NewRegistry(func(deviceID string) *gate.Gate {
		var store devicecache.Store
		if d.Cache != nil {
			store = devicecache.NewRedisStore(d.Cache, deviceID)
		} else {
			store = memStores.For(deviceID)
		}
		return gate.New(deviceID, gate.Deps{
			Cache:    devicecache.New(store),
			Resolver: resolver,
			Profiles: profiles,
			Sessions: sessions,
			Notifier: notifier,
			Shell:    gate.LoggerShell{Logger: logging.ForDevice(d.Logger, deviceID)},
			Logger:   d.Logger,
		})
	}), nil
}
