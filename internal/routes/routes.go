package routes

import (
    "fmt"
    "io"
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/logger"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/mindwell/auth_engine/internal/auth"
    "github.com/mindwell/auth_engine/internal/config"
    "github.com/mindwell/auth_engine/internal/identity"
    "github.com/mindwell/auth_engine/internal/middleware"
    "github.com/mindwell/auth_engine/internal/notification"
    "github.com/mindwell/auth_engine/internal/otp"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg    config.Config
    DB     *pgxpool.Pool
    Cache  *redis.Client
    Logger *slog.Logger
    // Users and Notifier override the stores picked from Cfg. Tests use them.
    Users    identity.Repository
    Notifier notification.Notifier
    // AccessLog enables the plain text Fiber access log, written to
    // AccessLogOutput or stdout.
    AccessLog       bool
    AccessLogOutput io.Writer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
    if d.Logger == nil {
        return fmt.Errorf("logger is required")
    }
    if d.Cfg.IsProduction() && d.DB == nil && d.Users == nil {
        return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
    }

    svc, err := buildService(d)
    if err != nil {
        return err
    }

    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID(d.Logger))
    if d.AccessLog {
        // One line per request: time, status, latency, method and path.
        app.Use(logger.New(logger.Config{
            Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
            TimeFormat: "15:04:05",
            TimeZone:   "Local",
            Output:     d.AccessLogOutput,
        }))
    }
    app.Use(middleware.Audit(d.Logger))

    // Health
    RegisterHealthRoutes(app, d)

    app.Get("/ping", func(c *fiber.Ctx) error {
        reqID, _ := c.Locals("X-Request-ID").(string)
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": reqID,
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    limits := AuthLimits{
        Login: middleware.RateLimit(middleware.RateLimitConfig{
            Name:    "login",
            Limit:   d.Cfg.LoginPerMin,
            Window:  time.Minute,
            Key:     middleware.EmailKey(),
            Message: "Too many login attempts, try again later",
            Cache:   d.Cache,
            Logger:  d.Logger,
        }),
        RequestOTP: middleware.RateLimit(middleware.RateLimitConfig{
            Name:    "otp",
            Limit:   d.Cfg.OTPPerHour,
            Window:  time.Hour,
            Key:     middleware.BodyField("phone"),
            Message: "Too many OTP requests, try again later",
            Cache:   d.Cache,
            Logger:  d.Logger,
        }),
    }
    if d.Cache != nil {
        limits.Idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
    }

    api := app.Group("", middleware.Deadline(d.Cfg.RequestTimeout))
    RegisterAuthRoutes(api, auth.NewHandler(svc), limits, middleware.BearerAuth(svc.Tokens()))

    return nil
}

func buildService(d Deps) (*auth.Service, error) {
    users := d.Users
    if users == nil {
        if d.DB != nil {
            users = identity.NewPostgresRepository(d.DB)
        } else {
            d.Logger.Warn("DATABASE_URL not set, using in-memory credential store")
            users = identity.NewMemoryRepository()
        }
    }

    notifier := d.Notifier
    if notifier == nil {
        var err error
        notifier, err = notification.New(d.Cfg, d.Logger)
        if err != nil {
            return nil, fmt.Errorf("build notifier: %w", err)
        }
    }

    hasher, err := identity.NewBcryptHasher(d.Cfg.BcryptCost)
    if err != nil {
        return nil, err
    }
    tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte(d.Cfg.JWTSecret), TTL: d.Cfg.TokenTTL})
    if err != nil {
        return nil, err
    }

    return auth.NewService(auth.ServiceDeps{
        Users:     users,
        Hasher:    hasher,
        OTP:       otp.NewEngine(users, d.Cfg.OTPTTL),
        Tokens:    tokens,
        Notifier:  notifier,
        ExposeOTP: d.Cfg.OTPDelivery == config.DeliveryDebug && !d.Cfg.IsProduction(),
        Logger:    d.Logger,
    }), nil
}
