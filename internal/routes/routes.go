package routes

import (
    "context"
    "fmt"
    "log/slog"
    "net/http"
    "strings"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/adaptor"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/photogram/photogram_api/internal/account"
    "github.com/photogram/photogram_api/internal/auth"
    "github.com/photogram/photogram_api/internal/config"
    "github.com/photogram/photogram_api/internal/events"
    "github.com/photogram/photogram_api/internal/identifier"
    "github.com/photogram/photogram_api/internal/metrics"
    "github.com/photogram/photogram_api/internal/middleware"
    "github.com/photogram/photogram_api/internal/notification"
    "github.com/photogram/photogram_api/internal/storage"
    "github.com/photogram/photogram_api/internal/verification"
)

const memoryQueueSize = 1024

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg    config.Config
    DB     *pgxpool.Pool
    Cache  *redis.Client
    Logger *slog.Logger
    // Metrics is created by Setup when nil.
    Metrics *metrics.Metrics
    // Notifier replaces the dispatcher when set. Tests use it to capture
    // outgoing codes.
    Notifier notification.Notifier
    // Photos replaces the configured photo store when set.
    Photos storage.Store
}

// Background holds the components that outlive a single request.
type Background struct {
    dispatcher *notification.Dispatcher
    closers    []func() error
    logger     *slog.Logger
}

// Close stops the dispatch workers and flushes the event sink.
func (b *Background) Close() {
    if b == nil {
        return
    }
    if b.dispatcher != nil {
        b.dispatcher.Stop()
    }
    for _, c := range b.closers {
        if err := c(); err != nil && b.logger != nil {
            b.logger.Warn("close background component", slog.Any("error", err))
        }
    }
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Background, error) {
    // Enforce DB/Redis presence outside of dev, even though config also checks.
    if !d.Cfg.IsDev() {
        if d.DB == nil {
            return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
        if d.Cache == nil {
            return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
    }
    if d.Logger == nil {
        d.Logger = slog.Default()
    }
    if d.Metrics == nil {
        d.Metrics = metrics.New()
    }
    bg := &Background{logger: d.Logger}

    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID())
    app.Use(middleware.AccessLog(d.Logger, d.Metrics, "/healthz", "/readyz", "/metrics"))

    // Health and metrics
    RegisterHealthRoutes(app, d)
    app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

    // Stores
    var (
        userRepo  account.Repository
        codeRepo  verification.Repository
        blacklist auth.Blacklist
    )
    if d.DB != nil {
        userRepo = account.NewPostgresRepository(d.DB)
        codeRepo = verification.NewPostgresRepository(d.DB)
    } else {
        userRepo = account.NewMemoryRepository()
        codeRepo = verification.NewMemoryRepository()
    }
    switch {
    case d.Cfg.BlacklistBackend == "redis" && d.Cache != nil:
        blacklist = auth.NewRedisBlacklist(d.Cache)
    case d.DB != nil:
        blacklist = auth.NewPostgresBlacklist(d.DB)
    default:
        blacklist = auth.NewMemoryBlacklist()
    }

    notifier := d.Notifier
    if notifier == nil {
        dispatcher := newDispatcher(d)
        dispatcher.Start(context.Background())
        bg.dispatcher = dispatcher
        notifier = dispatcher
    }

    var sink events.Sink = events.NewLogSink(d.Logger)
    if len(d.Cfg.KafkaBrokers) > 0 {
        kafkaSink := events.NewKafkaSink(d.Cfg.KafkaBrokers, d.Cfg.KafkaTopic)
        bg.closers = append(bg.closers, kafkaSink.Close)
        sink = kafkaSink
    }

    photos := d.Photos
    if photos == nil {
        if d.Cfg.S3Bucket != "" {
            s3Store, err := storage.NewS3Store(context.Background(), d.Cfg.S3Region, d.Cfg.S3Bucket)
            if err != nil {
                bg.Close()
                return nil, err
            }
            photos = s3Store
        } else {
            photos = storage.NewDiskStore(d.Cfg.MediaDir, "/media")
        }
    }
    if disk, ok := photos.(*storage.DiskStore); ok {
        app.Static("/media", disk.Root(), fiber.Static{ModifyResponse: middleware.MediaHeaders()})
    }

    // Services and handlers
    codes := verification.NewManager(codeRepo, notifier, verification.Config{
        TTL:         d.Cfg.CodeTTL,
        Length:      d.Cfg.CodeLength,
        MaxAttempts: d.Cfg.CodeMaxAttempts,
    }, d.Logger, d.Metrics)
    tokens := auth.NewService(auth.Config{
        AccessSecret:  d.Cfg.JWTSecret,
        RefreshSecret: d.Cfg.RefreshSecret,
        AccessTTL:     d.Cfg.AccessTokenTTL,
        RefreshTTL:    d.Cfg.RefreshTokenTTL,
    }, userRepo, blacklist, d.Metrics)
    accounts := account.NewService(account.Deps{
        Repo:        userRepo,
        Codes:       codes,
        Tokens:      tokens,
        Photos:      photos,
        Events:      sink,
        Logger:      d.Logger,
        Metrics:     d.Metrics,
        PhoneRegion: d.Cfg.PhoneRegion,
    })
    accountHandler := account.NewHandler(accounts)
    authHandler := auth.NewHandler(tokens)

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": middleware.RequestIDFrom(c),
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    var idempotency fiber.Handler
    if d.Cache != nil {
        idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
    }
    RegisterAccountRoutes(api, AccountRoutes{
        Accounts:     accountHandler,
        Auth:         authHandler,
        RequireAuth:  middleware.JWTAuth(tokens, accounts),
        RateLimiter:  middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRatePerMin),
        ResetLimiter: middleware.ResetRateLimit(d.Cache, d.Cfg.ResetRatePerMin, canonicalContact(d.Cfg.PhoneRegion)),
        Onboarded:    middleware.RequireStatus(account.StatusCodeVerified, account.StatusPhotoStep, account.StatusDone),
        Idempotency:  idempotency,
    })

    return bg, nil
}

// canonicalContact keys throttling on the stored form of an email or phone so
// reformatting the same contact does not reset the counter.
func canonicalContact(region string) func(string) string {
    return func(raw string) string {
        if id, err := identifier.ClassifyContact(raw, region); err == nil {
            return id.Value
        }
        return strings.ToLower(strings.TrimSpace(raw))
    }
}

func newDispatcher(d Deps) *notification.Dispatcher {
    var queue notification.Queue
    if d.Cfg.DispatchQueue == "redis" && d.Cache != nil {
        queue = notification.NewRedisQueue(d.Cache)
    } else {
        queue = notification.NewMemoryQueue(memoryQueueSize)
    }

    logSender := notification.NewLoggerSender(d.Logger)
    var (
        email notification.EmailSender = logSender
        sms   notification.SMSSender   = logSender
    )
    if d.Cfg.BrevoAPIKey != "" {
        email = notification.NewBrevoSender(d.Cfg.BrevoAPIKey, d.Cfg.BrevoSenderEmail, d.Cfg.BrevoSenderName, "")
    }
    if d.Cfg.TwilioAccountSID != "" && d.Cfg.TwilioAuthToken != "" {
        sms = notification.NewTwilioSender(d.Cfg.TwilioAccountSID, d.Cfg.TwilioAuthToken, d.Cfg.TwilioFrom, "")
    }

    return notification.NewDispatcher(notification.DispatcherConfig{
        Workers:       d.Cfg.DispatchWorkers,
        MaxAttempts:   d.Cfg.DispatchMaxAttempts,
        Backoff:       d.Cfg.DispatchBackoff,
        RatePerSecond: d.Cfg.DispatchRate,
    }, queue, email, sms, d.Logger, d.Metrics)
}
