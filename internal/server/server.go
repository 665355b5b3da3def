package server

import (
    "context"
    "log/slog"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/photogram/photogram_api/internal/config"
    "github.com/photogram/photogram_api/internal/response"
    "github.com/photogram/photogram_api/internal/routes"
)

// bodyLimit leaves room for profile photo uploads.
const bodyLimit = 10 * 1024 * 1024

// Server wraps the Fiber application and shared dependencies.
type Server struct {
    app   *fiber.App
    cfg   config.Config
    db    *pgxpool.Pool
    cache *redis.Client
    bg    *routes.Background
}

// New builds the Fiber app. It delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
        BodyLimit:    bodyLimit,
        ErrorHandler: response.ErrorHandler(logger),
    })

    bg, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
    if err != nil {
        return nil, err
    }

    return &Server{app: app, cfg: cfg, db: db, cache: cache, bg: bg}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then drains the notification workers.
func (s *Server) Shutdown(ctx context.Context) error {
    err := s.app.ShutdownWithContext(ctx)
    s.bg.Close()
    return err
}
