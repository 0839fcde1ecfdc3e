package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"credflow-backend/internal/api"
	"credflow-backend/internal/auth"
	"credflow-backend/internal/config"
	"credflow-backend/internal/monitor"
	"credflow-backend/internal/store"
	"credflow-backend/internal/webhook"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap schema, change triggers and the seed admin
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap database: %v", err)
	}
	log.Println("Database ready")

	// 4. Webhook dispatcher
	dispatcher := webhook.NewDispatcher(
		webhook.NewStoreSource(db),
		webhook.WithCacheTTL(time.Duration(cfg.Webhook.CacheTTLSeconds)*time.Second),
		webhook.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		}),
		webhook.WithDeliveryLog(webhook.NewStoreDeliveryLog(db)),
	)

	// 5. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Auth routes (before middleware, no auth required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	// 8. Protected REST surface
	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	handler := api.NewHandler(db)
	destHandler := api.NewDestinationHandler(db, dispatcher)
	api.RegisterRoutes(app, handler, destHandler, authMW)

	// 9. Change monitor: the only component that feeds the dispatcher.
	feed := selectFeed(db, cfg)
	mon := monitor.NewMonitor(db, dispatcher, feed, monitor.Actor{
		ID:   cfg.Monitor.ActorID,
		Name: cfg.Monitor.ActorName,
		Role: cfg.Monitor.ActorRole,
	}, monitor.WithMaxSnapshots(cfg.Monitor.MaxSnapshots))
	if err := mon.Start(ctx); err != nil {
		log.Printf("ERROR: change monitor not started: %v", err)
	} else {
		defer mon.Stop()
		log.Println("Change monitor running")
	}

	// 10. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

// selectFeed picks the change feed. Postgres can push changes over
// LISTEN/NOTIFY; sqlite always polls.
func selectFeed(db *store.Store, cfg *config.Config) monitor.Feed {
	interval := time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second
	if cfg.Database.IsSQLite() || cfg.Monitor.Feed == "poll" {
		return monitor.NewPollFeed(db, interval)
	}
	return monitor.NewListenFeed(db, db.DSN())
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *api.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(api.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(api.ErrorResponse{
		Error: &api.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
