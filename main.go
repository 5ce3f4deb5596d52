package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"

	"github.com/circle97/beman-sub001/internal/api"
	"github.com/circle97/beman-sub001/internal/database"
	"github.com/circle97/beman-sub001/internal/engine"
	"github.com/circle97/beman-sub001/internal/notify"
	"github.com/circle97/beman-sub001/internal/schedule"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/beman.db"
	}
	db, err := database.Initialize(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// Reminder engine: minute dispatch tick plus a daily purge of old sent
	// records. Disabled via ENABLE_WORKERS=false for instances that only
	// serve the API.
	var cycle *engine.Cycle
	if os.Getenv("ENABLE_WORKERS") != "false" {
		cfg := engine.Config{}
		if v := os.Getenv("REMINDER_LOOKAHEAD_DAYS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				cfg.LookaheadDays = n
			}
		}
		if v := os.Getenv("SENT_RETENTION_DAYS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.Retention = time.Duration(n) * 24 * time.Hour
			}
		}

		notifier := notify.NewService(db, notify.NewDirectory(db), log.With().Str("component", "notify").Logger())
		cycle = engine.New(cfg, schedule.NewStore(db), engine.NewSentStore(db), notifier,
			engine.SystemClock(), log.With().Str("component", "engine").Logger())
		if err := cycle.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start reminder engine")
		}
	} else {
		log.Info().Msg("background workers disabled")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())

	// CORS configuration: restrict to specific origins for security
	allowedOrigins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:80,http://localhost:5173" // Default for local dev
		log.Warn().Msg("using default ALLOWED_ORIGINS; set ALLOWED_ORIGINS for production")
	} else if allowedOrigins != "*" {
		parts := strings.Split(allowedOrigins, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		allowedOrigins = strings.Join(parts, ",")
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true, // Required for cookies
	}))

	api.SetupRoutes(app, db)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	go func() {
		log.Info().Str("port", port).Msg("server starting")
		if err := app.Listen(":" + port); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Let an in-flight dispatch tick finish before exiting.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	if cycle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		cycle.Stop(ctx)
		cancel()
	}
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
