package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"julesboard/internal/auth"
	"julesboard/internal/config"
	"julesboard/internal/handlers"
	"julesboard/internal/jobs"
	"julesboard/internal/logging"
	"julesboard/internal/middleware"
	"julesboard/internal/services"
	"julesboard/internal/store"
	"julesboard/internal/upstream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting julesboard server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	mock := cfg.Mock()
	log.Printf("📋 Configuration loaded (Port: %s, Mock Mode: %v)", cfg.Port, mock)

	// Replica store
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("❌ Failed to create data directory: %v", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open replica store: %v", err)
	}
	defer st.Close()

	// Auth session manager
	authManager := auth.NewManager(auth.Config{
		Username:     cfg.AuthUser,
		Password:     cfg.AuthPass,
		PasswordHash: cfg.AuthPassBcrypt,
		HMACSecret:   cfg.AuthHMACSecret,
	})

	// Connections + metrics
	connManager := services.NewConnectionManager()
	metrics := services.InitMetrics(connManager)
	connManager.SetMetrics(metrics)

	// Upstream client, poller, and discovery (real mode only)
	var client *upstream.Client
	var poller *services.Poller
	var scheduler *jobs.Scheduler
	if !mock {
		client = upstream.NewClient(cfg.UpstreamBaseURL, cfg.APIKey, cfg.UpstreamTimeout, cfg.UpstreamRate)
		poller = services.NewPoller(st, client, connManager, metrics, services.PollerConfig{
			Tick:         cfg.PollTick,
			BaseInterval: cfg.PollBaseInterval,
			MaxInterval:  cfg.PollMaxInterval,
		})

		bootCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := poller.BootSync(bootCtx); err != nil {
			// The replica still serves whatever it holds; polling recovers
			log.Printf("⚠️  Boot sync failed: %v", err)
		}
		cancel()
		poller.Start()
		defer poller.Stop()

		scheduler, err = jobs.NewScheduler()
		if err != nil {
			log.Fatalf("❌ Failed to create job scheduler: %v", err)
		}
		discovery := jobs.NewDiscoverySync(st, client, poller, connManager)
		if err := scheduler.Register(cfg.DiscoveryCron, discovery); err != nil {
			log.Fatalf("❌ Failed to register discovery job: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		log.Println("🎭 Mock mode: upstream polling disabled")
	}

	sessionService := services.NewSessionService(st, client, connManager, poller, mock)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionService)
	sourceHandler := handlers.NewSourceHandler(sessionService)
	authHandler := handlers.NewAuthHandler(authManager, metrics)
	healthHandler := handlers.NewHealthHandler(connManager, sessionService)
	wsHandler := handlers.NewWebSocketHandler(connManager, sessionService, authManager, metrics)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:      "julesboard",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("julesboard")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	rateLimits := middleware.LoadRateLimitConfig()

	app.Get("/health", healthHandler.Handle)

	app.Post("/auth/login", middleware.AuthRateLimiter(rateLimits), authHandler.Login)
	app.Post("/auth/logout", authHandler.Logout)

	// All session/source routes require a valid bearer token
	requireToken := middleware.RequireToken(authManager)

	sessions := app.Group("/sessions", middleware.GlobalAPIRateLimiter(rateLimits), requireToken)
	sessions.Get("/", sessionHandler.List)
	sessions.Post("/", sessionHandler.Create)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Get("/:id/activities", sessionHandler.Activities)
	sessions.Post("/:id/sendMessage", sessionHandler.SendMessage)
	sessions.Post("/:id/approvePlan", sessionHandler.ApprovePlan)
	sessions.Post("/:id/refresh", sessionHandler.Refresh)

	app.Get("/sources", middleware.GlobalAPIRateLimiter(rateLimits), requireToken, sourceHandler.List)

	// Live connection: auth happens inside the protocol, not at upgrade
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws", middleware.WebSocketRateLimiter(rateLimits))
	app.Get("/ws", websocket.New(wsHandler.Handle))

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🛑 Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️  Shutdown error: %v", err)
		}
	}()

	log.Printf("🌐 Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
