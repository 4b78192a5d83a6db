package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go-chat-live/internal/bus"
	"go-chat-live/internal/chat"
	"go-chat-live/internal/config"
	"go-chat-live/internal/db"
	myMiddleware "go-chat-live/internal/middleware"
	"go-chat-live/internal/realtime"
	"go-chat-live/internal/telemetry"
	"go-chat-live/internal/user"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Config & Flags
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	addr := flag.String("addr", cfg.HTTPAddr, "http service address")
	flag.Parse()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	otelShutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.Default()
	if err != nil {
		logger.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		logger.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Database schema initialized")

	// 3. Features
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	chatRepo := chat.NewRepository(database.Conn)

	hub := realtime.NewHub(realtime.HubConfig{
		GracePeriod:  cfg.GracePeriod,
		StoreTimeout: cfg.StoreTimeout,
		Strict:       cfg.Development(),
	}, userService, chatRepo, userRepo, logger, metrics)

	// 4. Optional Redis relay: REST publishes, the socket core subscribes.
	var broadcaster chat.Broadcaster = hub.Router
	var redisClient *redis.Client
	relayCtx, stopRelay := context.WithCancel(ctx)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("Connected to Redis", "addr", cfg.RedisAddr)

		broadcaster = bus.NewPublisher(redisClient)
		subscriber := bus.NewSubscriber(redisClient, hub.Router, logger)
		go func() {
			if err := subscriber.Run(relayCtx); err != nil {
				logger.Error("Fanout relay stopped", "error", err)
			}
		}()
	}

	userHandler := user.NewHandler(userService, hub.Registry, !cfg.Development(), logger)
	chatHandler := chat.NewHandler(chatRepo, broadcaster, logger)
	wsHandler := realtime.NewHandler(hub, cfg.ClientURL, logger)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, code := "ok", http.StatusOK
		if err := database.Ping(pingCtx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{"status": status, "connections": hub.Registry.Len()})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
		r.Post("/logout", userHandler.Logout)
		r.With(authMiddleware.Handle).Get("/me", userHandler.Me)
	})

	// The websocket authenticates its own handshake.
	r.Get("/ws", wsHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users", userHandler.ListUsers)
		r.Get("/api/users/online", userHandler.OnlineUsers)

		r.Get("/api/rooms", chatHandler.ListRooms)
		r.Post("/api/rooms", chatHandler.CreateRoom)

		r.Get("/api/messages/room/{roomId}", chatHandler.GetRoomMessages)
		r.Post("/api/messages/room/{roomId}", chatHandler.CreateRoomMessage)
		r.Get("/api/messages/private/{userId}", chatHandler.GetPrivateMessages)
		r.Post("/api/messages/private/{userId}", chatHandler.CreatePrivateMessage)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server starting", "addr", *addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
			"presence": func(ctx context.Context) error {
				hub.Stop()
				return nil
			},
			"redis": func(ctx context.Context) error {
				stopRelay()
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
			"telemetry": func(ctx context.Context) error {
				return otelShutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	if err := database.Close(); err != nil {
		logger.Warn("Closing database failed", "error", err)
	}
	logger.Info("Server exited", "code", exitCode)
	os.Exit(exitCode)
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Development() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
