package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"Postwing/internal/api/middleware"
	"Postwing/internal/api/routes"
	"Postwing/internal/atproto/oauth"
	"Postwing/internal/atproto/xrpc"
	"Postwing/internal/config"
	"Postwing/internal/core/posts"
	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"
	"Postwing/internal/db/postgres"
	"Postwing/internal/dispatcher"
	"Postwing/internal/ratelimit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := middleware.InitCookieStore(cfg.CookieSecret); err != nil {
		logger.Error("failed to initialize cookie store", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()
	logger.Info("connected to database")

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set goose dialect", "error", err)
		os.Exit(1)
	}
	if err := goose.Up(db, "internal/db/migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations completed")

	vault, err := sessions.NewVault(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize token vault", "error", err)
		os.Exit(1)
	}

	// Repositories and services
	userRepo := postgres.NewUserRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	postRepo := postgres.NewPostRepository(db)
	failureRepo := postgres.NewFailureRepository(db)

	userService := users.NewUserService(userRepo)
	store := sessions.NewStore(sessionRepo, vault)

	// Outbound network stack: shared nonce cache and admission gate
	nonces := oauth.NewNonceCache()
	gate := ratelimit.NewGate()

	authClient, err := oauth.NewClient(oauth.Config{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		RedirectURI:   cfg.RedirectURI,
		Scope:         cfg.Scope,
		AuthEndpoint:  cfg.AuthEndpoint,
		TokenEndpoint: cfg.TokenEndpoint,
		PDSURL:        cfg.PDSURL,
	}, store, userService, gate, nonces, logger)
	if err != nil {
		logger.Error("failed to build oauth client", "error", err)
		os.Exit(1)
	}

	networkClient := xrpc.NewClient(cfg.PDSURL, store, authClient, nonces, gate,
		userService, false, logger)

	postService := posts.NewPostService(postRepo, failureRepo, posts.NewPublisher(networkClient))

	disp := dispatcher.New(postService, postRepo, failureRepo, store, dispatcher.Options{
		TickInterval:     cfg.TickInterval,
		BatchSize:        cfg.BatchSize,
		SubBatchSize:     cfg.SubBatchSize,
		ShutdownDeadline: cfg.ShutdownDeadline,
	}, logger)

	disp.SetStateSweeper(authClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp.Start(ctx)

	// Router. Order matters: rate-gating precedes authentication so
	// unauthenticated floods never reach credential checks.
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.PublicURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderSessionID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)

	globalLimiter := middleware.NewRateLimiter(100, 1*time.Minute)
	r.Use(globalLimiter.Middleware)

	sessionAuth := middleware.NewSessionAuth(store)

	routes.RegisterAuthRoutes(r, cfg, authClient, store, userService, sessionAuth)
	routes.RegisterPostRoutes(r, postService, sessionAuth)
	routes.RegisterHealthRoutes(r, db, disp)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port, "public_url", cfg.PublicURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	disp.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
