package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"concurseiro-backend/internal/config"
	"concurseiro-backend/internal/database"
	"concurseiro-backend/internal/handlers"
	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/logger"
	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/repository"
	"concurseiro-backend/internal/router"
	"concurseiro-backend/internal/services"
	"concurseiro-backend/internal/simulation"
	"concurseiro-backend/internal/websocket"
	"concurseiro-backend/internal/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "concurseiro",
		Short:         "Exam preparation backend: analysis, plans and simulations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, worker pool and schedulers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
	root.AddCommand(serve, migrate)

	// serve is the default when no subcommand is given
	root.RunE = serve.RunE

	return root
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()

	log := logger.New(logger.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Dev:   cfg.Env == "development",
	})
	zap.ReplaceGlobals(log)

	if err := i18n.Init(cfg.DefaultLang); err != nil {
		return nil, nil, fmt.Errorf("i18n init: %w", err)
	}
	return cfg, log, nil
}

func runMigrate(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	applied, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied", zap.Int("count", applied))
	return nil
}

func newGenerator(ctx context.Context, cfg config.LLMConfig, log *zap.Logger) (services.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return services.NewOpenAIGenerator(cfg, log), nil
	case config.ProviderGemini:
		return services.NewGeminiGenerator(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting concurseiro backend", zap.String("env", cfg.Env))
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Storage ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClients.Close()
	log.Info("redis connected")

	applied, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("count", applied))

	userRepo := repository.NewUserRepo(pool)
	examRepo := repository.NewExamRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Content generation ────
	gen, err := newGenerator(ctx, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("content generator: %w", err)
	}
	defer gen.Close()
	log.Info("content generator ready", zap.String("provider", cfg.LLM.Provider))

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	content := services.NewContentService(gen, redisClients.Queue, cfg.LLM.AnalysisCache, log)
	publisher := services.NewPublisher(redisClients.PubSub, log)
	jobQueue := services.NewJobQueue(jobRepo, redisClients.Queue, log)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, log)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth, emailService, log)
	extractor := services.NewFileExtractService(cfg.MaxMaterialChars)

	sessions := simulation.NewManager()
	snapshots := services.NewSnapshotWriter(examRepo, publisher, cfg.SnapshotShards, log)
	snapshots.OnSettled(sessions.Settle)
	snapshots.Start(ctx)

	workerPool := worker.NewPool(redisClients.Queue, content, examRepo, jobRepo, publisher, cfg.WorkerCount, log)
	workerPool.Start()

	scheduler := services.NewNotificationScheduler(userRepo, examRepo, emailService, log)
	scheduler.Start()

	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, log)

	// ──── HTTP ────
	limiters := router.Limiters{
		Auth: middleware.NewRateLimiter(10, time.Minute),
		API:  middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}
	go limiters.Auth.Cleanup(ctx)
	go limiters.API.Cleanup(ctx)

	examHandler := handlers.NewExamHandler(examRepo, jobQueue, content, log)
	r := router.New(
		jwtAuth,
		handlers.NewAuthHandler(authService),
		handlers.NewUserHandler(userRepo),
		examHandler,
		handlers.NewSessionHandler(examRepo, sessions, snapshots, content, log),
		handlers.NewStudyHandler(examHandler, content, extractor, cfg.MaxUploadMB, log),
		handlers.NewProgressHandler(examRepo),
		handlers.NewJobHandler(jobRepo),
		wsHub,
		limiters,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.LLM.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	workerPool.Stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// cancelling ctx makes the snapshot shards flush what is still queued
	stop()
	snapshots.Wait()
	return nil
}
