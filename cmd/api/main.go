package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/config"
	"github.com/noah-isme/design-quality-api/internal/database"
	"github.com/noah-isme/design-quality-api/internal/handler"
	"github.com/noah-isme/design-quality-api/internal/middleware"
	"github.com/noah-isme/design-quality-api/internal/repository"
	"github.com/noah-isme/design-quality-api/internal/router"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/pkg/ai"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv != "production" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	logger = logger.With().Str("app", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, benchmark caching disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, quality events disabled")
			natsConn = nil
		} else {
			defer natsConn.Drain()
		}
	}
	events := service.NewNATSEventPublisher(natsConn, cfg.EventSubjectPrefix)

	var completer ai.Completer
	if cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAICompleter(ai.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.OpenAIMaxTokens,
			Logger:    logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create completion client")
		}
		completer = openAI
	} else {
		logger.Info().Msg("no completion provider configured, optimizations use rule-based guidance")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	promptRepo := repository.NewPromptRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	executionRepo := repository.NewTestExecutionRepository(db)
	optimizationRepo := repository.NewOptimizationRepository(db)

	promptService := service.NewPromptService(promptRepo, validate, logger)
	datasetService := service.NewDatasetService(datasetRepo, validate, logger)
	executionService := service.NewTestExecutionService(executionRepo, promptRepo, datasetRepo, events, validate, logger, service.TestExecutionConfig{
		MatchThreshold: cfg.MatchThreshold,
	})
	optimizationService := service.NewOptimizationService(promptRepo, executionRepo, optimizationRepo, completer, redisClient, events, validate, logger, service.OptimizationConfig{
		SweepInterval:     cfg.SweepInterval,
		BenchmarkCacheTTL: cfg.BenchmarkCacheTTL,
		InsightWindowDays: cfg.InsightWindowDays,
	})

	if err := optimizationService.Warm(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to warm optimization history")
	}
	optimizationService.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		ExecutionHandler:    handler.NewExecutionHandler(executionService, logger),
		PromptHandler:       handler.NewPromptHandler(promptService, optimizationService, logger),
		DatasetHandler:      handler.NewDatasetHandler(datasetService, executionService, logger),
		OptimizationHandler: handler.NewOptimizationHandler(optimizationService, logger),
		JWTMiddleware:       middleware.JWTProtected(middleware.JWTConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		AdminGuards:         []fiber.Handler{middleware.RequireRole(middleware.RoleAdmin)},
		OptimizeLimiter:     middleware.RateLimit("optimize", cfg.OptimizeRateLimit, cfg.OptimizeRateWindow),
		Logger:              logger,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, cfg, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, cfg config.Config, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
