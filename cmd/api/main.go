package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/api/handlers"
	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/middleware/ratelimit"
	"github.com/research-agent/backend/internal/middleware/security"
	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/internal/orchestrator"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/search/web"
	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/internal/storage/memory"
	"github.com/research-agent/backend/internal/storage/redis"
	"github.com/research-agent/backend/internal/storage/sqlite"
	"github.com/research-agent/backend/internal/usage"
	"github.com/research-agent/backend/pkg/config"
	appLogger "github.com/research-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting research agent API server")
	metrics.Init()

	store, err := openStore(cfg)
	if err != nil {
		appLogger.Fatal("Failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer store.Close()

	deps := map[string]handlers.Pinger{"kv": store}

	var opts []orchestrator.Option
	var history handlers.HistoryReader
	if cfg.SQLite.Enabled {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		opts = append(opts, orchestrator.WithHistory(sqliteClient))
		history = sqliteClient
		deps["sqlite"] = sqliteClient
	}

	if cfg.Search.Enabled {
		searchClient, err := web.NewClient(web.Config{
			SerpAPIKey: cfg.Search.SerpAPIKey,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    time.Duration(cfg.Search.TimeoutSec) * time.Second,
			CacheSize:  cfg.Search.CacheSize,
		})
		if err != nil {
			appLogger.Fatal("Failed to create search client", zap.Error(err))
		}
		opts = append(opts, orchestrator.WithTools(searchClient))
	}

	chats := chat.NewRepository(store, cfg.Chart.Tag)
	researchStore := research.NewStore(store, cfg.Research.MaxDepth)
	tracker := usage.NewTracker(store)

	if cfg.Usage.Endpoint != "" {
		opts = append(opts, orchestrator.WithUsageReporter(
			usage.NewHTTPReporter(cfg.Usage.Endpoint, time.Duration(cfg.Usage.TimeoutSec)*time.Second),
		))
	} else {
		opts = append(opts, orchestrator.WithUsageReporter(usage.NewLocalReporter(tracker)))
	}

	registry := llm.NewRegistry(cfg.LLM, nil)
	orch := orchestrator.New(registry, chats, researchStore, orchestrator.Config{
		ChartTag: cfg.Chart.Tag,
		Rules: research.Rules{
			MinRelevanceForNextDepth: cfg.Research.MinRelevanceForNextDepth,
			MaxSourcesPerDepth:       cfg.Research.MaxSourcesPerDepth,
			QualityThreshold:         cfg.Research.QualityThreshold,
		},
		ContextWindowTokens: cfg.LLM.ContextWindowTokens,
		MaxTokens:           cfg.LLM.MaxTokens,
		RelatedQuestions:    cfg.LLM.RelatedQuestions,
		MaxSearchResults:    cfg.Search.MaxResults,
	}, opts...)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	// Streamed turns outlive the default write timeout, so only reads are
	// bounded here.
	app := fiber.New(fiber.Config{
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		BodyLimit:   cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		ExposeHeaders:    "X-Chat-ID",
		AllowCredentials: allowOrigins != "*",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))
	limits := validation.Config{Logger: appLogger.GetLogger()}
	app.Use(validation.Middleware(limits))

	app.Get("/metrics", metrics.MetricsHandler())

	handlers.Register(app, handlers.Routes{
		Chat:           handlers.NewChatHandler(orch),
		WebSocket:      handlers.NewWebSocketHandler(orch, limits),
		Chats:          handlers.NewChatsHandler(chats),
		Research:       handlers.NewResearchHandler(researchStore),
		Usage:          handlers.NewUsageHandler(tracker),
		History:        handlers.NewHistoryHandler(history),
		Health:         handlers.NewHealthHandler(deps),
		ChatMiddleware: []fiber.Handler{limiter.Middleware()},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(time.Duration(cfg.Server.WriteTimeout) * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func openStore(cfg *config.Config) (kv.Store, error) {
	if cfg.Storage.Driver == "memory" {
		appLogger.Warn("Using in-memory storage, state is lost on restart")
		return memory.NewStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return client, nil
}
