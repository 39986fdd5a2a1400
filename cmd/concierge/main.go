package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"concierge/internal/agent"
	"concierge/internal/campaign"
	"concierge/internal/capability"
	"concierge/internal/chain"
	"concierge/internal/handlers"
	"concierge/internal/history"
	"concierge/internal/images"
	"concierge/internal/platform"
	"concierge/internal/retrieval"
	"concierge/internal/stats"
	"concierge/internal/vectorstore"
	"concierge/pkg/config"
	"concierge/pkg/llm"
	"concierge/pkg/logging"
	"concierge/pkg/monitoring"
	"concierge/pkg/redis"
	"concierge/pkg/server"
)

var version = "dev"

func main() {
	logger := logging.NewLoggerWithService("concierge")
	config.LoadEnv(logger)

	logger.Info("Starting Concierge (Support Assistant API)")

	// Required config
	databaseURL := config.RequireEnv("DATABASE_URL")
	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379")
	platformURL := config.RequireEnv("PLATFORM_API_URL")
	chainNodes := config.GetEnvList("CHAIN_NODES", []string{"https://api.hive.blog"})
	importAuthority := config.GetEnv("IMPORT_AUTHORITY", "")

	// Tuning
	httpPort := config.GetEnv("CONCIERGE_PORT", "18020")
	searchLimit := config.GetEnvInt("SEARCH_RESULT_LIMIT", 10)
	sessionTTL := config.GetEnvDuration("SESSION_TTL", history.DefaultTTL)
	hintKeywords := config.GetEnvList("TOOL_HINT_KEYWORDS", nil)

	ctx := context.Background()

	// Postgres: vector collections, campaign index, usage stats.
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	db.SetMaxOpenConns(config.GetEnvInt("DATABASE_MAX_CONNS", 10))
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	// Redis: session history.
	redisClient, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}

	// Model providers.
	llmConfig := llm.LoadConfig()
	provider, err := llm.NewProvider(llmConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create LLM provider")
	}
	embedder, err := llm.NewEmbeddingClient(llm.LoadEmbeddingConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to create embedding client")
	}

	// Retrieval: pgvector store behind the curated/fallback router.
	vectors := vectorstore.NewStore(db, vectorstore.NewLLMEmbedder(embedder))
	router := retrieval.NewRouter(vectors, logger)

	// Tenant platform and chain clients.
	platformClient := platform.NewClient(platformURL, logger)
	chainClient := chain.NewClient(chainNodes, logger)

	generator := images.NewGenerator(images.Config{
		APIKey:      llmConfig.APIKey,
		APIURL:      config.GetEnv("IMAGE_API_URL", llmConfig.APIURL),
		ImageModel:  config.GetEnv("IMAGE_MODEL", "gpt-image-1"),
		VisionModel: config.GetEnv("VISION_MODEL", llmConfig.Model),
	}, platformClient, logger)

	campaignSearch := campaign.NewSearch(
		campaign.NewSQLRepository(db),
		campaign.NewPlatformScopeResolver(platformClient),
		logger,
	)

	capabilities := &capability.Builder{
		Knowledge:       router,
		Collections:     vectors,
		Platform:        platformClient,
		Accounts:        chainClient,
		Images:          generator,
		Campaigns:       campaignSearch,
		IsGuest:         chain.IsGuest,
		ImportAuthority: importAuthority,
		SearchLimit:     searchLimit,
		Logger:          logger,
	}

	sessions := history.NewStore(redisClient, sessionTTL, logger)
	engine := agent.NewEngine(provider, sessions, capabilities, platformClient, generator, agent.NewForcePolicy(hintKeywords), logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("concierge", version)
	metricsCollector := monitoring.NewMetricsCollector("concierge", version, "")
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("platform", monitoring.HTTPServiceHealthCheck("platform", platformURL))

	handlers.Init(handlers.Dependencies{
		Logger:   logger,
		Engine:   engine,
		Sessions: sessions,
		Usage:    stats.NewStore(db),
	})

	ginRouter := server.SetupRouter(logger, healthChecker, metricsCollector)
	ginRouter.POST("/api/assistant", handlers.HandleAssistantTurn)
	ginRouter.GET("/api/assistant/history/:id", handlers.HandleSessionHistory)

	serverConfig := server.DefaultConfig("concierge", httpPort)
	if err := server.Start(serverConfig, ginRouter, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
