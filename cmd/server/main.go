// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"news-rag-go/internal/config"
	"news-rag-go/internal/handler"
	"news-rag-go/internal/middleware"
	"news-rag-go/internal/pipeline"
	"news-rag-go/internal/repository"
	"news-rag-go/internal/service"
	"news-rag-go/pkg/database"
	"news-rag-go/pkg/embedding"
	"news-rag-go/pkg/feeds"
	"news-rag-go/pkg/kafka"
	"news-rag-go/pkg/llm"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/storage"
	"news-rag-go/pkg/token"
	"news-rag-go/pkg/vectorstore"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load configuration
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. Initialize the logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Initialize infrastructure: MySQL, Redis, MinIO, Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. Build the model adapters. The vector store tolerates an unreachable
	// backend: a failed initialization leaves it serving fallback results
	// and it reconnects lazily on the next call.
	embeddingClient := embedding.NewClient(cfg.Embedding)
	store := vectorstore.New(cfg.Elasticsearch, embeddingClient)
	if err := store.Initialize(context.Background()); err != nil {
		log.Warnf("vector store initialization failed, continuing degraded: %v", err)
	}
	llmClient := llm.NewClient(cfg.LLM)

	// 5. Repositories and services
	sessionRepo := repository.NewSessionRepository(database.RDB, cfg.Chat.SessionTTL(), cfg.Chat.HistoryLimit)
	articleRepo := repository.NewArticleRepository(database.DB)

	tokenManager := token.NewSessionTokenManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	feedsClient := feeds.NewClient()
	chatService := service.NewChatService(store, llmClient, sessionRepo, cfg.Chat.TopK)
	ingestService := service.NewIngestService(feedsClient, store, articleRepo, cfg.Feeds, cfg.MinIO)

	// 6. Article processing pipeline
	processor := pipeline.NewProcessor(
		embeddingClient,
		store,
		articleRepo,
		cfg.MinIO,
		cfg.Embedding,
	)

	// 7. Background Kafka consumer
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 Optional seed ingest: queue the configured feeds once at startup.
	if cfg.Feeds.RefreshOnStart {
		go func() {
			queued, err := ingestService.RefreshAll(context.Background())
			if err != nil {
				log.Warnf("startup feed refresh failed: %v", err)
				return
			}
			log.Infof("startup feed refresh queued %d articles", queued)
		}()
	}

	// 8. Gin engine with our logging middleware plus recovery
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. Routes
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chatHandler := handler.NewChatHandler(chatService, tokenManager, cfg.Chat.MaxMessageLen)
	sessionHandler := handler.NewSessionHandler(sessionRepo)
	searchHandler := handler.NewSearchHandler(store, cfg.Chat.TopK)
	adminHandler := handler.NewAdminHandler(ingestService)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/chat", chatHandler.Answer)
		apiV1.GET("/chat/ws-token", chatHandler.WebsocketToken)

		sessions := apiV1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.Create)
			sessions.GET("/:id/messages", sessionHandler.Messages)
		}

		apiV1.GET("/search", searchHandler.Search)

		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Admin.APIKeyHash))
		{
			admin.POST("/refresh", adminHandler.Refresh)
			admin.DELETE("/index", adminHandler.ClearIndex)
			admin.GET("/stats", adminHandler.Stats)
			admin.GET("/articles", adminHandler.Articles)
		}
	}
	r.GET("/ws/chat/:token", chatHandler.Handle)

	// Start the HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}

	// The Kafka consumer loop ends with the process; no explicit close is
	// needed here.
	log.Info("server stopped")
}
