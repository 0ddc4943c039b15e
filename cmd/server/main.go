package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/market-ingest/internal/app"
	"github.com/yourorg/market-ingest/internal/config"
	"github.com/yourorg/market-ingest/internal/control"
	"github.com/yourorg/market-ingest/internal/handler"
	"github.com/yourorg/market-ingest/internal/logger"
	"github.com/yourorg/market-ingest/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(app.ConfigPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	policy, err := repository.ParseConflictPolicy(cfg.Database.OnConflict)
	if err != nil {
		zapLogger.Fatal("Invalid conflict policy", zap.Error(err))
	}
	candleRepo := repository.NewCandleRepository(db, policy, zapLogger)

	// Initialize services
	ingestService, cleanup, err := app.NewIngestService(cfg, candleRepo, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to set up ingest service", zap.Error(err))
	}
	defer cleanup()

	// Initialize handlers
	ingestHandler := handler.NewIngestHandler(ingestService, cfg.Ingest.DataDir, zapLogger)
	var retrievalHandler *handler.RetrievalHandler
	var retriever control.Retriever
	if cfg.Retrieval.Enabled {
		retrievalService, err := app.NewRetrievalService(cfg, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to set up retrieval", zap.Error(err))
		}
		retrievalHandler = handler.NewRetrievalHandler(retrievalService, ingestService, cfg.Ingest.DataDir, zapLogger)
		retriever = retrievalService
	}

	// Control channel
	listenerDone := make(chan struct{})
	if cfg.Redis.Addr != "" {
		redisClient, err := setupRedis(ctx, cfg.Redis, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()

		dispatcher := control.NewDispatcher(
			ingestService,
			candleRepo,
			redisClient,
			retriever,
			cfg.Ingest.DataDir,
			cfg.Redis.MarketQueue,
			zapLogger,
		)
		listener := control.NewListener(redisClient, cfg.Redis.ControlChannel, dispatcher, zapLogger)
		go func() {
			defer close(listenerDone)
			if err := listener.Run(ctx); err != nil {
				zapLogger.Error("Control listener stopped", zap.Error(err))
			}
		}()
	} else {
		close(listenerDone)
	}

	// Set up HTTP server with Gin
	router := handler.SetupRouter(ingestHandler, retrievalHandler, cfg.Server.ServiceKey, zapLogger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		zapLogger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-listenerDone
	if retrievalHandler != nil {
		waited := make(chan struct{})
		go func() {
			retrievalHandler.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			zapLogger.Warn("Background retrievals still running at shutdown")
		}
	}

	zapLogger.Info("Server exited properly")
}

// setupRedis accepts either a redis:// URL or a host:port address
func setupRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	var options *redis.Options
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, err
		}
		options = parsed
	} else {
		options = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", options.Addr))
	return client, nil
}
