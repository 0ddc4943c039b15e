package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourorg/market-ingest/internal/app"
	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/config"
	"github.com/yourorg/market-ingest/internal/logger"
	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/repository"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig(app.ConfigPath())
	if err != nil {
		return err
	}

	// Set up logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	policy, err := repository.ParseConflictPolicy(cfg.Database.OnConflict)
	if err != nil {
		return err
	}
	candleRepo := repository.NewCandleRepository(db, policy, zapLogger)

	ingestService, cleanup, err := app.NewIngestService(cfg, candleRepo, zapLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	dataDir := cfg.Ingest.DataDir
	files, err := discover(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fmt.Printf("No %s files found in %s\n", capture.Extension, dataDir)
		return nil
	}
	fmt.Printf("Found %s files:\n", capture.Extension)
	for _, path := range files {
		fmt.Printf(" - %s\n", path)
	}

	report, err := ingestService.IngestFiles(ctx, files)
	if report != nil {
		fmt.Printf("Inserted %d rows from %d files\n", report.TotalRows, len(report.Files))
	}
	if err != nil {
		return err
	}

	if cfg.Ingest.PrintCandles {
		if err := printCandles(ctx, candleRepo, cfg); err != nil {
			return err
		}
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", report.Failed, len(files))
	}
	return nil
}

// discover lists local capture files and falls back to the provider when there are none
func discover(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]string, error) {
	files, err := capture.ListFiles(cfg.Ingest.DataDir)
	var notFound *capture.NotFoundError
	if err != nil && !(errors.As(err, &notFound) && cfg.Retrieval.Enabled) {
		return nil, err
	}
	if len(files) > 0 || !cfg.Retrieval.Enabled {
		return files, nil
	}

	retrieval, err := app.NewRetrievalService(cfg, logger)
	if err != nil {
		return nil, err
	}
	request, err := app.ConfiguredRequest(cfg, retrieval)
	if err != nil {
		return nil, err
	}

	return retrieval.EnsureFiles(ctx, cfg.Ingest.DataDir, request)
}

func printCandles(ctx context.Context, repo *repository.CandleRepository, cfg *config.Config) error {
	candles, err := repo.ListCandles(ctx, model.CandleFilter{
		Market:    cfg.Ingest.Market,
		Timeframe: cfg.Ingest.Timeframe,
		Limit:     cfg.Ingest.PrintLimit,
	})
	if err != nil {
		return err
	}

	fmt.Println("Querying candles table...")
	for _, c := range candles {
		fmt.Printf("%d %s %s %s %s O=%.2f H=%.2f L=%.2f C=%.2f V=%d\n",
			c.ID, c.Timestamp.Format("2006-01-02 15:04:05"), c.Market, c.Symbol, c.Timeframe,
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return nil
}
