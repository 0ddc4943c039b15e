package app

import (
	"fmt"
	"os"
	"time"

	"github.com/yourorg/market-ingest/internal/archive"
	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/client"
	"github.com/yourorg/market-ingest/internal/config"
	"github.com/yourorg/market-ingest/internal/kafka"
	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/service"
	"github.com/yourorg/market-ingest/internal/utils"

	"go.uber.org/zap"
)

// DefaultConfigPath is used when CONFIG_PATH is unset
const DefaultConfigPath = "config/config.yaml"

// ConfigPath returns the configuration file location
func ConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return DefaultConfigPath
}

// NewIngestService builds the ingest pipeline with the optional event and archive sinks.
// The returned cleanup closes whatever was opened.
func NewIngestService(cfg *config.Config, store service.CandleStore, logger *zap.Logger) (*service.IngestService, func(), error) {
	svc := service.NewIngestService(
		capture.NewDBNDecoder(logger),
		store,
		service.IngestOptions{
			Market:          cfg.Ingest.Market,
			Timeframe:       cfg.Ingest.Timeframe,
			PageSize:        cfg.Ingest.PageSize,
			RejectMalformed: cfg.Ingest.RejectMalformed,
		},
		logger,
	)

	cleanup := func() {}

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, cfg.Kafka.ClientID, logger)
		svc.SetPublisher(kafka.NewIngestEventPublisher(producer, cfg.IngestEventsTopic()))
		cleanup = func() { producer.Close() }
		logger.Info("Publishing ingest events",
			zap.Strings("brokers", brokers),
			zap.String("topic", cfg.IngestEventsTopic()))
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3Archiver(cfg.Archive, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		svc.SetArchiver(archiver)
		logger.Info("Archiving capture files", zap.String("bucket", cfg.Archive.Bucket))
	}

	return svc, cleanup, nil
}

// NewRetrievalService builds the provider workflow; it needs the provider API key
func NewRetrievalService(cfg *config.Config, logger *zap.Logger) (*service.RetrievalService, error) {
	if err := cfg.ValidateRetrieval(); err != nil {
		return nil, err
	}

	provider := client.NewDatabentoClient(cfg.Databento, logger)
	return service.NewRetrievalService(provider, cfg.Retrieval, cfg.Ingest.Timeframe, logger), nil
}

// ConfiguredRequest builds the batch request described by the retrieval section
func ConfiguredRequest(cfg *config.Config, retrieval *service.RetrievalService) (model.BatchJobRequest, error) {
	if cfg.Retrieval.Symbol == "" {
		return model.BatchJobRequest{}, &config.ConfigurationError{Missing: []string{"retrieval.symbol"}}
	}

	start, err := utils.ParseTime(cfg.Retrieval.Start)
	if err != nil {
		return model.BatchJobRequest{}, &config.ConfigurationError{Invalid: []string{fmt.Sprintf("retrieval.start=%s", cfg.Retrieval.Start)}}
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if cfg.Retrieval.End != "" {
		if end, err = utils.ParseTime(cfg.Retrieval.End); err != nil {
			return model.BatchJobRequest{}, &config.ConfigurationError{Invalid: []string{fmt.Sprintf("retrieval.end=%s", cfg.Retrieval.End)}}
		}
	}

	return retrieval.RequestForSymbol(cfg.Retrieval.Symbol, start, end)
}
