package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CandleStore persists normalized candles
type CandleStore interface {
	BulkInsert(ctx context.Context, candles []model.Candle, pageSize int) (int, error)
}

// EventPublisher announces loaded files
type EventPublisher interface {
	PublishIngestEvent(ctx context.Context, event model.IngestEvent) error
}

// Archiver keeps a copy of ingested capture files
type Archiver interface {
	ArchiveFile(ctx context.Context, path string) (string, error)
}

// IngestOptions are fixed for the lifetime of the service
type IngestOptions struct {
	Market          string
	Timeframe       string
	PageSize        int
	RejectMalformed bool
}

// IngestService drives decode, normalize and load for capture files
type IngestService struct {
	decoder   capture.Decoder
	store     CandleStore
	publisher EventPublisher
	archiver  Archiver
	opts      IngestOptions
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	decoder capture.Decoder,
	store CandleStore,
	opts IngestOptions,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		decoder: decoder,
		store:   store,
		opts:    opts,
		logger:  logger,
	}
}

// SetPublisher enables ingest events
func (s *IngestService) SetPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// SetArchiver enables archiving of ingested files
func (s *IngestService) SetArchiver(archiver Archiver) {
	s.archiver = archiver
}

// IngestFile loads one capture file and returns the number of rows submitted
func (s *IngestService) IngestFile(ctx context.Context, path string) (int, error) {
	result, err := s.ingestFile(ctx, uuid.NewString(), path)
	return result.Rows, err
}

// IngestDir loads every capture file of dir in sorted order
func (s *IngestService) IngestDir(ctx context.Context, dir string) (*model.IngestReport, error) {
	files, err := capture.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	return s.IngestFiles(ctx, files)
}

// IngestFiles loads the given files one at a time. A file that fails to decode is
// recorded and skipped; a storage failure stops the run and returns the partial report.
func (s *IngestService) IngestFiles(ctx context.Context, files []string) (*model.IngestReport, error) {
	report := &model.IngestReport{
		RunID: uuid.NewString(),
		Files: make([]model.FileResult, 0, len(files)),
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.ingestFile(ctx, report.RunID, path)
		report.TotalRows += result.Rows
		if err != nil {
			result.Error = err.Error()
			report.Files = append(report.Files, result)
			report.Failed++

			var decodeErr *capture.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Warn("Skipping capture file that failed to decode",
					zap.String("run_id", report.RunID),
					zap.String("file", path),
					zap.Error(err))
				continue
			}
			return report, err
		}
		report.Files = append(report.Files, result)
	}

	s.logger.Info("Ingest run finished",
		zap.String("run_id", report.RunID),
		zap.Int("files", len(files)),
		zap.Int("failed", report.Failed),
		zap.Int("total_rows", report.TotalRows))

	return report, nil
}

func (s *IngestService) ingestFile(ctx context.Context, runID, path string) (model.FileResult, error) {
	result := model.FileResult{Path: path}
	start := time.Now()

	rows, err := s.decoder.Decode(ctx, path)
	if err != nil {
		return result, err
	}

	candles := NormalizeRows(rows, s.opts.Market, s.opts.Timeframe)
	candles, result.Malformed = s.screen(candles)
	if result.Malformed > 0 {
		s.logger.Warn("Capture file contains malformed bars",
			zap.String("file", path),
			zap.Int("malformed", result.Malformed),
			zap.Bool("rejected", s.opts.RejectMalformed))
	}

	result.Rows, err = s.store.BulkInsert(ctx, candles, s.opts.PageSize)
	if err != nil {
		return result, err
	}

	s.logger.Info("Ingested capture file",
		zap.String("run_id", runID),
		zap.String("file", path),
		zap.Int("rows", result.Rows),
		zap.Duration("elapsed", time.Since(start)))

	if s.archiver != nil {
		if key, err := s.archiver.ArchiveFile(ctx, path); err != nil {
			s.logger.Warn("Failed to archive capture file", zap.String("file", path), zap.Error(err))
		} else {
			s.logger.Debug("Archived capture file", zap.String("file", path), zap.String("key", key))
		}
	}

	if s.publisher != nil {
		event := model.IngestEvent{
			RunID:      runID,
			File:       path,
			Market:     s.opts.Market,
			Timeframe:  s.opts.Timeframe,
			Rows:       result.Rows,
			Symbols:    distinctSymbols(candles),
			IngestedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishIngestEvent(ctx, event); err != nil {
			s.logger.Warn("Failed to publish ingest event", zap.String("file", path), zap.Error(err))
		}
	}

	return result, nil
}

// screen counts malformed bars and drops them when configured to
func (s *IngestService) screen(candles []model.Candle) ([]model.Candle, int) {
	malformed := 0
	kept := candles[:0]
	for _, c := range candles {
		if c.Malformed() {
			malformed++
			if s.opts.RejectMalformed {
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept, malformed
}

func distinctSymbols(candles []model.Candle) []string {
	seen := make(map[string]struct{})
	for _, c := range candles {
		seen[c.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
