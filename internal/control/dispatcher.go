package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yourorg/market-ingest/internal/model"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Control message types
const (
	TypeIngestRequest   = "ingest_request"
	TypeDataRequest     = "data_request"
	TypeRetrieveRequest = "retrieve_request"
)

// ErrRetrievalDisabled is returned for retrieve requests when no provider is configured
var ErrRetrievalDisabled = errors.New("retrieval is not configured")

// Message is the envelope published on the control channel
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DataRequest asks for stored candles to be pushed onto the market queue. With Count set,
// the Count candles up to StartTime are pushed instead of the StartTime..EndTime range.
type DataRequest struct {
	Market    string    `json:"market"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Count     int       `json:"count,omitempty"`
}

// Broker is the list push used for candle replay
type Broker interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// CandleReader reads stored candles
type CandleReader interface {
	ListCandles(ctx context.Context, filter model.CandleFilter) ([]model.Candle, error)
	GetPastCandles(ctx context.Context, market, symbol, timeframe string, before time.Time, count int) ([]model.Candle, error)
}

// Ingester loads capture files
type Ingester interface {
	IngestFile(ctx context.Context, path string) (int, error)
	IngestDir(ctx context.Context, dir string) (*model.IngestReport, error)
	IngestFiles(ctx context.Context, files []string) (*model.IngestReport, error)
}

// Retriever fetches capture files from the provider
type Retriever interface {
	RequestForSymbol(symbol string, start, end time.Time) (model.BatchJobRequest, error)
	Retrieve(ctx context.Context, request model.BatchJobRequest, outputDir string) ([]string, error)
}

// Dispatcher routes control messages to the ingestion components
type Dispatcher struct {
	ingester  Ingester
	reader    CandleReader
	broker    Broker
	retriever Retriever
	dataDir   string
	queue     string
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. retriever may be nil.
func NewDispatcher(
	ingester Ingester,
	reader CandleReader,
	broker Broker,
	retriever Retriever,
	dataDir string,
	queue string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		ingester:  ingester,
		reader:    reader,
		broker:    broker,
		retriever: retriever,
		dataDir:   dataDir,
		queue:     queue,
		logger:    logger,
	}
}

// Handle decodes one control payload and runs the matching request
func (d *Dispatcher) Handle(ctx context.Context, payload string) error {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("invalid control message: %w", err)
	}

	switch msg.Type {
	case TypeIngestRequest:
		return decodeAndHandle(ctx, msg.Data, d.handleIngest)
	case TypeDataRequest:
		return decodeAndHandle(ctx, msg.Data, d.handleData)
	case TypeRetrieveRequest:
		return decodeAndHandle(ctx, msg.Data, d.handleRetrieve)
	default:
		return fmt.Errorf("unknown control message type %q", msg.Type)
	}
}

func decodeAndHandle[T any](ctx context.Context, data json.RawMessage, handler func(context.Context, T) error) error {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid control payload: %w", err)
	}
	return handler(ctx, payload)
}

func (d *Dispatcher) handleIngest(ctx context.Context, req model.IngestRequest) error {
	switch {
	case req.FileName != "":
		path := req.FileName
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.dataDir, path)
		}
		rows, err := d.ingester.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		d.logger.Info("Handled ingest request", zap.String("file", path), zap.Int("rows", rows))
		return nil
	case req.Directory != "":
		report, err := d.ingester.IngestDir(ctx, req.Directory)
		if err != nil {
			return err
		}
		d.logger.Info("Handled ingest request",
			zap.String("directory", req.Directory),
			zap.Int("rows", report.TotalRows))
		return nil
	default:
		return errors.New("ingest request needs file_name or directory")
	}
}

func (d *Dispatcher) handleData(ctx context.Context, req DataRequest) error {
	candles, err := d.readCandles(ctx, req)
	if err != nil {
		return err
	}

	pushed := 0
	for _, candle := range candles {
		payload, err := json.Marshal(candle)
		if err != nil {
			d.logger.Warn("Failed to marshal candle", zap.Int64("id", candle.ID), zap.Error(err))
			continue
		}
		if err := d.broker.RPush(ctx, d.queue, payload).Err(); err != nil {
			return fmt.Errorf("failed to enqueue candle: %w", err)
		}
		pushed++
	}

	d.logger.Info("Handled data request",
		zap.String("symbol", req.Symbol),
		zap.Time("start", req.StartTime),
		zap.Time("end", req.EndTime),
		zap.Int("count", req.Count),
		zap.String("queue", d.queue),
		zap.Int("candles", pushed))
	return nil
}

func (d *Dispatcher) readCandles(ctx context.Context, req DataRequest) ([]model.Candle, error) {
	if req.Count > 0 {
		if req.Symbol == "" || req.StartTime.IsZero() {
			return nil, errors.New("data request with count needs symbol and start_time")
		}
		return d.reader.GetPastCandles(ctx, req.Market, req.Symbol, req.Timeframe, req.StartTime, req.Count)
	}

	filter := model.CandleFilter{
		Market:    req.Market,
		Timeframe: req.Timeframe,
	}
	if req.Symbol != "" {
		filter.Symbols = []string{req.Symbol}
	}
	if !req.StartTime.IsZero() {
		filter.Start = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.End = &req.EndTime
	}

	return d.reader.ListCandles(ctx, filter)
}

func (d *Dispatcher) handleRetrieve(ctx context.Context, req model.RetrievalRequest) error {
	if d.retriever == nil {
		return ErrRetrievalDisabled
	}
	if req.Symbol == "" || req.Start.IsZero() || req.End.IsZero() {
		return errors.New("retrieve request needs symbol, start and end")
	}

	jobReq, err := d.retriever.RequestForSymbol(req.Symbol, req.Start, req.End)
	if err != nil {
		return err
	}
	paths, err := d.retriever.Retrieve(ctx, jobReq, d.dataDir)
	if err != nil {
		return err
	}
	report, err := d.ingester.IngestFiles(ctx, paths)
	if err != nil {
		return err
	}

	d.logger.Info("Handled retrieve request",
		zap.String("symbol", req.Symbol),
		zap.Int("files", len(paths)),
		zap.Int("rows", report.TotalRows))
	return nil
}
