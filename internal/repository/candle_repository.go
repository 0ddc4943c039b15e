package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/market-ingest/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DefaultPageSize bounds the number of rows in one multi-row insert statement
const DefaultPageSize = 500

// MaxPageSize keeps a page under the 65535 bind parameters Postgres accepts per statement
const MaxPageSize = 65535 / 9

// candleColumns is the positional column order used by every insert
var candleColumns = []string{
	"market", "symbol", "timeframe",
	"open", "high", "low", "close",
	"volume", "timestamp",
}

// ConflictPolicy selects how inserts treat an existing (market, symbol, timeframe, timestamp)
type ConflictPolicy int

const (
	// ConflictNone issues plain inserts; repeated runs store duplicate rows
	ConflictNone ConflictPolicy = iota
	// ConflictSkip ignores rows that violate the unique constraint
	ConflictSkip
)

// ParseConflictPolicy maps the configuration value to a policy
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ConflictNone, nil
	case "skip":
		return ConflictSkip, nil
	default:
		return ConflictNone, fmt.Errorf("unknown conflict policy %q", s)
	}
}

func (p ConflictPolicy) clause() string {
	if p == ConflictSkip {
		return " ON CONFLICT (market, symbol, timeframe, timestamp) DO NOTHING"
	}
	return ""
}

// DB is the subset of *sqlx.DB used by the repository
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var _ DB = (*sqlx.DB)(nil)

// CandleRepository handles database operations for candles
type CandleRepository struct {
	db       DB
	conflict ConflictPolicy
	logger   *zap.Logger
}

// NewCandleRepository creates a new candle repository
func NewCandleRepository(db DB, conflict ConflictPolicy, logger *zap.Logger) *CandleRepository {
	return &CandleRepository{
		db:       db,
		conflict: conflict,
		logger:   logger,
	}
}

// InsertCandle writes one candle and assigns the generated id to it
func (r *CandleRepository) InsertCandle(ctx context.Context, candle *model.Candle) (int64, error) {
	query := `
		INSERT INTO candles (
			market, symbol, timeframe,
			open, high, low, close,
			volume, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := r.db.GetContext(
		ctx,
		&id,
		query,
		candle.Market,
		candle.Symbol,
		candle.Timeframe,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
		candle.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to insert candle",
			zap.Error(err),
			zap.String("symbol", candle.Symbol),
			zap.Time("timestamp", candle.Timestamp))
		return 0, &StorageError{Op: "insert candle", Err: err}
	}

	candle.ID = id
	return id, nil
}

// BulkInsert writes candles with one multi-row insert per page and returns the number of
// rows submitted. Pages are committed independently: when a page fails, the rows of the
// earlier pages stay written and their count is returned along with the error.
func (r *CandleRepository) BulkInsert(ctx context.Context, candles []model.Candle, pageSize int) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	submitted := 0
	for start := 0; start < len(candles); start += pageSize {
		end := start + pageSize
		if end > len(candles) {
			end = len(candles)
		}
		page := candles[start:end]

		query, args := buildBulkInsert(page, r.conflict)
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.Error("Failed to bulk insert candles",
				zap.Error(err),
				zap.Int("page_start", start),
				zap.Int("page_rows", len(page)),
				zap.Int("submitted", submitted))
			return submitted, &StorageError{Op: "bulk insert candles", Err: err}
		}
		submitted += len(page)
	}

	r.logger.Debug("Bulk inserted candles",
		zap.Int("rows", submitted),
		zap.Int("page_size", pageSize))

	return submitted, nil
}

// buildBulkInsert renders a multi-row VALUES statement for one page
func buildBulkInsert(page []model.Candle, conflict ConflictPolicy) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO candles (")
	sb.WriteString(strings.Join(candleColumns, ", "))
	sb.WriteString(") VALUES ")

	width := len(candleColumns)
	args := make([]interface{}, 0, len(page)*width)
	for i, c := range page {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < width; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*width+j+1)
		}
		sb.WriteByte(')')
		args = append(args,
			c.Market, c.Symbol, c.Timeframe,
			c.Open, c.High, c.Low, c.Close,
			c.Volume, c.Timestamp,
		)
	}
	sb.WriteString(conflict.clause())

	return sb.String(), args
}

// GetCandle retrieves a candle by id
func (r *CandleRepository) GetCandle(ctx context.Context, id int64) (*model.Candle, error) {
	query := `
		SELECT id, market, symbol, timeframe, open, high, low, close, volume, timestamp
		FROM candles
		WHERE id = $1
	`

	var candle model.Candle
	err := r.db.GetContext(ctx, &candle, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get candle", zap.Error(err), zap.Int64("id", id))
		return nil, &StorageError{Op: "get candle", Err: err}
	}

	return &candle, nil
}

// ListCandles retrieves stored candles ordered by timestamp
func (r *CandleRepository) ListCandles(ctx context.Context, filter model.CandleFilter) ([]model.Candle, error) {
	where, args := buildWhere(filter)
	query := `
		SELECT id, market, symbol, timeframe, open, high, low, close, volume, timestamp
		FROM candles` + where + `
		ORDER BY timestamp, id`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var candles []model.Candle
	if err := r.db.SelectContext(ctx, &candles, query, args...); err != nil {
		r.logger.Error("Failed to list candles",
			zap.Error(err),
			zap.String("market", filter.Market),
			zap.Strings("symbols", filter.Symbols),
			zap.String("timeframe", filter.Timeframe))
		return nil, &StorageError{Op: "list candles", Err: err}
	}

	return candles, nil
}

// GetPastCandles returns up to count candles at or before the given time, oldest first
func (r *CandleRepository) GetPastCandles(
	ctx context.Context,
	market, symbol, timeframe string,
	before time.Time,
	count int,
) ([]model.Candle, error) {
	query := `
		SELECT id, market, symbol, timeframe, open, high, low, close, volume, timestamp
		FROM candles
		WHERE market = $1
		  AND symbol = $2
		  AND timeframe = $3
		  AND timestamp <= $4
		ORDER BY timestamp DESC, id DESC
		LIMIT $5`

	var candles []model.Candle
	if err := r.db.SelectContext(ctx, &candles, query, market, symbol, timeframe, before, count); err != nil {
		r.logger.Error("Failed to get past candles",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.Time("before", before),
			zap.Int("count", count))
		return nil, &StorageError{Op: "get past candles", Err: err}
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// CountCandles counts stored candles matching the filter
func (r *CandleRepository) CountCandles(ctx context.Context, filter model.CandleFilter) (int64, error) {
	where, args := buildWhere(filter)
	query := `SELECT COUNT(*) FROM candles` + where

	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.Error("Failed to count candles", zap.Error(err))
		return 0, &StorageError{Op: "count candles", Err: err}
	}

	return count, nil
}

func buildWhere(filter model.CandleFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Market != "" {
		add("market = $%d", filter.Market)
	}
	if len(filter.Symbols) > 0 {
		add("symbol = ANY($%d)", pq.Array(filter.Symbols))
	}
	if filter.Timeframe != "" {
		add("timeframe = $%d", filter.Timeframe)
	}
	if filter.Start != nil {
		add("timestamp >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("timestamp <= $%d", *filter.End)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}
