package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	dbn "github.com/NimbleMarkets/dbn-go"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// DBN prices are fixed-point integers scaled by 1e9
const fixedPriceScale = 1e9

// DBN record types 0x20..0x24 are the OHLCV family (1s, 1m, 1h, 1d, eod)
const (
	rtypeOhlcvFirst = 0x20
	rtypeOhlcvLast  = 0x24
)

// DBNDecoder decodes OHLCV capture files in Databento Binary Encoding
type DBNDecoder struct {
	logger *zap.Logger
}

// NewDBNDecoder creates a new DBN capture decoder
func NewDBNDecoder(logger *zap.Logger) *DBNDecoder {
	return &DBNDecoder{logger: logger}
}

// Decode reads every OHLCV record of the file. Instrument ids are mapped back to the
// symbol that was requested from the provider (e.g. "ES.v.0") using the file metadata.
func (d *DBNDecoder) Decode(ctx context.Context, path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(file)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("open zstd stream: %w", err)}
		}
		defer zr.Close()
		reader = zr
	}

	scanner := dbn.NewDbnScanner(reader)
	metadata, err := scanner.Metadata()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("read metadata: %w", err)}
	}

	symbols := dbn.NewTsSymbolMap()
	if err := symbols.FillFromMetadata(metadata); err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("build symbol map: %w", err)}
	}

	var rows []Row
	for scanner.Next() {
		if len(rows)%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		msg, err := dbn.DbnScannerDecode[dbn.OhlcvMsg](scanner)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("record %d: %w", len(rows), err)}
		}
		if rtype := uint8(msg.Header.RType); rtype < rtypeOhlcvFirst || rtype > rtypeOhlcvLast {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("record %d: unsupported record type 0x%02x", len(rows), rtype)}
		}

		ts := time.Unix(0, int64(msg.Header.TsEvent)).UTC()
		symbol := symbols.Get(ts, msg.Header.InstrumentID)
		if symbol == "" {
			symbol = strconv.FormatUint(uint64(msg.Header.InstrumentID), 10)
		}

		rows = append(rows, Row{
			TimeIndex: ts,
			Symbol:    symbol,
			Open:      float64(msg.Open) / fixedPriceScale,
			High:      float64(msg.High) / fixedPriceScale,
			Low:       float64(msg.Low) / fixedPriceScale,
			Close:     float64(msg.Close) / fixedPriceScale,
			Volume:    msg.Volume,
		})
	}
	if err := scanner.Error(); err != nil && !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Path: path, Err: err}
	}

	d.logger.Debug("Decoded capture file",
		zap.String("path", path),
		zap.Int("rows", len(rows)))

	return rows, nil
}
