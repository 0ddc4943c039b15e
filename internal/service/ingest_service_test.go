package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDecoder struct {
	rows  map[string][]capture.Row
	fails map[string]bool
}

func (d *fakeDecoder) Decode(_ context.Context, path string) ([]capture.Row, error) {
	name := filepath.Base(path)
	if d.fails[name] {
		return nil, &capture.DecodeError{Path: path, Err: errors.New("invalid DBN header")}
	}
	return d.rows[name], nil
}

type fakeStore struct {
	calls  int
	stored []model.Candle
	err    error
}

func (s *fakeStore) BulkInsert(_ context.Context, candles []model.Candle, _ int) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, &repository.StorageError{Op: "bulk insert candles", Err: s.err}
	}
	s.stored = append(s.stored, candles...)
	return len(candles), nil
}

type fakePublisher struct {
	events []model.IngestEvent
	err    error
}

func (p *fakePublisher) PublishIngestEvent(_ context.Context, event model.IngestEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type fakeArchiver struct {
	paths []string
}

func (a *fakeArchiver) ArchiveFile(_ context.Context, path string) (string, error) {
	a.paths = append(a.paths, path)
	return "captures/" + filepath.Base(path), nil
}

func makeRows(symbol string, n int) []capture.Row {
	base := time.Date(2025, 12, 1, 14, 30, 0, 0, time.UTC)
	rows := make([]capture.Row, n)
	for i := range rows {
		rows[i] = capture.Row{
			TimeIndex: base.Add(time.Duration(i) * time.Minute),
			Symbol:    symbol,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    uint64(i + 1),
		}
	}
	return rows
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
}

func testOptions() IngestOptions {
	return IngestOptions{Market: "futures", Timeframe: "1m", PageSize: 500}
}

func TestIngestFile(t *testing.T) {
	decoder := &fakeDecoder{rows: map[string][]capture.Row{"a.dbn.zst": makeRows("NQ.v.0", 3)}}
	store := &fakeStore{}
	publisher := &fakePublisher{}
	archiver := &fakeArchiver{}

	s := NewIngestService(decoder, store, testOptions(), zap.NewNop())
	s.SetPublisher(publisher)
	s.SetArchiver(archiver)

	n, err := s.IngestFile(context.Background(), "a.dbn.zst")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, store.stored, 3)
	assert.Equal(t, "NQ", store.stored[0].Symbol)
	assert.Equal(t, "futures", store.stored[0].Market)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, 3, publisher.events[0].Rows)
	assert.Equal(t, []string{"NQ"}, publisher.events[0].Symbols)
	assert.NotEmpty(t, publisher.events[0].RunID)
	assert.Equal(t, []string{"a.dbn.zst"}, archiver.paths)
}

func TestIngestFileTwiceSubmitsTwice(t *testing.T) {
	decoder := &fakeDecoder{rows: map[string][]capture.Row{"a.dbn.zst": makeRows("ES.v.0", 25)}}
	store := &fakeStore{}
	s := NewIngestService(decoder, store, testOptions(), zap.NewNop())

	for i := 0; i < 2; i++ {
		n, err := s.IngestFile(context.Background(), "a.dbn.zst")
		require.NoError(t, err)
		assert.Equal(t, 25, n)
	}
	assert.Len(t, store.stored, 50)
}

func TestIngestFilePublisherFailureIsNotFatal(t *testing.T) {
	decoder := &fakeDecoder{rows: map[string][]capture.Row{"a.dbn.zst": makeRows("NQ", 2)}}
	s := NewIngestService(decoder, &fakeStore{}, testOptions(), zap.NewNop())
	s.SetPublisher(&fakePublisher{err: errors.New("broker unreachable")})

	n, err := s.IngestFile(context.Background(), "a.dbn.zst")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestFileMalformedBars(t *testing.T) {
	rows := makeRows("NQ", 3)
	rows[1].High, rows[1].Low = 90, 110

	for _, reject := range []bool{false, true} {
		decoder := &fakeDecoder{rows: map[string][]capture.Row{"a.dbn.zst": rows}}
		store := &fakeStore{}
		opts := testOptions()
		opts.RejectMalformed = reject
		s := NewIngestService(decoder, store, opts, zap.NewNop())

		report, err := s.IngestFiles(context.Background(), []string{"a.dbn.zst"})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Files[0].Malformed)
		if reject {
			assert.Equal(t, 2, report.TotalRows)
		} else {
			assert.Equal(t, 3, report.TotalRows)
		}
	}
}

func TestIngestDirSkipsUndecodableFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dbn.zst", "b.dbn.zst", "c.dbn.zst", "notes.txt")

	decoder := &fakeDecoder{
		rows: map[string][]capture.Row{
			"a.dbn.zst": makeRows("NQ", 4),
			"c.dbn.zst": makeRows("ES", 6),
		},
		fails: map[string]bool{"b.dbn.zst": true},
	}
	store := &fakeStore{}
	s := NewIngestService(decoder, store, testOptions(), zap.NewNop())

	report, err := s.IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 10, report.TotalRows)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Files, 3)
	assert.Equal(t, filepath.Join(dir, "a.dbn.zst"), report.Files[0].Path)
	assert.NotEmpty(t, report.Files[1].Error)
	assert.Equal(t, 6, report.Files[2].Rows)
	assert.Equal(t, 2, store.calls)
}

func TestIngestDirStopsOnStorageError(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.dbn.zst", "b.dbn.zst")

	decoder := &fakeDecoder{rows: map[string][]capture.Row{
		"a.dbn.zst": makeRows("NQ", 4),
		"b.dbn.zst": makeRows("NQ", 4),
	}}
	store := &fakeStore{err: errors.New("connection refused")}
	s := NewIngestService(decoder, store, testOptions(), zap.NewNop())

	report, err := s.IngestDir(context.Background(), dir)

	var storageErr *repository.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.NotNil(t, report)
	assert.Len(t, report.Files, 1)
	assert.Equal(t, 1, store.calls)
}

func TestIngestDirMissingDirectory(t *testing.T) {
	s := NewIngestService(&fakeDecoder{}, &fakeStore{}, testOptions(), zap.NewNop())

	_, err := s.IngestDir(context.Background(), filepath.Join(t.TempDir(), "missing"))

	var notFound *capture.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestIngestFilesHonoursCancellation(t *testing.T) {
	store := &fakeStore{}
	s := NewIngestService(&fakeDecoder{}, store, testOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.IngestFiles(ctx, []string{"a.dbn.zst"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls)
}
