package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/market-ingest/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	topic  string
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newRecordingProducer(writers map[string]*recordingWriter) *Producer {
	p := NewProducer([]string{"localhost:9092"}, "test", zap.NewNop())
	p.newWriter = func(topic string) MessageWriter {
		w := &recordingWriter{topic: topic}
		writers[topic] = w
		return w
	}
	return p
}

func TestPublishIngestEvent(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := newRecordingProducer(writers)
	pub := NewIngestEventPublisher(p, "candle-ingest-events")

	event := model.IngestEvent{
		RunID:      "run-1",
		File:       "glbx-mdp3-20251201.ohlcv-1m.dbn.zst",
		Market:     "futures",
		Timeframe:  "1m",
		Rows:       1440,
		Symbols:    []string{"NQ"},
		IngestedAt: time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishIngestEvent(context.Background(), event))
	require.NoError(t, pub.PublishIngestEvent(context.Background(), event))

	require.Len(t, writers, 1)
	w := writers["candle-ingest-events"]
	require.Len(t, w.msgs, 2)
	assert.Equal(t, event.File, string(w.msgs[0].Key))

	var got model.IngestEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, event, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishWriteError(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := newRecordingProducer(writers)
	p.newWriter = func(topic string) MessageWriter {
		return &recordingWriter{topic: topic, err: errors.New("leader not available")}
	}

	err := p.Publish(context.Background(), "t", "k", map[string]int{"a": 1})
	assert.Error(t, err)
}
