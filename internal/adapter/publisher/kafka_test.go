package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotehub/internal/domain/model"
	"quotehub/internal/infrastructure/logger"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish_KeysBySymbol(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "market.quote", log: logger.Discard()}
	ts := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		model.Quote{Symbol: "600519.SH", Price: decimal.NewFromInt(1700), Source: "tushare", Timestamp: ts},
		model.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(190), Source: "akshare", Timestamp: ts},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "600519.SH", string(w.msgs[0].Key))
	assert.Equal(t, "akshare", string(w.msgs[1].Headers[0].Value))

	var q model.Quote
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &q))
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(190)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublish_Error(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, topic: "market.quote", log: logger.Discard()}
	err := p.Publish(context.Background(), model.Quote{Symbol: "AAPL"})
	assert.ErrorContains(t, err, "broker down")
}

func TestPublish_Empty(t *testing.T) {
	w := &fakeWriter{err: errors.New("unused")}
	p := &KafkaPublisher{writer: w, log: logger.Discard()}
	assert.NoError(t, p.Publish(context.Background()))
	assert.NoError(t, Nop{}.Publish(context.Background(), model.Quote{}))
}
