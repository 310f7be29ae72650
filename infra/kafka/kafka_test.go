package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobcore/domain/event"
	"lobcore/domain/orderbook"
	"lobcore/infra/codec"
	"lobcore/service"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { r.closed = true; return nil }

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func encode(t *testing.T, symbol string, ev event.Event) []byte {
	t.Helper()
	b, err := codec.Encode(symbol, ev)
	require.NoError(t, err)
	return b
}

func TestFeedReaderDecodesAndCommits(t *testing.T) {
	order := &event.OrderEvent{Header: event.Header{Sequence: 1}, OrderID: 1, Side: orderbook.Bid, Price: 100, Qty: 1, Update: event.Add}
	trade := &event.TradeEvent{Header: event.Header{Sequence: 2}, Price: 100, Qty: 1, Aggressor: orderbook.Ask}

	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 10, Value: encode(t, "BTC-USD", order)},
		{Offset: 11, Value: []byte{0xff, 0xff}},
		{Offset: 12, Key: []byte("ETH-USD"), Value: encode(t, "", trade)},
	}}

	type got struct {
		symbol string
		seq    uint64
	}
	var seen []got
	f := NewFeedReaderFrom(r, func(_ context.Context, symbol string, ev event.Event) error {
		seen = append(seen, got{symbol, ev.Seq()})
		if symbol == "ETH-USD" {
			return errors.New("stale")
		}
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx))

	assert.Equal(t, []got{{"BTC-USD", 1}, {"ETH-USD", 2}}, seen)
	assert.Equal(t, []int64{10, 11, 12}, r.committed)
	assert.Equal(t, uint64(3), f.Consumed())
	assert.Equal(t, uint64(1), f.DecodeErrors())
	assert.Equal(t, uint64(1), f.HandleErrors())

	require.NoError(t, f.Close())
	assert.True(t, r.closed)
}

func TestRecoveryPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewRecoveryPublisher(NewProducerFrom(w), nil)

	req := service.RecoveryRequest{
		Symbol:       "BTC-USD",
		Session:      uuid.New(),
		LastSequence: 41,
		Received:     500,
		Reason:       "sequence gap exceeds tolerance",
		At:           time.Unix(1_700_000_000, 0),
	}
	require.NoError(t, p.PublishRecovery(context.Background(), req))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "BTC-USD", string(w.msgs[0].Key))

	var body recoveryMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "snapshot_request", body.Type)
	assert.Equal(t, uint64(41), body.LastSequence)
	assert.Equal(t, req.Session.String(), body.Session)

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishRecovery(context.Background(), req))
}
