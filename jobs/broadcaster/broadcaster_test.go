package broadcaster

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobcore/domain/event"
	"lobcore/domain/orderbook"
	"lobcore/service"
)

type memSink struct {
	got  []service.MarketData
	fail bool
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Publish(_ context.Context, md service.MarketData) error {
	if m.fail {
		return errors.New("sink down")
	}
	m.got = append(m.got, md)
	return nil
}

func add(seq, id uint64, side orderbook.Side, price int64) *event.OrderEvent {
	return &event.OrderEvent{Header: event.Header{Sequence: seq}, OrderID: id, Side: side, Price: price, Qty: 1, Update: event.Add}
}

func newService(t *testing.T) *service.BookService {
	t.Helper()
	svc := service.NewBookService(service.ServiceConfig{Symbols: []string{"BTC-USD", "ETH-USD"}})
	require.NoError(t, svc.Handle(context.Background(), "BTC-USD", add(1, 1, orderbook.Bid, 100)))
	return svc
}

func TestBroadcastOnlyChangedBooks(t *testing.T) {
	svc := newService(t)
	sink := &memSink{}
	b := New(svc, 5, nil, sink)
	ctx := context.Background()

	assert.Equal(t, 2, b.BroadcastOnce(ctx))
	assert.Zero(t, b.BroadcastOnce(ctx))

	require.NoError(t, svc.Handle(ctx, "BTC-USD", add(2, 2, orderbook.Ask, 105)))
	assert.Equal(t, 1, b.BroadcastOnce(ctx))

	last := sink.got[len(sink.got)-1]
	assert.Equal(t, "BTC-USD", last.Symbol)
	assert.EqualValues(t, 2, last.Sequence)
	assert.True(t, last.HasAsk)
}

func TestBroadcastRetriesFailedSink(t *testing.T) {
	svc := newService(t)
	sink := &memSink{fail: true}
	b := New(svc, 5, nil, sink)
	ctx := context.Background()

	assert.Zero(t, b.BroadcastOnce(ctx))
	sink.fail = false
	assert.Equal(t, 2, b.BroadcastOnce(ctx))
}

func TestKafkaSink(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var md service.MarketData
		if err := json.Unmarshal(val, &md); err != nil {
			return err
		}
		if md.Symbol != "BTC-USD" || md.BestBid != 100 {
			return errors.Newf("unexpected payload %+v", md)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkFrom(producer, "marketdata")
	svc := newService(t)
	md, err := svc.MarketData("BTC-USD", 5)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), md))
	assert.ErrorIs(t, sink.Publish(context.Background(), md), sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}
