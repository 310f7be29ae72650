package broadcaster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lobcore/service"
)

// Sink receives market data for every changed book.
type Sink interface {
	Name() string
	Publish(ctx context.Context, md service.MarketData) error
}

// version identifies the last published state of a symbol.
type version struct {
	seq      uint64
	checksum uint32
	stale    bool
	status   string
}

type Broadcaster struct {
	svc   *service.BookService
	sinks []Sink
	depth int
	log   *zap.SugaredLogger

	mu   sync.Mutex
	sent map[string]version
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(svc *service.BookService, depth int, logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		svc:   svc,
		sinks: sinks,
		depth: depth,
		log:   logger.Named("broadcaster").Sugar(),
		sent:  make(map[string]version),
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context, interval time.Duration) {
	b.log.Infow("broadcaster started", "interval", interval, "sinks", len(b.sinks))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				b.BroadcastOnce(ctx)
			}
		}
	}()
}

// ------------------------------------------------
// PUBLISH LOGIC
// ------------------------------------------------

// BroadcastOnce publishes every symbol whose book changed since the last
// successful round and returns how many symbols were published. A symbol
// is retried next round when any sink fails.
func (b *Broadcaster) BroadcastOnce(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	published := 0
	for _, sym := range b.svc.Symbols() {
		md, err := b.svc.MarketData(sym, b.depth)
		if err != nil {
			continue
		}
		v := version{seq: md.Sequence, checksum: md.Checksum, stale: md.Stale, status: md.Status}
		if prev, ok := b.sent[sym]; ok && prev == v {
			continue
		}

		ok := true
		for _, s := range b.sinks {
			if err := s.Publish(ctx, md); err != nil {
				ok = false
				b.log.Warnw("market data not published", "sink", s.Name(), "symbol", sym, "error", err)
			}
		}
		if ok {
			b.sent[sym] = v
			published++
		}
	}
	return published
}

// ------------------------------------------------
// KAFKA SINK
// ------------------------------------------------

// KafkaSink publishes MarketData as JSON keyed by symbol.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "market data producer")
	}
	return NewKafkaSinkFrom(producer, topic), nil
}

func NewKafkaSinkFrom(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(_ context.Context, md service.MarketData) error {
	body, err := json.Marshal(md)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(md.Symbol),
		Value: sarama.ByteEncoder(body),
	})
	return err
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
