package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"lobcore/domain/event"
	"lobcore/infra/codec"
)

// MessageReader is the subset of *kafka.Reader the feed reader needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives every decoded feed event.
type Handler func(ctx context.Context, symbol string, ev event.Event) error

type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// FeedReader consumes codec-encoded events from a topic. Messages are
// committed once handled; undecodable messages are logged and skipped.
type FeedReader struct {
	reader MessageReader
	handle Handler
	log    *zap.SugaredLogger

	consumed     atomic.Uint64
	decodeErrors atomic.Uint64
	handleErrors atomic.Uint64
}

func NewFeedReader(cfg ReaderConfig, handle Handler, logger *zap.Logger) *FeedReader {
	return NewFeedReaderFrom(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	}), handle, logger)
}

func NewFeedReaderFrom(r MessageReader, handle Handler, logger *zap.Logger) *FeedReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedReader{reader: r, handle: handle, log: logger.Named("feed.kafka").Sugar()}
}

// Run consumes until ctx is cancelled.
func (f *FeedReader) Run(ctx context.Context) error {
	f.log.Infow("kafka feed reader started")
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch feed message")
		}
		f.consume(ctx, msg)

		if err := f.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "commit offset %d", msg.Offset)
		}
	}
}

func (f *FeedReader) consume(ctx context.Context, msg kafka.Message) {
	f.consumed.Add(1)

	symbol, ev, err := codec.Decode(msg.Value)
	if err != nil {
		f.decodeErrors.Add(1)
		f.log.Errorw("undecodable feed message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}
	if symbol == "" {
		symbol = string(msg.Key)
	}
	event.Stamp(ev, time.Now().UnixNano())

	if err := f.handle(ctx, symbol, ev); err != nil {
		f.handleErrors.Add(1)
		f.log.Warnw("feed event not applied", "symbol", symbol, "seq", ev.Seq(), "error", err)
	}
}

func (f *FeedReader) Consumed() uint64 { return f.consumed.Load() }
func (f *FeedReader) DecodeErrors() uint64 { return f.decodeErrors.Load() }
func (f *FeedReader) HandleErrors() uint64 { return f.handleErrors.Load() }

func (f *FeedReader) Close() error {
	return f.reader.Close()
}
