package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lobcore/service"
)

// recoveryMessage is the JSON body of a snapshot request.
type recoveryMessage struct {
	V            int    `json:"v"`
	Type         string `json:"type"`
	Symbol       string `json:"symbol"`
	Session      string `json:"session"`
	LastSequence uint64 `json:"last_sequence"`
	Received     uint64 `json:"received"`
	Reason       string `json:"reason"`
	At           int64  `json:"at"`
}

// RecoveryPublisher asks the upstream feed for fresh snapshots, keyed by
// symbol so requests for one book stay ordered.
type RecoveryPublisher struct {
	producer *Producer
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewRecoveryPublisher(p *Producer, logger *zap.Logger) *RecoveryPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryPublisher{
		producer: p,
		timeout:  5 * time.Second,
		log:      logger.Named("recovery").Sugar(),
	}
}

func (r *RecoveryPublisher) PublishRecovery(ctx context.Context, req service.RecoveryRequest) error {
	body, err := json.Marshal(recoveryMessage{
		V:            1,
		Type:         "snapshot_request",
		Symbol:       req.Symbol,
		Session:      req.Session.String(),
		LastSequence: req.LastSequence,
		Received:     req.Received,
		Reason:       req.Reason,
		At:           req.At.UnixNano(),
	})
	if err != nil {
		return errors.Wrap(err, "encode recovery request")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.producer.Send(ctx, []byte(req.Symbol), body); err != nil {
		r.log.Errorw("recovery request not published", "symbol", req.Symbol, "error", err)
		return errors.Wrapf(err, "publish recovery for %s", req.Symbol)
	}
	r.log.Infow("recovery request published", "symbol", req.Symbol, "last", req.LastSequence, "reason", req.Reason)
	return nil
}

func (r *RecoveryPublisher) Close() error {
	return r.producer.Close()
}
