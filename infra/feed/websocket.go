// Package feed reads codec-encoded events from a websocket market data
// endpoint, reconnecting with exponential backoff.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lobcore/domain/event"
	"lobcore/infra/codec"
	"lobcore/service"
)

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// Handler receives every decoded feed event.
type Handler func(ctx context.Context, symbol string, ev event.Event) error

// control is a text frame sent to the feed.
type control struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	After   uint64   `json:"after,omitempty"`
}

type Config struct {
	URL          string
	Symbols      []string
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// Client keeps one websocket session alive. Binary frames are decoded as
// events; text frames are ignored.
type Client struct {
	cfg    Config
	handle Handler
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	connects     atomic.Uint64
	received     atomic.Uint64
	decodeErrors atomic.Uint64
}

func NewClient(cfg Config, handle Handler, logger *zap.Logger) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, handle: handle, log: logger.Named("feed.ws").Sugar().With("url", cfg.URL)}
}

// Start runs the connection loop until Stop or ctx cancellation.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop(ctx)
}

func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.close()
	c.wg.Wait()
}

func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()
	retry := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connect(ctx); err != nil {
			delay := backoff(retry)
			c.log.Warnw("websocket connect failed", "error", err, "retry", retry, "delay", delay)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		c.process(ctx)
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if len(c.cfg.Symbols) > 0 {
		if err := c.send(control{Op: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
			c.close()
			return errors.Wrap(err, "subscribe")
		}
	}
	c.connects.Add(1)
	go c.pingLoop(ctx, conn)

	c.log.Infow("websocket connected", "symbols", c.cfg.Symbols)
	return nil
}

func (c *Client) process(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnw("websocket read error", "error", err)
			}
			c.close()
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg []byte) {
	c.received.Add(1)
	symbol, ev, err := codec.Decode(msg)
	if err != nil {
		c.decodeErrors.Add(1)
		c.log.Errorw("undecodable feed frame", "bytes", len(msg), "error", err)
		return
	}
	event.Stamp(ev, time.Now().UnixNano())
	if err := c.handle(ctx, symbol, ev); err != nil {
		c.log.Warnw("feed event not applied", "symbol", symbol, "seq", ev.Seq(), "error", err)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.conn
			c.mu.RUnlock()
			if current != conn {
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warnw("websocket ping failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// PublishRecovery asks the feed to resend a snapshot for req.Symbol on the
// live session.
func (c *Client) PublishRecovery(_ context.Context, req service.RecoveryRequest) error {
	return c.send(control{Op: "snapshot", Symbol: req.Symbol, After: req.LastSequence})
}

func (c *Client) send(msg control) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("feed: websocket not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Connects() uint64 { return c.connects.Load() }
func (c *Client) Received() uint64 { return c.received.Load() }
func (c *Client) DecodeErrors() uint64 { return c.decodeErrors.Load() }

func backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<retry)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
