package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobcore/domain/event"
	"lobcore/domain/orderbook"
	"lobcore/infra/codec"
	"lobcore/service"
)

func mockServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

type recorder struct {
	mu   sync.Mutex
	seqs []uint64
	syms []string
}

func (r *recorder) handle(_ context.Context, symbol string, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syms = append(r.syms, symbol)
	r.seqs = append(r.seqs, ev.Seq())
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seqs)
}

func TestClientSubscribesAndDecodes(t *testing.T) {
	subscribed := make(chan control, 1)
	recovery := make(chan control, 1)

	server := mockServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub control
		_ = json.Unmarshal(msg, &sub)
		subscribed <- sub

		for seq := uint64(1); seq <= 3; seq++ {
			b, _ := codec.Encode("BTC-USD", &event.OrderEvent{
				Header: event.Header{Sequence: seq}, OrderID: seq, Side: orderbook.Bid,
				Price: 100, Qty: 1, Update: event.Add,
			})
			_ = conn.WriteMessage(websocket.BinaryMessage, b)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xff})

		_, msg, err = conn.ReadMessage()
		if err != nil {
			return
		}
		var req control
		_ = json.Unmarshal(msg, &req)
		recovery <- req
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	rec := &recorder{}
	c := NewClient(Config{URL: wsURL(server.URL), Symbols: []string{"BTC-USD"}, ReadTimeout: time.Second}, rec.handle, nil)
	c.Start(context.Background())
	defer c.Stop()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, []string{"BTC-USD"}, sub.Symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame")
	}

	require.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, rec.seqs)
	require.Eventually(t, func() bool { return c.DecodeErrors() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.PublishRecovery(context.Background(), service.RecoveryRequest{Symbol: "BTC-USD", LastSequence: 3}))
	select {
	case req := <-recovery:
		assert.Equal(t, "snapshot", req.Op)
		assert.Equal(t, uint64(3), req.After)
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery frame")
	}
	assert.Equal(t, uint64(1), c.Connects())
}

func TestClientReconnects(t *testing.T) {
	server := mockServer(t, func(conn *websocket.Conn) {
		// drop every session immediately
	})
	defer server.Close()

	c := NewClient(Config{URL: wsURL(server.URL)}, (&recorder{}).handle, nil)
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Connects() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestPublishRecoveryWithoutSession(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"}, (&recorder{}).handle, nil)
	assert.Error(t, c.PublishRecovery(context.Background(), service.RecoveryRequest{Symbol: "X"}))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, baseDelay, backoff(0))
	assert.Equal(t, 2*baseDelay, backoff(1))
	assert.Equal(t, maxDelay, backoff(10))
	assert.Equal(t, maxDelay, backoff(64))
	assert.Equal(t, baseDelay, backoff(-1))
}
