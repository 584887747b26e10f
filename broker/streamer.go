package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeguard/logger"
	"tradeguard/model"
)

// Streamer is a live-price push hook over the broker's websocket feed.
// The control plane's core loop (gtt/monitor) polls LTP synchronously on a
// fixed interval per spec §4.7, so nothing in this tree depends on
// Streamer today; it exists as a documented seam for a future push-driven
// monitor, wired into a real websocket connection rather than left as a
// dangling dependency.
type Streamer struct {
	url          string
	dialTimeout  time.Duration
	pingInterval time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamer builds a Streamer against the broker's websocket feed URL
// (e.g. wss://api.groww.in/v1/feed).
func NewStreamer(wsURL string) *Streamer {
	return &Streamer{
		url:          wsURL,
		dialTimeout:  10 * time.Second,
		pingInterval: 30 * time.Second,
	}
}

// tickMessage is the wire shape of a single LTP push from the feed.
type tickMessage struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	LTP      float64 `json:"ltp"`
}

type subscribeMessage struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols"`
	Exchange string   `json:"exchange"`
}

// Subscribe dials the feed, subscribes to symbols on exchange, and forwards
// decoded ticks on the returned channel until Stop is called or the
// connection drops (in which case the channel is closed). Only one
// subscription may be active per Streamer at a time.
func (s *Streamer) Subscribe(symbols []string, exchange string) (<-chan model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, fmt.Errorf("streamer already subscribed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.dialTimeout}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	sub := subscribeMessage{Action: "subscribe", Symbols: symbols, Exchange: exchange}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel

	ticks := make(chan model.Quote, 64)
	s.wg.Add(1)
	go s.readLoop(ctx, conn, ticks)

	return ticks, nil
}

func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn, ticks chan<- model.Quote) {
	defer s.wg.Done()
	defer close(ticks)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg tickMessage
		if err := conn.ReadJSON(&msg); err != nil {
			logger.Warnf("broker feed read error: %v", err)
			return
		}

		select {
		case ticks <- model.Quote{Symbol: msg.Symbol, Exchange: msg.Exchange, LTP: msg.LTP}:
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the feed connection and waits for the read loop to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}
