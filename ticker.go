package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TickerState is the last-known live value for one market, overwritten on
// each upstream push and replayed to late-joining subscribers.
type TickerState struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"currentPrice"`
	ChangeRate   float64 `json:"changeRate"`
	Timestamp    int64   `json:"timestamp"`
}

// tickerConn is the downstream send surface; *websocket.Conn satisfies it.
type tickerConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// upstreamConn is the upstream stream surface; *websocket.Conn satisfies it.
type upstreamConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

type subscriber struct {
	conn     tickerConn
	interest map[string]struct{} // empty = every market
	send     chan TickerState
}

func (s *subscriber) wants(symbol string) bool {
	if len(s.interest) == 0 {
		return true
	}
	_, ok := s.interest[symbol]
	return ok
}

// sendBuffer is the per-subscriber queue depth beyond the replay burst.
// A subscriber that falls this far behind is treated as dead.
const sendBuffer = 256

// tickerHub maintains one long-lived upstream Upbit websocket subscription
// and fans decoded updates out to any number of downstream subscribers,
// each optionally filtered to a subset of markets. The hub outlives every
// individual subscriber and runs for the process lifetime.
type tickerHub struct {
	wsURL      string
	markets    []string
	dial       func(url string) (upstreamConn, error)
	backoffMin time.Duration
	backoffMax time.Duration
	sleep      func(time.Duration)

	mu          sync.Mutex
	lastKnown   map[string]TickerState
	subscribers map[string]*subscriber

	stop chan struct{}
}

func newTickerHub(cfg Config) *tickerHub {
	return &tickerHub{
		wsURL:   cfg.UpbitWSURL,
		markets: cfg.LiveMarkets,
		dial: func(url string) (upstreamConn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		backoffMin:  cfg.WSBackoffMin,
		backoffMax:  cfg.WSBackoffMax,
		sleep:       time.Sleep,
		lastKnown:   make(map[string]TickerState),
		subscribers: make(map[string]*subscriber),
		stop:        make(chan struct{}),
	}
}

// run drives the upstream connection state machine: connect, stream until
// an error, back off, reconnect. The backoff doubles per consecutive
// failure up to the cap and resets after a successful (re)connection.
// With no configured markets the hub stays idle.
func (h *tickerHub) run() {
	if len(h.markets) == 0 {
		fmt.Println("[Ticker] no live markets configured, hub idle")
		return
	}

	delay := h.backoffMin
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		conn, err := h.connect()
		if err != nil {
			fmt.Printf("[Ticker] connect failed: %v (retrying in %v)\n", err, delay)
			h.sleep(delay)
			delay = nextBackoff(delay, h.backoffMax)
			continue
		}

		fmt.Printf("[Ticker] streaming %d markets\n", len(h.markets))
		delay = h.backoffMin
		h.readLoop(conn)
		conn.Close()

		select {
		case <-h.stop:
			return
		default:
		}
		fmt.Printf("[Ticker] stream dropped, reconnecting in %v\n", delay)
		h.sleep(delay)
		delay = nextBackoff(delay, h.backoffMax)
	}
}

// close stops the reconnect loop. Only used by tests and shutdown.
func (h *tickerHub) close() {
	close(h.stop)
}

func (h *tickerHub) connect() (upstreamConn, error) {
	conn, err := h.dial(h.wsURL)
	if err != nil {
		return nil, err
	}
	subscribeFrame := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": h.markets},
		map[string]string{"format": "DEFAULT"},
	}
	if err := conn.WriteJSON(subscribeFrame); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (h *tickerHub) readLoop(conn upstreamConn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(msg)
	}
}

// handleMessage decodes one upstream frame. Frames missing a required field
// are silently dropped; everything else overwrites the last-known state and
// is pushed to every matching subscriber.
func (h *tickerHub) handleMessage(msg []byte) {
	var frame struct {
		Code             string   `json:"code"`
		TradePrice       *float64 `json:"trade_price"`
		SignedChangeRate *float64 `json:"signed_change_rate"`
		Timestamp        *int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if frame.Code == "" || frame.TradePrice == nil || frame.SignedChangeRate == nil || frame.Timestamp == nil {
		return
	}

	state := TickerState{
		Symbol:       frame.Code,
		CurrentPrice: *frame.TradePrice,
		ChangeRate:   *frame.SignedChangeRate,
		Timestamp:    *frame.Timestamp,
	}
	h.broadcast(state)
}

// broadcast records the new last-known state and enqueues it for every
// matching subscriber. Enqueueing happens under the lock so a send can
// never race a channel close; the actual network writes run on each
// subscriber's own writeLoop. A subscriber whose queue is full has stopped
// draining and is dropped.
func (h *tickerHub) broadcast(state TickerState) {
	var stale []string
	h.mu.Lock()
	h.lastKnown[state.Symbol] = state
	for id, sub := range h.subscribers {
		if !sub.wants(state.Symbol) {
			continue
		}
		select {
		case sub.send <- state:
		default:
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.unregister(id)
	}
}

// register adds a downstream subscriber. The current last-known state for
// every market matching its interest is queued ahead of any live update, so
// late joiners are not silent until the next tick and never observe a stale
// value after a fresh one. All writes to the connection are funneled
// through one writeLoop goroutine; the connection is never written from two
// goroutines at once. An empty interest set means all markets.
func (h *tickerHub) register(conn tickerConn, interest []string) string {
	sub := &subscriber{conn: conn, interest: make(map[string]struct{})}
	for _, symbol := range interest {
		if symbol != "" {
			sub.interest[symbol] = struct{}{}
		}
	}

	id := uuid.NewString()
	h.mu.Lock()
	// Sized so the whole replay burst fits before the loop starts draining.
	sub.send = make(chan TickerState, len(h.lastKnown)+sendBuffer)
	for symbol, state := range h.lastKnown {
		if sub.wants(symbol) {
			sub.send <- state
		}
	}
	h.subscribers[id] = sub
	h.mu.Unlock()

	go h.writeLoop(id, sub)
	return id
}

// writeLoop is the only writer for one subscriber connection. It drains the
// send queue in order and exits when the subscriber is unregistered or the
// peer stops accepting writes.
func (h *tickerHub) writeLoop(id string, sub *subscriber) {
	for state := range sub.send {
		if err := sub.conn.WriteJSON(state); err != nil {
			h.unregister(id)
			return
		}
	}
}

// unregister removes a subscriber, closes its queue and its connection.
// Safe to call more than once for the same id.
func (h *tickerHub) unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(sub.send)
	}
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

func (h *tickerHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
