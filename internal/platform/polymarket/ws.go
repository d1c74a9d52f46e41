package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbontempi/arbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// OnPriceUpdate receives one ask-side price observation per call.
type OnPriceUpdate func(PriceUpdate)

// WSClient is a single-use WebSocket connection to the Polymarket CLOB
// market channel. It reads book snapshots, price changes, and last trade
// prices and forwards them as PriceUpdates. The client does not reconnect;
// when the connection drops, Done is closed and the owner dials a fresh
// client.
type WSClient struct {
	wsURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	handler OnPriceUpdate

	done     chan struct{}
	doneOnce sync.Once
}

// NewWSClient creates a WebSocket client for the given endpoint.
//
// wsURL is the CLOB market channel, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// OnPriceUpdate sets the handler invoked from the read loop for every price
// observation. Set it before Connect.
func (w *WSClient) OnPriceUpdate(handler OnPriceUpdate) {
	w.handler = handler
}

// Done is closed once the connection is gone, whether by Close or by a read
// failure.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return fmt.Errorf("polymarket/ws: already connected")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe asks the market channel for updates on the given outcome tokens.
// Each call sends the full set; callers resubscribe with the complete token
// list when it grows.
func (w *WSClient) Subscribe(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := wsCommand{Type: "market", Assets: assetIDs}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = w.conn.Close()
	}

	w.doneOnce.Do(func() { close(w.done) })
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages until the connection fails, then closes done.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		w.doneOnce.Do(func() { close(w.done) })
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and emits price updates. The
// market channel batches events into JSON arrays; single objects are handled
// too.
func (w *WSClient) handleMessage(raw []byte) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return
		}
		for _, evt := range events {
			w.handleEvent(evt)
		}
		return
	}

	w.handleEvent(trimmed)
}

func (w *WSClient) handleEvent(raw []byte) {
	var envelope struct {
		Event string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Event {
	case "book":
		var book wsBookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		// The best ask is what a buy would pay.
		best := 0.0
		for _, level := range book.Asks {
			price, err := strconv.ParseFloat(level.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			if best == 0 || price < best {
				best = price
			}
		}
		if best > 0 {
			w.emit(book.AssetID, best)
		}

	case "price_change":
		var pc wsPriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		// Only ask-side changes matter; buys execute against sellers.
		if pc.Side != "SELL" {
			return
		}
		price, err := strconv.ParseFloat(pc.Price, 64)
		if err != nil {
			return
		}
		w.emit(pc.AssetID, price)

	case "last_trade_price":
		var ltp wsLastTradeMessage
		if err := json.Unmarshal(raw, &ltp); err != nil {
			return
		}
		price, err := strconv.ParseFloat(ltp.Price, 64)
		if err != nil {
			return
		}
		w.emit(ltp.AssetID, price)
	}
}

func (w *WSClient) emit(tokenID string, price float64) {
	if w.handler == nil || tokenID == "" {
		return
	}
	w.handler(PriceUpdate{
		TokenID: tokenID,
		Price:   price,
		At:      time.Now().UTC(),
	})
}
