package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Streaming parameters kept at the teacher's tuned values
// (internal/exchange/ws.go): a 50s ping keeps most load balancers'
// idle timeouts from firing, and a 90s read deadline tolerates at
// least one missed ping before declaring the connection dead.
const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsBookBufferSize   = 256
	wsTradeBufferSize  = 64
)

// wireEnvelope peeks at a venue message's type tag before deciding how
// to unmarshal the rest of it, the generalized form of the teacher's
// event_type dispatch in dispatchMessage.
type wireEnvelope struct {
	EventType string `json:"event_type"`
}

type wireBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireBookEvent struct {
	EventType    string          `json:"event_type"`
	InstrumentID string          `json:"instrument_id"`
	Bids         []wireBookLevel `json:"bids"`
	Asks         []wireBookLevel `json:"asks"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    int64           `json:"timestamp"`
}

type wirePriceChangeEvent struct {
	EventType    string `json:"event_type"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Sequence     uint64 `json:"sequence"`
	Timestamp    int64  `json:"timestamp"`
}

type wireTradeEvent struct {
	EventType    string `json:"event_type"`
	InstrumentID string `json:"instrument_id"`
	TradeID      string `json:"trade_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Timestamp    int64  `json:"timestamp"`
}

type wireOrderEvent struct {
	EventType    string `json:"event_type"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Timestamp    int64  `json:"timestamp"`
}

// WSFeed streams real-time book deltas, trades, and order updates from
// a venue, generalizing the teacher's WSFeed (internal/exchange/ws.go)
// from a hardcoded market/user channel pair on Polymarket's CLOB
// wire format into a venue-agnostic feed that emits pkg/model types
// directly, ready to hand to internal/data.Engine.OnBookDelta/OnTrade.
type WSFeed struct {
	url         string
	auth        AuthProvider // nil for a public market-data-only feed
	channelType string       // "market" or "user"

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	deltaCh chan model.OrderBookDelta
	tradeCh chan model.TradeTick
	orderCh chan wireOrderEvent

	logger *slog.Logger
}

// NewMarketFeed creates a public feed for book/trade data.
func NewMarketFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return newFeed(wsURL, nil, "market", logger)
}

// NewUserFeed creates an authenticated feed for order lifecycle events.
func NewUserFeed(wsURL string, auth AuthProvider, logger *slog.Logger) *WSFeed {
	return newFeed(wsURL, auth, "user", logger)
}

func newFeed(wsURL string, auth AuthProvider, channelType string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:         wsURL,
		auth:        auth,
		channelType: channelType,
		subscribed:  make(map[string]bool),
		deltaCh:     make(chan model.OrderBookDelta, wsBookBufferSize),
		tradeCh:     make(chan model.TradeTick, wsTradeBufferSize),
		orderCh:     make(chan wireOrderEvent, wsTradeBufferSize),
		logger:      logger.With("component", "adapters.ws", "channel", channelType),
	}
}

// BookDeltas returns a read-only channel of book deltas.
func (f *WSFeed) BookDeltas() <-chan model.OrderBookDelta { return f.deltaCh }

// Trades returns a read-only channel of trade ticks.
func (f *WSFeed) Trades() <-chan model.TradeTick { return f.tradeCh }

// Run connects and maintains the connection with exponential-backoff
// reconnect, mirroring the teacher's Run loop verbatim in structure.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Subscribe registers interest in an instrument's stream.
func (f *WSFeed) Subscribe(instrumentIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range instrumentIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()
	return f.writeJSON(map[string]interface{}{
		"operation":      "subscribe",
		"instrument_ids": instrumentIDs,
	})
}

// Close closes the underlying connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	msg := map[string]interface{}{
		"type":           f.channelType,
		"instrument_ids": ids,
	}
	if f.channelType == "user" && f.auth != nil {
		msg["auth"] = f.auth.WSAuthPayload()
	}
	return f.writeJSON(msg)
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope wireEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}

	switch envelope.EventType {
	case "book":
		f.dispatchBook(data)
	case "price_change":
		f.dispatchPriceChange(data)
	case "trade":
		f.dispatchTrade(data)
	case "order":
		f.dispatchOrder(data)
	default:
		f.logger.Debug("unhandled ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) dispatchBook(data []byte) {
	var evt wireBookEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Error("unmarshal book event", "error", err)
		return
	}
	instID, err := model.ParseInstrumentID(evt.InstrumentID)
	if err != nil {
		return
	}
	ts := time.Unix(0, evt.Timestamp*int64(time.Millisecond))
	send := func(d model.OrderBookDelta) {
		select {
		case f.deltaCh <- d:
		default:
			f.logger.Warn("book channel full, dropping delta")
		}
	}
	send(model.OrderBookDelta{InstrumentID: instID, Action: model.BookActionClear, Sequence: evt.Sequence, Timestamp: ts})
	for _, lvl := range evt.Bids {
		send(bookLevelDelta(instID, model.OrderSideBuy, lvl, evt.Sequence, ts))
	}
	for _, lvl := range evt.Asks {
		send(bookLevelDelta(instID, model.OrderSideSell, lvl, evt.Sequence, ts))
	}
}

func bookLevelDelta(instID model.InstrumentID, side model.OrderSide, lvl wireBookLevel, seq uint64, ts time.Time) model.OrderBookDelta {
	price, _ := model.ParsePrice(lvl.Price)
	size, _ := model.ParseQuantity(lvl.Size)
	return model.OrderBookDelta{
		InstrumentID: instID,
		Action:       model.BookActionUpdate,
		Order:        model.BookOrder{Side: side, Price: price, Size: size},
		Sequence:     seq,
		Timestamp:    ts,
	}
}

func (f *WSFeed) dispatchPriceChange(data []byte) {
	var evt wirePriceChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Error("unmarshal price_change event", "error", err)
		return
	}
	instID, err := model.ParseInstrumentID(evt.InstrumentID)
	if err != nil {
		return
	}
	price, _ := model.ParsePrice(evt.Price)
	size, _ := model.ParseQuantity(evt.Size)
	side := model.OrderSideBuy
	if evt.Side == string(model.OrderSideSell) {
		side = model.OrderSideSell
	}
	delta := model.OrderBookDelta{
		InstrumentID: instID,
		Action:       model.BookActionUpdate,
		Order:        model.BookOrder{Side: side, Price: price, Size: size},
		Sequence:     evt.Sequence,
		Timestamp:    time.Unix(0, evt.Timestamp*int64(time.Millisecond)),
	}
	select {
	case f.deltaCh <- delta:
	default:
		f.logger.Warn("book channel full, dropping delta")
	}
}

func (f *WSFeed) dispatchTrade(data []byte) {
	var evt wireTradeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Error("unmarshal trade event", "error", err)
		return
	}
	instID, err := model.ParseInstrumentID(evt.InstrumentID)
	if err != nil {
		return
	}
	price, _ := model.ParsePrice(evt.Price)
	size, _ := model.ParseQuantity(evt.Size)
	aggressor := model.AggressorBuyer
	if evt.Side == string(model.OrderSideSell) {
		aggressor = model.AggressorSeller
	}
	trade := model.TradeTick{
		InstrumentID: instID,
		Price:        price,
		Size:         size,
		Aggressor:    aggressor,
		TradeID:      model.TradeID(evt.TradeID),
		Timestamp:    time.Unix(0, evt.Timestamp*int64(time.Millisecond)),
	}
	select {
	case f.tradeCh <- trade:
	default:
		f.logger.Warn("trade channel full, dropping trade", "trade_id", evt.TradeID)
	}
}

func (f *WSFeed) dispatchOrder(data []byte) {
	var evt wireOrderEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Error("unmarshal order event", "error", err)
		return
	}
	select {
	case f.orderCh <- evt:
	default:
		f.logger.Warn("order channel full, dropping event", "order_id", evt.OrderID)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("adapters: websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("adapters: websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
