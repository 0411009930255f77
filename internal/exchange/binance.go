// Package exchange implements venue adapters for the market data pipeline.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/config"
	"github.com/ildaroit/algo-trading-server/internal/market"
)

const (
	defaultWSURL            = "wss://stream.binance.com:9443"
	defaultRESTURL          = "https://api.binance.com"
	defaultHandshakeTimeout = 10 * time.Second
	defaultRESTTimeout      = 10 * time.Second

	streamBuffer = 256
)

// Binance streams individual trade executions over the combined-stream
// websocket endpoint. It implements market.Exchange: each StreamTrades call
// is a single connection attempt and reconnecting is the provider's job.
type Binance struct {
	cfg      config.BinanceConfig
	validate *validator.Validate
	log      *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// streamMsg is the combined-stream wrapper: the trade payload is nested
// under data, keyed by the stream name.
type streamMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeMsg is Binance's trade event. Numeric values arrive as strings to
// preserve precision.
type tradeMsg struct {
	Symbol   string `json:"s" validate:"required"`
	TradeID  int64  `json:"t" validate:"required,gt=0"`
	Price    string `json:"p" validate:"required,numeric"`
	Quantity string `json:"q" validate:"required,numeric"`
	Time     int64  `json:"T" validate:"required,gt=0"`
}

func NewBinance(cfg config.BinanceConfig, log *zap.Logger) *Binance {
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.RESTURL == "" {
		cfg.RESTURL = defaultRESTURL
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.RESTTimeout == 0 {
		cfg.RESTTimeout = defaultRESTTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Binance{
		cfg:      cfg,
		validate: validator.New(),
		log:      log.With(zap.String("exchange", "binance")),
	}
}

func (b *Binance) Name() string {
	return "binance"
}

// StreamTrades connects to the trade stream for one symbol and delivers
// batches until the connection drops, at which point the returned channel is
// closed. Malformed payloads are dropped with a warning.
func (b *Binance) StreamTrades(ctx context.Context, symbol string) (<-chan []market.Trade, error) {
	endpoint := fmt.Sprintf("%s/stream?streams=%s@trade", b.cfg.WSURL, streamName(symbol))

	dialer := websocket.Dialer{HandshakeTimeout: b.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	b.log.Info("websocket connected", zap.String("url", endpoint))

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	out := make(chan []market.Trade, streamBuffer)
	go b.readLoop(ctx, conn, out)
	return out, nil
}

func (b *Binance) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- []market.Trade) {
	defer close(out)
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		trade, ok := b.parseTrade(msg)
		if !ok {
			continue
		}
		select {
		case out <- []market.Trade{trade}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Binance) parseTrade(msg []byte) (market.Trade, bool) {
	var wrapper streamMsg
	if err := json.Unmarshal(msg, &wrapper); err != nil || len(wrapper.Data) == 0 {
		b.log.Warn("unparseable stream message", zap.Error(err))
		return market.Trade{}, false
	}
	if !strings.HasSuffix(wrapper.Stream, "@trade") {
		return market.Trade{}, false // subscription acks etc.
	}

	var t tradeMsg
	if err := json.Unmarshal(wrapper.Data, &t); err != nil {
		b.log.Warn("unparseable trade payload", zap.Error(err))
		return market.Trade{}, false
	}
	if err := b.validate.Struct(&t); err != nil {
		b.log.Warn("trade payload failed validation", zap.Error(err))
		return market.Trade{}, false
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		b.log.Warn("invalid trade price", zap.String("price", t.Price), zap.Error(err))
		return market.Trade{}, false
	}
	amount, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		b.log.Warn("invalid trade quantity", zap.String("quantity", t.Quantity), zap.Error(err))
		return market.Trade{}, false
	}

	return market.Trade{
		ID:     strconv.FormatInt(t.TradeID, 10),
		Price:  price,
		Amount: amount,
		Time:   time.UnixMilli(t.Time).UTC(),
	}, true
}

// Close terminates the current connection, if any. The read loop then closes
// its stream channel.
func (b *Binance) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// streamName converts a "BTC-USDT" style symbol to Binance's lowercase
// stream form "btcusdt".
func streamName(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "-", ""))
}
