// Package relay publishes completed candles and market lifecycle events on
// Redis pub/sub channels so API websocket bridges and other processes can
// follow a market without holding a reference to its pipeline.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/config"
	"github.com/ildaroit/algo-trading-server/internal/market"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

// Publisher is a best-effort pub/sub bridge. Publishing never blocks the
// pipeline: callers dispatch with a bounded context and log failures.
type Publisher struct {
	client  *redis.Client
	timeout time.Duration
	log     *zap.Logger
}

// Publisher implements market.EventPublisher.
var _ market.EventPublisher = (*Publisher)(nil)

// candleMessage is the wire shape published on the candles channel.
type candleMessage struct {
	ID       string        `json:"id"`
	Exchange string        `json:"exchange"`
	Symbol   string        `json:"symbol"`
	Candle   market.Candle `json:"candle"`
}

// eventMessage is the wire shape published on the events channel.
type eventMessage struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Error    string    `json:"error,omitempty"`
}

// NewPublisher connects to Redis and verifies the connection with a ping.
func NewPublisher(cfg config.RedisConfig, log *zap.Logger) (*Publisher, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("event relay connected to redis",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB))

	return &Publisher{client: client, timeout: cfg.PublishTimeout, log: log}, nil
}

// CandleChannel names the pub/sub channel carrying completed candles of one market.
func CandleChannel(exchange, symbol string) string {
	return fmt.Sprintf("market:%s:%s:candles", exchange, symbol)
}

// EventChannel names the pub/sub channel carrying lifecycle events of one market.
func EventChannel(exchange, symbol string) string {
	return fmt.Sprintf("market:%s:%s:events", exchange, symbol)
}

func (p *Publisher) PublishCandle(ctx context.Context, exchange, symbol string, c market.Candle) error {
	payload, err := json.Marshal(candleMessage{
		ID:       uuid.NewString(),
		Exchange: exchange,
		Symbol:   symbol,
		Candle:   c,
	})
	if err != nil {
		return fmt.Errorf("encode candle message: %w", err)
	}
	return p.publish(ctx, CandleChannel(exchange, symbol), payload)
}

func (p *Publisher) PublishEvent(ctx context.Context, ev market.Event) error {
	msg := eventMessage{
		ID:       uuid.NewString(),
		Type:     string(ev.Type),
		Exchange: ev.Exchange,
		Symbol:   ev.Symbol,
		Time:     ev.Time,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event message: %w", err)
	}
	return p.publish(ctx, EventChannel(ev.Exchange, ev.Symbol), payload)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
