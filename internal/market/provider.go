package market

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultBatchBuffer = 256
)

// ProviderConfig tunes the reconnect behaviour of a Provider.
type ProviderConfig struct {
	// MaxRetries is the number of consecutive failed connection attempts
	// before the provider gives up and reports market-error. Zero retries
	// forever.
	MaxRetries int

	// BaseBackoff is the delay after the first failed attempt; it doubles
	// per attempt up to MaxBackoff, with jitter.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// BatchBuffer is the capacity of the trade batch channel.
	BatchBuffer int
}

func (c *ProviderConfig) applyDefaults() {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.BatchBuffer <= 0 {
		c.BatchBuffer = defaultBatchBuffer
	}
}

// Provider owns the live subscription to one venue for one symbol. It
// reconnects on drops with exponential backoff and reports everything that
// happens as lifecycle events; Start never fails to the caller.
//
// Trade batches and events are delivered on channels that close when the
// provider stops. A single run goroutine feeds both, so batch order is
// preserved end to end.
type Provider struct {
	exchange Exchange
	symbol   string
	cfg      ProviderConfig
	log      *zap.Logger

	batches chan []Trade
	events  chan Event

	status  atomic.Int32
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewProvider(exchange Exchange, symbol string, cfg ProviderConfig, log *zap.Logger) *Provider {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		exchange: exchange,
		symbol:   symbol,
		cfg:      cfg,
		log:      log.With(zap.String("exchange", exchange.Name()), zap.String("symbol", symbol)),
		batches:  make(chan []Trade, cfg.BatchBuffer),
		events:   make(chan Event, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins connecting in the background. It is non-blocking and
// idempotent; connection failures surface only as lifecycle events.
func (p *Provider) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.run()
}

// Stop closes the venue connection and releases the provider's resources.
// The batch and event channels are closed once the run loop exits.
func (p *Provider) Stop() {
	p.cancel()
	if err := p.exchange.Close(); err != nil {
		p.log.Warn("error closing exchange connection", zap.Error(err))
	}
	if p.started.CompareAndSwap(false, true) {
		// never started; claim the flag so a late Start is a no-op
		close(p.batches)
		close(p.events)
		return
	}
	p.wg.Wait()
}

// Batches delivers trade batches in arrival order.
func (p *Provider) Batches() <-chan []Trade {
	return p.batches
}

// Events delivers lifecycle events (market-start, market-update, market-error).
func (p *Provider) Events() <-chan Event {
	return p.events
}

// Status reports the current connection state.
func (p *Provider) Status() Status {
	return Status(p.status.Load())
}

func (p *Provider) run() {
	defer p.wg.Done()
	defer close(p.batches)
	defer close(p.events)
	defer p.setStatus(StatusDisconnected)

	everReceived := false
	attempts := 0

	for {
		if p.ctx.Err() != nil {
			return
		}
		if everReceived {
			p.setStatus(StatusReconnecting)
		} else {
			p.setStatus(StatusConnecting)
		}

		stream, err := p.exchange.StreamTrades(p.ctx, p.symbol)
		if err != nil {
			attempts++
			p.log.Warn("connection attempt failed",
				zap.Int("attempt", attempts), zap.Error(err))
			if p.cfg.MaxRetries > 0 && attempts >= p.cfg.MaxRetries {
				p.setStatus(StatusDisconnected)
				p.emit(Event{Type: EventMarketError, Err: err})
				p.log.Error("reconnect budget exhausted, giving up", zap.Error(err))
				return
			}
			if !p.sleep(p.backoff(attempts)) {
				return
			}
			continue
		}

		p.setStatus(StatusConnected)
		attempts = 0
		firstBatch := true

		for batch := range stream {
			if len(batch) == 0 {
				continue
			}
			if firstBatch {
				firstBatch = false
				if !everReceived {
					everReceived = true
					p.emit(Event{Type: EventMarketStart})
					p.log.Info("market started")
				} else {
					p.emit(Event{Type: EventMarketUpdate})
					p.log.Info("market resumed after reconnect")
				}
			}
			select {
			case p.batches <- batch:
			case <-p.ctx.Done():
				return
			}
		}

		// stream closed: the connection dropped
		if p.ctx.Err() != nil {
			return
		}
		p.log.Warn("market data stream dropped, reconnecting")
		attempts++
		if !p.sleep(p.backoff(attempts)) {
			return
		}
	}
}

// backoff doubles the base delay per attempt up to the cap and spreads
// attempts with +/-20% jitter to avoid reconnect stampedes against the venue.
func (p *Provider) backoff(attempt int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempt && d < p.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.cfg.MaxBackoff {
		d = p.cfg.MaxBackoff
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func (p *Provider) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Provider) emit(ev Event) {
	ev.Exchange = p.exchange.Name()
	ev.Symbol = p.symbol
	ev.Time = time.Now().UTC()
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event channel full, dropping lifecycle event",
			zap.String("type", string(ev.Type)))
	}
}

func (p *Provider) setStatus(s Status) {
	p.status.Store(int32(s))
}
