package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ildaroit/algo-trading-server/internal/market"
	"github.com/ildaroit/algo-trading-server/pkg/storage"
)

// scriptedExchange delivers pre-programmed batches on its first connection
// and then holds the connection open.
type scriptedExchange struct {
	batches [][]market.Trade
	release chan struct{} // closed by Close
	once    sync.Once
}

func newScriptedExchange(batches ...[]market.Trade) *scriptedExchange {
	return &scriptedExchange{batches: batches, release: make(chan struct{})}
}

func (s *scriptedExchange) Name() string { return "fake" }

func (s *scriptedExchange) StreamTrades(ctx context.Context, _ string) (<-chan []market.Trade, error) {
	out := make(chan []market.Trade, len(s.batches))
	go func() {
		defer close(out)
		for _, b := range s.batches {
			out <- b
		}
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (s *scriptedExchange) Close() error {
	s.once.Do(func() { close(s.release) })
	return nil
}

// recordingSink remembers every candle it received and can be told to fail.
type recordingSink struct {
	name string
	fail error

	mu      sync.Mutex
	candles []market.Candle
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) ProcessCandle(_, _ string, c market.Candle) error {
	r.mu.Lock()
	r.candles = append(r.candles, c)
	r.mu.Unlock()
	return r.fail
}

func (r *recordingSink) received() []market.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.Candle, len(r.candles))
	copy(out, r.candles)
	return out
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func tradeAt(id string, price float64, offset time.Duration) market.Trade {
	return market.Trade{
		ID:     id,
		Price:  decimal.NewFromFloat(price),
		Amount: decimal.NewFromInt(1),
		Time:   base.Add(offset),
	}
}

func readCandle(t *testing.T, ch <-chan []byte) market.Candle {
	t.Helper()
	select {
	case raw, ok := <-ch:
		require.True(t, ok, "output stream closed unexpectedly")
		var c market.Candle
		require.NoError(t, json.Unmarshal(raw, &c))
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a candle on the output stream")
		return market.Candle{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestPipeline(ex market.Exchange, store storage.Store) *Pipeline {
	return New(ex, "BTC-USDT", Config{Interval: time.Minute}, store, nil, nil)
}

func TestPipelineStreamsCompletedCandles(t *testing.T) {
	ex := newScriptedExchange(
		[]market.Trade{tradeAt("1", 100, 0), tradeAt("2", 102, 30*time.Second)},
		[]market.Trade{tradeAt("3", 101, 65*time.Second)},
	)
	p := newTestPipeline(ex, nil)
	p.Start()
	defer p.Stop()

	c := readCandle(t, p.Candles())
	assert.True(t, c.Start.Equal(base))
	assert.Equal(t, "100", c.Open.String())
	assert.Equal(t, "102", c.Close.String())
	assert.Equal(t, int64(2), c.Trades)
}

func TestPipelinePersistsCandlesAndTrades(t *testing.T) {
	store := storage.NewMemoryStore()
	ex := newScriptedExchange(
		[]market.Trade{tradeAt("1", 100, 0)},
		[]market.Trade{tradeAt("2", 101, 61*time.Second)},
	)
	p := newTestPipeline(ex, store)
	p.Start()
	defer p.Stop()

	readCandle(t, p.Candles())

	eventually(t, func() bool { return len(store.Candles()) == 1 },
		"candle was never persisted")
	eventually(t, func() bool { return len(store.Trades()) == 2 },
		"trades were never persisted")

	c := store.Candles()[0]
	assert.Equal(t, "fake", c.Exchange)
	assert.Equal(t, "BTC-USDT", c.Symbol)
	assert.True(t, c.Start.Equal(base))
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, int64(1), c.TradeCount)

	tr := store.Trades()[0]
	assert.Equal(t, "1", tr.TradeID)
	assert.Equal(t, 100.0, tr.Price)
}

func TestPipelineIsolatesFailingSink(t *testing.T) {
	ex := newScriptedExchange(
		[]market.Trade{tradeAt("1", 100, 0)},
		[]market.Trade{tradeAt("2", 101, 61*time.Second)},
	)
	p := newTestPipeline(ex, nil)

	broken := &recordingSink{name: "broken", fail: errors.New("sink down")}
	healthy := &recordingSink{name: "healthy"}
	p.AddSink(broken)
	p.AddSink(healthy)

	p.Start()
	defer p.Stop()

	readCandle(t, p.Candles())
	eventually(t, func() bool { return len(healthy.received()) == 1 },
		"failing sink blocked delivery to the healthy one")
	assert.Len(t, broken.received(), 1)
}

func TestPipelineRelaysMarketEvents(t *testing.T) {
	ex := newScriptedExchange([]market.Trade{tradeAt("1", 100, 0)})
	p := newTestPipeline(ex, nil)

	var mu sync.Mutex
	var types []market.EventType
	p.OnEvent(func(ev market.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	p.Start()
	defer p.Stop()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) >= 3
	}, "expected trades, trade and market-start events")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, market.EventTrades)
	assert.Contains(t, types, market.EventTrade)
	assert.Contains(t, types, market.EventMarketStart)
}

func TestPipelineIdleTimerClosesQuietBucket(t *testing.T) {
	// the idle timer compares against the wall clock, so use a live timestamp
	ex := newScriptedExchange([]market.Trade{{
		ID:     "1",
		Price:  decimal.NewFromInt(100),
		Amount: decimal.NewFromInt(1),
		Time:   time.Now().UTC(),
	}})
	p := New(ex, "BTC-USDT", Config{Interval: 50 * time.Millisecond}, nil, nil, nil)
	p.Start()
	defer p.Stop()

	// no second trade ever arrives; the timer must close the bucket
	c := readCandle(t, p.Candles())
	assert.Equal(t, "100", c.Close.String())
	assert.Equal(t, int64(1), c.Trades)
}

func TestPipelineStopDiscardsOpenCandle(t *testing.T) {
	ex := newScriptedExchange([]market.Trade{tradeAt("1", 100, 0)})
	p := newTestPipeline(ex, nil)

	var mu sync.Mutex
	seen := false
	p.OnEvent(func(ev market.Event) {
		if ev.Type == market.EventTrades {
			mu.Lock()
			seen = true
			mu.Unlock()
		}
	})

	p.Start()
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}, "batch never reached the pipeline")

	p.Stop()

	// the open bucket at base had not completed: nothing may be emitted
	for raw := range p.Candles() {
		t.Fatalf("unexpected candle on stream after stop: %s", raw)
	}
}

// droppingExchange delivers one batch per connection, dropping the link in
// between, and holds the final connection open.
type droppingExchange struct {
	mu          sync.Mutex
	connections [][]market.Trade
	calls       int
}

func (d *droppingExchange) Name() string { return "fake" }

func (d *droppingExchange) StreamTrades(ctx context.Context, _ string) (<-chan []market.Trade, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.mu.Unlock()

	out := make(chan []market.Trade, 1)
	go func() {
		defer close(out)
		if idx < len(d.connections) {
			out <- d.connections[idx]
		}
		if idx >= len(d.connections)-1 {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (d *droppingExchange) Close() error { return nil }

func TestPipelineKeepsAggregatorStateAcrossReconnect(t *testing.T) {
	// the socket drops after the first batch; once reconnected, the next
	// batch must complete the same candle, not a reset one
	ex := &droppingExchange{connections: [][]market.Trade{
		{tradeAt("1", 100, 0)},
		{tradeAt("2", 105, 30*time.Second)},
		{tradeAt("3", 101, 65*time.Second)},
	}}
	p := New(ex, "BTC-USDT", Config{
		Interval: time.Minute,
		Provider: market.ProviderConfig{
			BaseBackoff: time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
		},
	}, nil, nil, nil)
	p.Start()
	defer p.Stop()

	c := readCandle(t, p.Candles())
	assert.True(t, c.Start.Equal(base))
	assert.Equal(t, "100", c.Open.String())
	assert.Equal(t, "105", c.High.String())
	assert.Equal(t, int64(2), c.Trades, "reconnect must not reset the open candle")
}

func TestRegistryTracksOnePipelinePerMarket(t *testing.T) {
	reg := NewRegistry()
	p := newTestPipeline(newScriptedExchange(), nil)
	require.NoError(t, reg.Add(p))

	dup := newTestPipeline(newScriptedExchange(), nil)
	assert.Error(t, reg.Add(dup), "duplicate market registration must fail")

	got, ok := reg.Get("fake", "BTC-USDT")
	require.True(t, ok)
	assert.Same(t, p, got)

	reg.StopAll()
	assert.Empty(t, reg.All())
	_, ok = <-p.Candles()
	assert.False(t, ok, "stream must close when the registry stops the pipeline")
}
